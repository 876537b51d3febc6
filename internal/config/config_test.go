package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitemapaudit/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)

	cfg, err := config.Load(v)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownGrace)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, int64(50<<20), cfg.HTTP.MaxBodyBytes)
	assert.Equal(t, 5, cfg.Probe.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Probe.Timeout)
	assert.True(t, cfg.Probe.FollowRedirects)
	assert.Zero(t, cfg.Probe.RateLimit)
	assert.Zero(t, cfg.Probe.MaxURLs)
	assert.Equal(t, ":memory:", cfg.History.DSN)
	assert.Equal(t, 720*time.Hour, cfg.History.Retention)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Watch.Sitemaps)
	assert.Zero(t, cfg.Watch.Interval)
}

func TestInitReadsEnvironment(t *testing.T) {
	t.Setenv("SITEMAPAUDIT_PROBE_CONCURRENCY", "12")
	t.Setenv("SITEMAPAUDIT_PROBE_RATE_LIMIT", "250ms")
	t.Setenv("SITEMAPAUDIT_WATCH_SITEMAPS", "https://a.test/sitemap.xml, https://b.test/sitemap.xml")
	t.Setenv("SITEMAPAUDIT_WATCH_INTERVAL", "1h")

	v := viper.New()
	require.NoError(t, config.Init(v, ""))
	cfg, err := config.Load(v)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Probe.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Probe.RateLimit)
	assert.Equal(t, []string{"https://a.test/sitemap.xml", "https://b.test/sitemap.xml"}, cfg.Watch.Sitemaps)
	assert.Equal(t, time.Hour, cfg.Watch.Interval)
}

func TestInitReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.yaml")
	doc := `
server:
  port: "9090"
probe:
  concurrency: 3
  follow_redirects: false
watch:
  sitemaps:
    - https://example.com/sitemap.xml
  interval: 30m
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	v := viper.New()
	require.NoError(t, config.Init(v, path))
	cfg, err := config.Load(v)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 3, cfg.Probe.Concurrency)
	assert.False(t, cfg.Probe.FollowRedirects)
	assert.Equal(t, []string{"https://example.com/sitemap.xml"}, cfg.Watch.Sitemaps)
	assert.Equal(t, 30*time.Minute, cfg.Watch.Interval)
}

func TestInitMissingExplicitConfigFile(t *testing.T) {
	v := viper.New()
	err := config.Init(v, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"zero concurrency", "probe.concurrency", 0},
		{"negative timeout", "probe.timeout", -time.Second},
		{"zero http timeout", "http.timeout", time.Duration(0)},
		{"empty port", "server.port", ""},
		{"zero retention", "history.retention", time.Duration(0)},
		{"watch without sitemaps", "watch.interval", time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			config.SetDefaults(v)
			v.Set(tt.key, tt.val)

			_, err := config.Load(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}
