// Package config loads application configuration from defaults, an optional
// YAML file, a .env file and SITEMAPAUDIT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. SITEMAPAUDIT_PROBE_CONCURRENCY.
const EnvPrefix = "SITEMAPAUDIT"

// Config holds the application's configuration values.
type Config struct {
	Server  ServerConfig
	HTTP    HTTPConfig
	Probe   ProbeConfig
	History HistoryConfig
	Log     LogConfig
	Watch   WatchConfig
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port          string
	ShutdownGrace time.Duration
}

// HTTPConfig configures sitemap document fetches.
type HTTPConfig struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// ProbeConfig holds the default probe settings for audits.
type ProbeConfig struct {
	Concurrency     int
	Timeout         time.Duration
	FollowRedirects bool
	RateLimit       time.Duration
	MaxURLs         int
}

// HistoryConfig configures the audit history store.
type HistoryConfig struct {
	DSN       string
	Retention time.Duration
}

// LogConfig configures logging.
type LogConfig struct {
	Level       string
	Development bool
}

// WatchConfig lists sitemaps re-audited on a schedule. A zero Interval disables watching.
type WatchConfig struct {
	Sitemaps []string
	Interval time.Duration
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_grace", 10*time.Second)

	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; SitemapAudit/1.0)")
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.max_body_bytes", int64(50<<20))

	v.SetDefault("probe.concurrency", 5)
	v.SetDefault("probe.timeout", 10*time.Second)
	v.SetDefault("probe.follow_redirects", true)
	v.SetDefault("probe.rate_limit", time.Duration(0))
	v.SetDefault("probe.max_urls", 0)

	v.SetDefault("history.dsn", ":memory:")
	v.SetDefault("history.retention", 30*24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("watch.sitemaps", []string{})
	v.SetDefault("watch.interval", time.Duration(0))
}

// Init prepares v to read configuration: defaults, environment binding and,
// when configFile is set or ./config.yaml exists, the config file. A missing
// .env file is not an error.
func Init(v *viper.Viper, configFile string) error {
	_ = godotenv.Load()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// Load builds a validated Config from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:          v.GetString("server.port"),
			ShutdownGrace: v.GetDuration("server.shutdown_grace"),
		},
		HTTP: HTTPConfig{
			UserAgent:    v.GetString("http.user_agent"),
			Timeout:      v.GetDuration("http.timeout"),
			MaxBodyBytes: v.GetInt64("http.max_body_bytes"),
		},
		Probe: ProbeConfig{
			Concurrency:     v.GetInt("probe.concurrency"),
			Timeout:         v.GetDuration("probe.timeout"),
			FollowRedirects: v.GetBool("probe.follow_redirects"),
			RateLimit:       v.GetDuration("probe.rate_limit"),
			MaxURLs:         v.GetInt("probe.max_urls"),
		},
		History: HistoryConfig{
			DSN:       v.GetString("history.dsn"),
			Retention: v.GetDuration("history.retention"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
		Watch: WatchConfig{
			Sitemaps: splitList(v.GetStringSlice("watch.sitemaps")),
			Interval: v.GetDuration("watch.interval"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the application cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port must be set"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("http.timeout must be positive, got %s", c.HTTP.Timeout))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("http.max_body_bytes must be positive, got %d", c.HTTP.MaxBodyBytes))
	}
	if c.Probe.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("probe.concurrency must be at least 1, got %d", c.Probe.Concurrency))
	}
	if c.Probe.Timeout < 0 || c.Probe.RateLimit < 0 || c.Probe.MaxURLs < 0 {
		errs = append(errs, errors.New("probe.timeout, probe.rate_limit and probe.max_urls must not be negative"))
	}
	if c.History.Retention <= 0 {
		errs = append(errs, fmt.Errorf("history.retention must be positive, got %s", c.History.Retention))
	}
	if c.Watch.Interval < 0 {
		errs = append(errs, fmt.Errorf("watch.interval must not be negative, got %s", c.Watch.Interval))
	}
	if c.Watch.Interval > 0 && len(c.Watch.Sitemaps) == 0 {
		errs = append(errs, errors.New("watch.interval is set but watch.sitemaps is empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// splitList accepts both YAML lists and comma-separated environment values.
func splitList(items []string) []string {
	out := []string{}
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
