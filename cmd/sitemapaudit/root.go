package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sitemapaudit/internal/checker"
	"sitemapaudit/internal/config"
	"sitemapaudit/internal/logger"
	"sitemapaudit/internal/sitemap"
)

// app carries the state shared by all commands once configuration is loaded.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     logger.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "sitemapaudit",
		Short:         "Resolve sitemaps and check the health of every URL they list",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default ./config.yaml if present)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Int("concurrency", checker.DefaultConcurrency, "maximum simultaneous URL probes")
	flags.Duration("timeout", checker.DefaultTimeout, "per-URL probe timeout")
	flags.Bool("follow-redirects", true, "follow redirects when probing")
	flags.Duration("rate-limit", 0, "minimum delay between probe dispatches")
	flags.Int("max-urls", 0, "probe at most this many URLs (0 = all)")
	flags.Duration("fetch-timeout", sitemap.DefaultTimeout, "timeout for each sitemap document fetch")

	root.AddCommand(newServeCommand(a), newAuditCommand(a), newDiscoverCommand(a))
	return root
}

var flagKeys = map[string]string{
	"log-level":        "log.level",
	"concurrency":      "probe.concurrency",
	"timeout":          "probe.timeout",
	"follow-redirects": "probe.follow_redirects",
	"rate-limit":       "probe.rate_limit",
	"max-urls":         "probe.max_urls",
	"fetch-timeout":    "http.timeout",
}

// load reads configuration and builds the logger. Flags that were set
// explicitly override the config file and environment.
func (a *app) load(cmd *cobra.Command) error {
	if err := config.Init(a.v, a.cfgFile); err != nil {
		return err
	}
	for flag, key := range flagKeys {
		if err := a.v.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind %s flag: %w", flag, err)
		}
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}

func (a *app) probeConfig() checker.ProbeConfig {
	return checker.ProbeConfig{
		Concurrency:     a.cfg.Probe.Concurrency,
		Timeout:         a.cfg.Probe.Timeout,
		FollowRedirects: a.cfg.Probe.FollowRedirects,
		RateLimit:       a.cfg.Probe.RateLimit,
		MaxURLs:         a.cfg.Probe.MaxURLs,
		UserAgent:       a.cfg.HTTP.UserAgent,
	}
}

func (a *app) httpConfig() sitemap.HTTPConfig {
	return sitemap.HTTPConfig{
		UserAgent:    a.cfg.HTTP.UserAgent,
		Timeout:      a.cfg.HTTP.Timeout,
		MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
	}
}
