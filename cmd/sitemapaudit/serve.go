package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sitemapaudit/internal/api"
	"sitemapaudit/internal/audit"
	"sitemapaudit/internal/logger"
	"sitemapaudit/internal/metrics"
	"sitemapaudit/internal/sitemap"
	"sitemapaudit/internal/storage/sqlite"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the audit HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	a.log.Info("initializing history store", logger.String("dsn", cfg.History.DSN))
	store, err := sqlite.New(ctx, cfg.History.DSN)
	if err != nil {
		return fmt.Errorf("failed to initialize history store: %w", err)
	}
	defer store.Close()

	resolver := sitemap.NewResolver(a.httpConfig(), sitemap.WithLogger(a.log), sitemap.WithMetrics(m))
	svc := audit.NewService(resolver,
		audit.WithHistory(store, cfg.History.Retention),
		audit.WithLogger(a.log),
		audit.WithMetrics(m),
	)

	var watcher *audit.Watcher
	if cfg.Watch.Interval > 0 {
		watcher = audit.NewWatcher(svc, cfg.Watch.Sitemaps, cfg.Watch.Interval, a.probeConfig(), a.log)
	}

	handlers := api.NewHandlers(svc, a.probeConfig(), a.log)
	server := api.NewServer(cfg.Server.Port, api.NewRouter(handlers, reg), a.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Serve)
	if watcher != nil {
		watcher.Start()
	}
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutdown signal received, starting graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownGrace)
		defer cancel()

		if watcher != nil {
			watcher.Stop()
		}
		err := server.Shutdown(shutdownCtx)
		svc.Close()
		if err != nil {
			return fmt.Errorf("http server shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.log.Info("application shut down gracefully")
	return nil
}
