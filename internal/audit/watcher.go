package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"sitemapaudit/internal/checker"
	"sitemapaudit/internal/logger"
)

// Watcher periodically re-audits a fixed set of sitemaps.
type Watcher struct {
	service  *Service
	sitemaps []string
	interval time.Duration
	cfg      checker.ProbeConfig
	logger   logger.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher creates a Watcher. It does nothing until Start is called.
func NewWatcher(svc *Service, sitemaps []string, interval time.Duration, cfg checker.ProbeConfig, log logger.Logger) *Watcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Watcher{
		service:  svc,
		sitemaps: append([]string(nil), sitemaps...),
		interval: interval,
		cfg:      cfg,
		logger:   log.With(logger.String("component", "watcher")),
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic audits, with an initial round on startup.
func (w *Watcher) Start() {
	w.logger.Info("starting sitemap watcher",
		logger.Duration("interval", w.interval),
		logger.Int("sitemaps", len(w.sitemaps)))
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.scheduleAudits()

		for {
			select {
			case <-ticker.C:
				w.scheduleAudits()
			case <-w.stopChan:
				w.logger.Info("stopping sitemap watcher")
				return
			}
		}
	}()
}

// Stop ends the schedule. Audits already started keep running until the
// service is closed.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
}

// scheduleAudits starts one audit per watched sitemap, skipping any that
// are still running from the previous round.
func (w *Watcher) scheduleAudits() {
	started := 0
	for _, u := range w.sitemaps {
		sess, err := w.service.Start(context.Background(), u, w.cfg)
		switch {
		case errors.Is(err, ErrRunInProgress):
			w.logger.Info("previous audit still running, skipping", logger.String("sitemap_url", u))
		case err != nil:
			w.logger.Error("failed to start audit", logger.String("sitemap_url", u), logger.Err(err))
		default:
			started++
			w.logger.Debug("audit scheduled", logger.String("sitemap_url", u), logger.String("run_id", sess.ID()))
		}
	}
	w.logger.Info("scheduled audits", logger.Int("started", started))
}
