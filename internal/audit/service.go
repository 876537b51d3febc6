package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"sitemapaudit/internal/checker"
	"sitemapaudit/internal/logger"
	"sitemapaudit/internal/metrics"
	"sitemapaudit/internal/models"
	"sitemapaudit/internal/report"
	"sitemapaudit/internal/sitemap"
	"sitemapaudit/internal/storage"
	"sitemapaudit/internal/urlutil"
)

var (
	// ErrRunInProgress is returned when a sitemap already has a running audit.
	ErrRunInProgress = errors.New("an audit is already running for this sitemap")
	// ErrRunNotFound is returned for an unknown run ID.
	ErrRunNotFound = errors.New("audit run not found")
)

const (
	// DefaultRetention is how long history entries are kept.
	DefaultRetention = 30 * 24 * time.Hour
	// DefaultMaxSessions is how many sessions are kept in memory.
	DefaultMaxSessions = 200

	// idleConnsPerHost bounds the keep-alive pool shared by all runs.
	idleConnsPerHost = 16
)

// Service starts and tracks audit runs.
type Service struct {
	resolver    *sitemap.Resolver
	history     storage.HistoryStore
	retention   time.Duration
	maxSessions int
	proberOpts  []checker.Option
	transport   *http.Transport
	logger      logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
	running  map[string]string
	wg       sync.WaitGroup
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithHistory records every completed run in store.
func WithHistory(store storage.HistoryStore, retention time.Duration) ServiceOption {
	return func(s *Service) {
		s.history = store
		if retention > 0 {
			s.retention = retention
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l logger.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records run counts on m.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithProberOptions passes options to every Prober the service builds.
func WithProberOptions(opts ...checker.Option) ServiceOption {
	return func(s *Service) { s.proberOpts = append(s.proberOpts, opts...) }
}

// WithClock overrides the service clock.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxSessions bounds the number of sessions kept in memory.
func WithMaxSessions(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// NewService creates a Service that resolves sitemaps with resolver.
func NewService(resolver *sitemap.Resolver, opts ...ServiceOption) *Service {
	s := &Service{
		resolver:    resolver,
		retention:   DefaultRetention,
		maxSessions: DefaultMaxSessions,
		transport:   checker.NewTransport(idleConnsPerHost),
		logger:      logger.NewNop(),
		now:         time.Now,
		sessions:    make(map[string]*Session),
		running:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.String("component", "audit_service"))
	return s
}

// Resolver returns the resolver the service uses.
func (s *Service) Resolver() *sitemap.Resolver { return s.resolver }

// Start begins an audit in the background and returns its session. The run
// outlives ctx; use Cancel to stop it.
func (s *Service) Start(ctx context.Context, sitemapURL string, cfg checker.ProbeConfig) (*Session, error) {
	prober, err := s.newProber(cfg)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess, err := s.register(sitemapURL, prober.Config(), cancel)
	if err != nil {
		cancel()
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		_ = s.execute(runCtx, sess, prober)
	}()
	return sess, nil
}

// Run performs an audit synchronously. The returned error is non-nil when
// the configuration is invalid, a run is already in progress, or the root
// sitemap could not be loaded; in the last case the snapshot is still returned.
func (s *Service) Run(ctx context.Context, sitemapURL string, cfg checker.ProbeConfig) (Snapshot, error) {
	prober, err := s.newProber(cfg)
	if err != nil {
		return Snapshot{}, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sess, err := s.register(sitemapURL, prober.Config(), cancel)
	if err != nil {
		return Snapshot{}, err
	}
	err = s.execute(runCtx, sess, prober)
	return sess.Snapshot(true), err
}

// Get returns the session with the given ID.
func (s *Service) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return sess, nil
}

// List returns snapshots of all known sessions, oldest first, without results.
func (s *Service) List() []Snapshot {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.order))
	for _, id := range s.order {
		sessions = append(sessions, s.sessions[id])
	}
	s.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Snapshot(false))
	}
	return out
}

// Cancel stops a running audit.
func (s *Service) Cancel(id string) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	sess.Cancel()
	return nil
}

// Wait blocks until the run completes or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) (Snapshot, error) {
	sess, err := s.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case <-sess.Finished():
		return sess.Snapshot(true), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// History lists recorded runs since the given time, oldest first.
func (s *Service) History(ctx context.Context, since time.Time, sitemapURL string) ([]models.HistoryEntry, error) {
	if s.history == nil {
		return []models.HistoryEntry{}, nil
	}
	params := storage.ListHistoryParams{SitemapURL: sitemapURL}
	if !since.IsZero() {
		params.Since = &since
	}
	return s.history.ListHistory(ctx, params)
}

// Close cancels all running audits, waits for them to finish and releases
// the connections kept alive between runs.
func (s *Service) Close() {
	s.mu.RLock()
	for _, id := range s.running {
		if sess, ok := s.sessions[id]; ok {
			sess.Cancel()
		}
	}
	s.mu.RUnlock()
	s.wg.Wait()
	s.transport.CloseIdleConnections()
}

func (s *Service) newProber(cfg checker.ProbeConfig) (*checker.Prober, error) {
	opts := append([]checker.Option{
		checker.WithTransport(s.transport),
		checker.WithLogger(s.logger),
		checker.WithMetrics(s.metrics),
		checker.WithClock(s.now),
	}, s.proberOpts...)
	return checker.NewProber(cfg, opts...)
}

// register creates a session and claims the sitemap's running slot.
func (s *Service) register(sitemapURL string, cfg checker.ProbeConfig, cancel context.CancelFunc) (*Session, error) {
	key := urlutil.Key(sitemapURL)

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.running[key]; ok {
		return nil, fmt.Errorf("%w: %s (run %s)", ErrRunInProgress, sitemapURL, id)
	}
	sess := newSession(uuid.NewString(), sitemapURL, cfg, s.now(), cancel)
	s.sessions[sess.id] = sess
	s.order = append(s.order, sess.id)
	s.running[key] = sess.id
	s.evictLocked()
	return sess, nil
}

// evictLocked drops the oldest completed sessions beyond maxSessions.
func (s *Service) evictLocked() {
	excess := len(s.order) - s.maxSessions
	if excess <= 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if excess > 0 && s.sessions[id].Snapshot(false).State == StateCompleted {
			delete(s.sessions, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func (s *Service) release(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := urlutil.Key(sess.sitemapURL)
	if s.running[key] == sess.id {
		delete(s.running, key)
	}
}

// execute runs one audit to completion. A root sitemap failure completes
// the session with an empty report and is returned. History is written and
// the sitemap's running slot released before the session is marked completed.
func (s *Service) execute(ctx context.Context, sess *Session, prober *checker.Prober) error {
	log := s.logger.With(logger.String("run_id", sess.id), logger.String("sitemap_url", sess.sitemapURL))

	sess.markRunning()
	s.metrics.RunStarted()
	defer s.metrics.RunCompleted()
	log.Info("audit started")

	res, err := s.resolver.Resolve(ctx, sess.sitemapURL)
	if err != nil {
		log.Warn("sitemap could not be loaded", logger.Err(err))
		s.release(sess)
		sess.complete([]models.ProbeResult{}, report.Build(nil, nil, s.now()), err, s.now())
		return err
	}

	total := len(res.Records)
	if maxURLs := prober.Config().MaxURLs; maxURLs > 0 && total > maxURLs {
		total = maxURLs
	}
	sess.resolved(res, total)
	log.Info("sitemap resolved",
		logger.Int("urls", len(res.Records)),
		logger.Int("documents", res.Documents),
		logger.Int("warnings", len(res.Warnings)))

	results, rep := prober.ProbeURLs(ctx, res.Records, sess.progress)
	completedAt := s.now()
	cancelled := ctx.Err() != nil
	if !cancelled {
		s.recordHistory(sess, rep, completedAt, log)
	}
	log.Info("audit completed",
		logger.Int("probed", rep.Total),
		logger.Float64("health_score", rep.HealthScore),
		logger.Bool("cancelled", cancelled))

	s.release(sess)
	sess.complete(results, rep, nil, completedAt)
	return nil
}

func (s *Service) recordHistory(sess *Session, rep models.HealthReport, at time.Time, log logger.Logger) {
	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := &models.HistoryEntry{
		RunID:       sess.id,
		SitemapURL:  sess.sitemapURL,
		Timestamp:   at,
		HealthScore: rep.HealthScore,
		Metrics:     rep.Metrics,
	}
	if err := s.history.AppendHistory(ctx, entry); err != nil {
		log.Error("failed to record history", logger.Err(err))
		return
	}
	if n, err := s.history.PruneHistory(ctx, at.Add(-s.retention)); err != nil {
		log.Error("failed to prune history", logger.Err(err))
	} else if n > 0 {
		log.Debug("pruned history", logger.Int64("removed", n))
	}
}
