// Package audit runs sitemap audits (resolve, then probe) as tracked
// sessions, records their history, and re-audits watched sitemaps on a schedule.
package audit

import (
	"context"
	"sync"
	"time"

	"sitemapaudit/internal/checker"
	"sitemapaudit/internal/models"
	"sitemapaudit/internal/sitemap"
)

// State is the lifecycle state of a run. A run only ever moves forward:
// idle, running, completed.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
)

// Snapshot is a point-in-time, copy-safe view of a Session.
type Snapshot struct {
	ID          string               `json:"id"`
	SitemapURL  string               `json:"sitemap_url"`
	State       State                `json:"state"`
	Done        int                  `json:"done"`
	Total       int                  `json:"total"`
	Fraction    float64              `json:"fraction"`
	Cancelled   bool                 `json:"cancelled"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	Config      ProbeSettings        `json:"config"`
	Warnings    []sitemap.Warning    `json:"warnings"`
	Report      *models.HealthReport `json:"report,omitempty"`
	Results     []models.ProbeResult `json:"results,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// ProbeSettings is the JSON view of the probe configuration a run used.
type ProbeSettings struct {
	Concurrency     int   `json:"concurrency"`
	TimeoutMS       int64 `json:"timeout_ms"`
	FollowRedirects bool  `json:"follow_redirects"`
	RateLimitMS     int64 `json:"rate_limit_ms"`
	MaxURLs         int   `json:"max_urls"`
}

func settingsOf(cfg checker.ProbeConfig) ProbeSettings {
	return ProbeSettings{
		Concurrency:     cfg.Concurrency,
		TimeoutMS:       cfg.Timeout.Milliseconds(),
		FollowRedirects: cfg.FollowRedirects,
		RateLimitMS:     cfg.RateLimit.Milliseconds(),
		MaxURLs:         cfg.MaxURLs,
	}
}

// Session tracks one audit run. All methods are safe for concurrent use.
type Session struct {
	id         string
	sitemapURL string
	cfg        checker.ProbeConfig
	cancel     context.CancelFunc
	finished   chan struct{}

	mu          sync.RWMutex
	state       State
	done        int
	total       int
	cancelled   bool
	startedAt   time.Time
	completedAt time.Time
	warnings    []sitemap.Warning
	results     []models.ProbeResult
	report      *models.HealthReport
	err         error
}

func newSession(id, sitemapURL string, cfg checker.ProbeConfig, startedAt time.Time, cancel context.CancelFunc) *Session {
	return &Session{
		id:         id,
		sitemapURL: sitemapURL,
		cfg:        cfg,
		cancel:     cancel,
		finished:   make(chan struct{}),
		state:      StateIdle,
		startedAt:  startedAt,
		warnings:   []sitemap.Warning{},
	}
}

// ID returns the run identifier.
func (s *Session) ID() string { return s.id }

// SitemapURL returns the root sitemap being audited.
func (s *Session) SitemapURL() string { return s.sitemapURL }

// Finished is closed once the run has completed.
func (s *Session) Finished() <-chan struct{} { return s.finished }

// Cancel stops the run. Results that completed before cancellation are kept.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state != StateCompleted {
		s.cancelled = true
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *Session) markRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateRunning
}

func (s *Session) resolved(res *sitemap.Resolution, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, res.Warnings...)
	s.total = total
}

func (s *Session) progress(done, total int, _ models.ProbeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = done
	s.total = total
}

func (s *Session) complete(results []models.ProbeResult, rep models.HealthReport, err error, at time.Time) {
	s.mu.Lock()
	s.state = StateCompleted
	s.results = results
	s.report = &rep
	s.done = len(results)
	s.err = err
	s.completedAt = at
	s.mu.Unlock()
	close(s.finished)
}

// Snapshot returns the session's current state. Per-URL results are only
// included when withResults is set.
func (s *Session) Snapshot(withResults bool) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ID:         s.id,
		SitemapURL: s.sitemapURL,
		State:      s.state,
		Done:       s.done,
		Total:      s.total,
		Cancelled:  s.cancelled,
		StartedAt:  s.startedAt,
		Config:     settingsOf(s.cfg),
		Warnings:   append([]sitemap.Warning(nil), s.warnings...),
	}
	switch {
	case s.total > 0:
		snap.Fraction = float64(s.done) / float64(s.total)
	case s.state == StateCompleted:
		snap.Fraction = 1
	}
	if s.state == StateCompleted {
		at := s.completedAt
		snap.CompletedAt = &at
		rep := *s.report
		snap.Report = &rep
	}
	if withResults && s.results != nil {
		snap.Results = append([]models.ProbeResult(nil), s.results...)
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}
