// Package checker probes sitemap URLs over HTTP with a bounded worker pool
// and classifies each response.
package checker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"sitemapaudit/internal/logger"
	"sitemapaudit/internal/metrics"
	"sitemapaudit/internal/models"
	"sitemapaudit/internal/report"
)

const (
	// DefaultConcurrency is the default number of simultaneous requests.
	DefaultConcurrency = 5
	// DefaultTimeout is the default per-request deadline.
	DefaultTimeout = 10 * time.Second
	// DefaultUserAgent is sent with every probe unless configured otherwise.
	DefaultUserAgent = "Mozilla/5.0 (compatible; SitemapAudit/1.0)"

	maxRedirects = 10
	// maxDrainBytes is how much of a body is read to let the connection be reused.
	maxDrainBytes = 64 << 10
)

// ProbeConfig configures one probing run.
type ProbeConfig struct {
	// Concurrency is the maximum number of in-flight requests.
	Concurrency int
	// Timeout is the per-request deadline. Zero disables it.
	Timeout time.Duration
	// FollowRedirects makes the prober follow redirect chains.
	FollowRedirects bool
	// RateLimit is the minimum spacing between dispatches. Zero means unlimited.
	RateLimit time.Duration
	// MaxURLs caps how many input records are probed. Zero means all.
	MaxURLs   int
	UserAgent string
}

// DefaultProbeConfig returns the default probe configuration.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Concurrency:     DefaultConcurrency,
		Timeout:         DefaultTimeout,
		FollowRedirects: true,
		UserAgent:       DefaultUserAgent,
	}
}

// Validate reports the first invalid field.
func (c ProbeConfig) Validate() error {
	switch {
	case c.Concurrency < 1:
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	case c.Timeout < 0:
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	case c.RateLimit < 0:
		return fmt.Errorf("rate limit must not be negative, got %s", c.RateLimit)
	case c.MaxURLs < 0:
		return fmt.Errorf("max urls must not be negative, got %d", c.MaxURLs)
	}
	return nil
}

// ProgressFunc is called once per completed URL with the number of URLs
// completed so far. done increases by one on every call.
type ProgressFunc func(done, total int, result models.ProbeResult)

// Prober issues health-check requests. It holds no per-run state and is
// safe for concurrent use.
type Prober struct {
	cfg       ProbeConfig
	transport http.RoundTripper
	// ownsTransport is false when the transport came from WithTransport.
	ownsTransport bool
	logger        logger.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

// Option configures a Prober.
type Option func(*Prober)

// WithLogger sets the logger used by the prober.
func WithLogger(l logger.Logger) Option {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics records probe outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Prober) { p.metrics = m }
}

// WithTransport makes the prober use rt. The caller keeps ownership of rt
// and its idle connections; share one transport across probers rather than
// building one per run.
func WithTransport(rt http.RoundTripper) Option {
	return func(p *Prober) {
		if rt != nil {
			p.transport = rt
			p.ownsTransport = false
		}
	}
}

// NewTransport returns a transport suitable for sharing between probers.
func NewTransport(maxIdleConnsPerHost int) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if maxIdleConnsPerHost > 0 {
		t.MaxIdleConnsPerHost = maxIdleConnsPerHost
	}
	return t
}

// WithClock overrides the clock used for lastmod staleness checks.
func WithClock(now func() time.Time) Option {
	return func(p *Prober) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProber creates a Prober for cfg.
func NewProber(cfg ProbeConfig, opts ...Option) (*Prober, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid probe config: %w", err)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	p := &Prober{
		cfg:           cfg,
		transport:     NewTransport(cfg.Concurrency),
		ownsTransport: true,
		logger:        logger.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logger.String("component", "prober"))
	return p, nil
}

// Config returns the prober's configuration.
func (p *Prober) Config() ProbeConfig { return p.cfg }

// CloseIdleConnections closes the idle keep-alive connections of a transport
// the prober created. A transport set with WithTransport is left untouched.
func (p *Prober) CloseIdleConnections() {
	if !p.ownsTransport {
		return
	}
	if t, ok := p.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
}

// ProbeURLs is a convenience wrapper that builds a Prober for cfg and runs it.
// The only error it returns is an invalid configuration.
func ProbeURLs(
	ctx context.Context,
	records []models.URLRecord,
	cfg ProbeConfig,
	progress ProgressFunc,
	opts ...Option,
) ([]models.ProbeResult, models.HealthReport, error) {
	p, err := NewProber(cfg, opts...)
	if err != nil {
		return nil, models.HealthReport{}, err
	}
	results, rep := p.ProbeURLs(ctx, records, progress)
	return results, rep, nil
}

// ProbeURLs probes the first MaxURLs records and reports on them. Results
// are returned in input order. If ctx is cancelled, the report covers only
// the URLs that completed. Idle connections of an owned transport are closed
// before it returns.
func (p *Prober) ProbeURLs(
	ctx context.Context,
	records []models.URLRecord,
	progress ProgressFunc,
) ([]models.ProbeResult, models.HealthReport) {
	defer p.CloseIdleConnections()

	if p.cfg.MaxURLs > 0 && len(records) > p.cfg.MaxURLs {
		records = records[:p.cfg.MaxURLs]
	}
	if len(records) == 0 {
		return []models.ProbeResult{}, report.Build(nil, nil, p.now())
	}

	urls := make([]string, len(records))
	for i, r := range records {
		urls[i] = r.URL
	}

	total := len(urls)
	done := 0
	started := time.Now()
	p.logger.Info("probing urls",
		logger.Int("total", total),
		logger.Int("concurrency", p.cfg.Concurrency),
		logger.Duration("rate_limit", p.cfg.RateLimit))

	pool := newWorkerPool(p, min(p.cfg.Concurrency, total))
	collected := pool.run(ctx, urls, NewDispatchLimiter(p.cfg.RateLimit), func(o outcome) {
		done++
		if progress != nil {
			progress(done, total, o.result)
		}
	})

	sort.Slice(collected, func(i, j int) bool { return collected[i].index < collected[j].index })
	results := make([]models.ProbeResult, len(collected))
	for i, o := range collected {
		results[i] = o.result
	}

	if ctx.Err() != nil {
		p.logger.Warn("probing cancelled",
			logger.Int("completed", len(results)),
			logger.Int("total", total))
	}
	p.logger.Info("probing finished",
		logger.Int("completed", len(results)),
		logger.Duration("elapsed", time.Since(started)))

	return results, report.Build(records, results, p.now())
}

// Probe checks a single URL. It never fails: every problem is reported as
// a result in the error group.
func (p *Prober) Probe(ctx context.Context, rawURL string) models.ProbeResult {
	res, _ := p.probe(ctx, rawURL)
	return res
}

// probe performs the request. abandoned is true when the request failed
// because ctx itself was cancelled, not because of the URL.
func (p *Prober) probe(ctx context.Context, rawURL string) (res models.ProbeResult, abandoned bool) {
	res = models.ProbeResult{URL: rawURL}

	reqCtx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return failed(res, &ProbeError{URL: rawURL, Err: err}), false
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)

	var firstStatus int
	client := &http.Client{
		Transport: p.transport,
		CheckRedirect: func(next *http.Request, via []*http.Request) error {
			if !p.cfg.FollowRedirects {
				return http.ErrUseLastResponse
			}
			if firstStatus == 0 && next.Response != nil {
				firstStatus = next.Response.StatusCode
			}
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	p.metrics.ProbeStarted()
	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	res.ResponseTimeMS = float64(elapsed.Microseconds()) / 1000

	if err != nil {
		perr := &ProbeError{URL: rawURL, Timeout: isTimeout(err), Err: err}
		if ctx.Err() != nil {
			abandoned = true
		}
		res = failed(res, perr)
		p.metrics.ProbeFinished(string(models.GroupError), elapsed)
		if !abandoned {
			p.logger.Debug("probe failed", logger.String("url", rawURL), logger.Err(perr))
		}
		return res, abandoned
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	resp.Body.Close()

	status := resp.StatusCode
	if final := resp.Request.URL.String(); p.cfg.FollowRedirects && final != req.URL.String() {
		res.Redirected = true
		res.FinalURL = final
		res.FinalStatusCode = resp.StatusCode
		if firstStatus != 0 {
			status = firstStatus
		}
		if resp.StatusCode >= http.StatusBadRequest {
			res.ErrorDetail = fmt.Sprintf("redirect target returned %d", resp.StatusCode)
		}
	}

	res.StatusCode = models.Code(status)
	res.StatusGroup = Classify(status)
	if res.StatusGroup == models.GroupError {
		res.ErrorDetail = fmt.Sprintf("unexpected status code %d", status)
	}

	p.metrics.ProbeFinished(string(res.StatusGroup), elapsed)
	p.logger.Debug("probe completed",
		logger.String("url", rawURL),
		logger.Int("status", status),
		logger.Float64("response_time_ms", res.ResponseTimeMS))
	return res, false
}

// failed fills res for a transport-level failure.
func failed(res models.ProbeResult, perr *ProbeError) models.ProbeResult {
	res.StatusGroup = models.GroupError
	res.ErrorDetail = perr.Error()
	if perr.Timeout {
		res.StatusCode = models.Timeout()
	} else {
		res.StatusCode = models.Failure()
	}
	return res
}

// Classify maps an HTTP status code to its status group. Codes outside
// 200-599 are classified as errors.
func Classify(code int) models.StatusGroup {
	switch {
	case code >= 200 && code < 300:
		return models.Group2xx
	case code >= 300 && code < 400:
		return models.Group3xx
	case code >= 400 && code < 500:
		return models.Group4xx
	case code >= 500 && code < 600:
		return models.Group5xx
	default:
		return models.GroupError
	}
}
