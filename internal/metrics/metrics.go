// Package metrics provides the Prometheus collectors for sitemap resolution,
// URL probing and audit runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace for all sitemapaudit metrics.
	Namespace = "sitemapaudit"

	subsystemSitemap = "sitemap"
	subsystemProbe   = "probe"
	subsystemAudit   = "audit"
)

// Fetch outcomes used as the "outcome" label on sitemap fetches.
const (
	OutcomeOK         = "ok"
	OutcomeFetchError = "fetch_error"
	OutcomeParseError = "parse_error"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	SitemapFetchesTotal  *prometheus.CounterVec
	URLsResolvedTotal    prometheus.Counter
	ProbesTotal          *prometheus.CounterVec
	ProbeDurationSeconds prometheus.Histogram
	ProbesInFlight       prometheus.Gauge
	RunsTotal            prometheus.Counter
	RunsActive           prometheus.Gauge
}

// New creates and registers all collectors on reg.
// A nil reg falls back to the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	m := &Metrics{}
	m.initSitemapMetrics(factory)
	m.initProbeMetrics(factory)
	m.initAuditMetrics(factory)
	return m
}

func (m *Metrics) initSitemapMetrics(factory promauto.Factory) {
	m.SitemapFetchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystemSitemap,
			Name:      "fetches_total",
			Help:      "Total number of sitemap documents fetched, by outcome",
		},
		[]string{"outcome"},
	)
	m.URLsResolvedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystemSitemap,
			Name:      "urls_resolved_total",
			Help:      "Total number of distinct URLs produced by sitemap resolution",
		},
	)
}

func (m *Metrics) initProbeMetrics(factory promauto.Factory) {
	m.ProbesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystemProbe,
			Name:      "requests_total",
			Help:      "Total number of URL probes, by status group",
		},
		[]string{"status_group"},
	)
	m.ProbeDurationSeconds = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Time from dispatch to response headers for URL probes",
			Buckets:   prometheus.DefBuckets,
		},
	)
	m.ProbesInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: subsystemProbe,
			Name:      "in_flight",
			Help:      "Number of URL probes currently waiting on the network",
		},
	)
}

func (m *Metrics) initAuditMetrics(factory promauto.Factory) {
	m.RunsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystemAudit,
			Name:      "runs_total",
			Help:      "Total number of completed audit runs",
		},
	)
	m.RunsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: subsystemAudit,
			Name:      "runs_active",
			Help:      "Number of audit runs currently in progress",
		},
	)
}

// SitemapFetched records one sitemap document fetch.
func (m *Metrics) SitemapFetched(outcome string) {
	if m == nil {
		return
	}
	m.SitemapFetchesTotal.WithLabelValues(outcome).Inc()
}

// URLsResolved adds n to the resolved URL counter.
func (m *Metrics) URLsResolved(n int) {
	if m == nil {
		return
	}
	m.URLsResolvedTotal.Add(float64(n))
}

// ProbeStarted marks a probe as in flight.
func (m *Metrics) ProbeStarted() {
	if m == nil {
		return
	}
	m.ProbesInFlight.Inc()
}

// ProbeFinished records a finished probe.
func (m *Metrics) ProbeFinished(group string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProbesInFlight.Dec()
	m.ProbesTotal.WithLabelValues(group).Inc()
	m.ProbeDurationSeconds.Observe(elapsed.Seconds())
}

// RunStarted marks an audit run as active.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsActive.Inc()
}

// RunCompleted marks an audit run as completed.
func (m *Metrics) RunCompleted() {
	if m == nil {
		return
	}
	m.RunsActive.Dec()
	m.RunsTotal.Inc()
}
