package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"sitemapaudit/internal/metrics"
)

func TestMetricsRecord(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.SitemapFetched(metrics.OutcomeOK)
	m.SitemapFetched(metrics.OutcomeParseError)
	m.URLsResolved(7)
	m.ProbeStarted()
	m.ProbeFinished("2xx", 15*time.Millisecond)
	m.RunStarted()
	m.RunCompleted()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SitemapFetchesTotal.WithLabelValues(metrics.OutcomeOK)))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.URLsResolvedTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ProbesInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProbesTotal.WithLabelValues("2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunsActive))
}

func TestNilMetricsAreSafe(t *testing.T) {
	t.Parallel()
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.SitemapFetched(metrics.OutcomeFetchError)
		m.URLsResolved(1)
		m.ProbeStarted()
		m.ProbeFinished("error", time.Second)
		m.RunStarted()
		m.RunCompleted()
	})
}
