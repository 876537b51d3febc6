package audit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitemapaudit/internal/audit"
	"sitemapaudit/internal/checker"
)

func TestWatcherAuditsOnSchedule(t *testing.T) {
	t.Parallel()
	srv := siteServer(t)
	svc, _ := newService(t)

	w := audit.NewWatcher(svc, []string{srv.URL + "/sitemap.xml"}, 50*time.Millisecond, checker.DefaultProbeConfig(), nil)
	w.Start()

	require.Eventually(t, func() bool {
		completed := 0
		for _, s := range svc.List() {
			if s.State == audit.StateCompleted {
				completed++
			}
		}
		return completed >= 2
	}, 5*time.Second, 10*time.Millisecond)

	w.Stop()
	w.Stop()

	n := len(svc.List())
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, n, len(svc.List()))
}
