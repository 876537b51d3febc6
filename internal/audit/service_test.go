package audit_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitemapaudit/internal/audit"
	"sitemapaudit/internal/checker"
	"sitemapaudit/internal/models"
	"sitemapaudit/internal/sitemap"
	"sitemapaudit/internal/storage"
	"sitemapaudit/internal/storage/sqlite"
)

// siteServer serves /sitemap.xml listing /ok and /missing, and /slow.xml
// listing pages that block until the request is cancelled.
func siteServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/sitemap.xml":
			fmt.Fprintf(w, `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<url><loc>%[1]s/ok</loc></url>
<url><loc>%[1]s/missing</loc></url>
</urlset>`, srv.URL)
		case r.URL.Path == "/slow.xml":
			var b strings.Builder
			b.WriteString(`<urlset>`)
			for i := 0; i < 20; i++ {
				fmt.Fprintf(&b, `<url><loc>%s/block/%d</loc></url>`, srv.URL, i)
			}
			b.WriteString(`</urlset>`)
			_, _ = w.Write([]byte(b.String()))
		case strings.HasPrefix(r.URL.Path, "/block/"):
			<-r.Context().Done()
		case r.URL.Path == "/ok":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newService(t *testing.T, opts ...audit.ServiceOption) (*audit.Service, *sqlite.SQLiteStore) {
	t.Helper()
	store, err := sqlite.New(context.Background(), sqlite.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	opts = append([]audit.ServiceOption{audit.WithHistory(store, time.Hour)}, opts...)
	svc := audit.NewService(sitemap.NewResolver(sitemap.DefaultHTTPConfig()), opts...)
	t.Cleanup(svc.Close)
	return svc, store
}

func waitFor(t *testing.T, svc *audit.Service, id string) audit.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap, err := svc.Wait(ctx, id)
	require.NoError(t, err)
	return snap
}

func TestStartCompletesAndRecordsHistory(t *testing.T) {
	t.Parallel()
	srv := siteServer(t)
	svc, store := newService(t)

	sess, err := svc.Start(context.Background(), srv.URL+"/sitemap.xml", checker.DefaultProbeConfig())
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID())

	snap := waitFor(t, svc, sess.ID())
	assert.Equal(t, audit.StateCompleted, snap.State)
	assert.Equal(t, 2, snap.Done)
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 1.0, snap.Fraction)
	assert.False(t, snap.Cancelled)
	assert.Empty(t, snap.Error)
	require.NotNil(t, snap.Report)
	assert.Equal(t, 50.0, snap.Report.HealthScore)
	require.Len(t, snap.Results, 2)
	assert.Equal(t, srv.URL+"/ok", snap.Results[0].URL)
	assert.Equal(t, models.Group4xx, snap.Results[1].StatusGroup)
	require.NotNil(t, snap.CompletedAt)

	entry, err := store.GetHistoryByRunID(context.Background(), sess.ID())
	require.NoError(t, err)
	assert.Equal(t, 50.0, entry.HealthScore)
	assert.Equal(t, 2, entry.Metrics.TotalURLs)

	history, err := svc.History(context.Background(), time.Time{}, "")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRunRootFailureCompletesWithEmptyReport(t *testing.T) {
	t.Parallel()
	srv := siteServer(t)
	svc, store := newService(t)

	snap, err := svc.Run(context.Background(), srv.URL+"/nope.xml", checker.DefaultProbeConfig())
	var fetchErr *sitemap.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)

	assert.Equal(t, audit.StateCompleted, snap.State)
	assert.NotEmpty(t, snap.Error)
	require.NotNil(t, snap.Report)
	assert.Equal(t, 0, snap.Report.Total)
	assert.Len(t, snap.Report.Counts, len(models.AllGroups))

	_, err = store.GetHistoryByRunID(context.Background(), snap.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStartRejectsConcurrentRunForSameSitemap(t *testing.T) {
	t.Parallel()
	srv := siteServer(t)
	svc, _ := newService(t)

	first, err := svc.Start(context.Background(), srv.URL+"/slow.xml", checker.DefaultProbeConfig())
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), srv.URL+"/slow.xml#again", checker.DefaultProbeConfig())
	assert.ErrorIs(t, err, audit.ErrRunInProgress)

	other, err := svc.Start(context.Background(), srv.URL+"/sitemap.xml", checker.DefaultProbeConfig())
	require.NoError(t, err)
	waitFor(t, svc, other.ID())

	require.NoError(t, svc.Cancel(first.ID()))
	waitFor(t, svc, first.ID())

	again, err := svc.Start(context.Background(), srv.URL+"/sitemap.xml", checker.DefaultProbeConfig())
	require.NoError(t, err)
	waitFor(t, svc, again.ID())
}

func TestCancelKeepsPartialReport(t *testing.T) {
	t.Parallel()
	srv := siteServer(t)
	svc, store := newService(t)

	sess, err := svc.Start(context.Background(), srv.URL+"/slow.xml", checker.DefaultProbeConfig())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := svc.Get(sess.ID())
		return err == nil && s.Snapshot(false).State == audit.StateRunning && s.Snapshot(false).Total == 20
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.Cancel(sess.ID()))
	snap := waitFor(t, svc, sess.ID())

	assert.Equal(t, audit.StateCompleted, snap.State)
	assert.True(t, snap.Cancelled)
	require.NotNil(t, snap.Report)
	assert.Less(t, snap.Report.Total, 20)
	sum := 0
	for _, n := range snap.Report.Counts {
		sum += n
	}
	assert.Equal(t, snap.Report.Total, sum)

	_, err = store.GetHistoryByRunID(context.Background(), sess.ID())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUnknownRun(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)

	_, err := svc.Get("missing")
	assert.ErrorIs(t, err, audit.ErrRunNotFound)
	assert.ErrorIs(t, svc.Cancel("missing"), audit.ErrRunNotFound)
	_, err = svc.Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, audit.ErrRunNotFound)
}

func TestStartInvalidConfig(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)

	cfg := checker.DefaultProbeConfig()
	cfg.Concurrency = 0
	_, err := svc.Start(context.Background(), "http://example.com/sitemap.xml", cfg)
	require.Error(t, err)
	assert.Empty(t, svc.List())
}

func TestListOmitsResults(t *testing.T) {
	t.Parallel()
	srv := siteServer(t)
	svc, _ := newService(t)

	snap, err := svc.Run(context.Background(), srv.URL+"/sitemap.xml", checker.DefaultProbeConfig())
	require.NoError(t, err)
	assert.Len(t, snap.Results, 2)

	list := svc.List()
	require.Len(t, list, 1)
	assert.Equal(t, snap.ID, list[0].ID)
	assert.Nil(t, list[0].Results)
	assert.NotNil(t, list[0].Report)
}

func TestHistoryIsPrunedToRetention(t *testing.T) {
	t.Parallel()
	srv := siteServer(t)
	svc, store := newService(t)

	old := &models.HistoryEntry{
		RunID:      "old-run",
		SitemapURL: srv.URL + "/sitemap.xml",
		Timestamp:  time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, store.AppendHistory(context.Background(), old))

	_, err := svc.Run(context.Background(), srv.URL+"/sitemap.xml", checker.DefaultProbeConfig())
	require.NoError(t, err)

	entries, err := svc.History(context.Background(), time.Time{}, srv.URL+"/sitemap.xml")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEqual(t, "old-run", entries[0].RunID)
}

func TestMaxSessionsEvictsCompleted(t *testing.T) {
	t.Parallel()
	srv := siteServer(t)
	svc, _ := newService(t, audit.WithMaxSessions(2))

	var ids []string
	for i := 0; i < 3; i++ {
		snap, err := svc.Run(context.Background(), srv.URL+"/sitemap.xml", checker.DefaultProbeConfig())
		require.NoError(t, err)
		ids = append(ids, snap.ID)
	}

	_, err := svc.Get(ids[0])
	assert.True(t, errors.Is(err, audit.ErrRunNotFound))
	assert.Len(t, svc.List(), 2)
}

// Runs one at a time: it compares goroutine counts across the whole process.
func TestRunsShareConnectionsAndCloseReleasesThem(t *testing.T) {
	srv := siteServer(t)
	resolverTransport := checker.NewTransport(0)
	resolver := sitemap.NewResolver(sitemap.DefaultHTTPConfig(),
		sitemap.WithHTTPClient(&http.Client{Transport: resolverTransport}))
	svc := audit.NewService(resolver)

	before := runtime.NumGoroutine()
	for i := 0; i < 5; i++ {
		snap, err := svc.Run(context.Background(), srv.URL+"/sitemap.xml", checker.DefaultProbeConfig())
		require.NoError(t, err)
		require.Equal(t, audit.StateCompleted, snap.State)
		require.NotNil(t, snap.Report)
		require.Equal(t, 2, snap.Report.Total)
	}

	svc.Close()
	resolverTransport.CloseIdleConnections()

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, 2*time.Second, 20*time.Millisecond, "connections outlived the service")
}
