package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitemapaudit/internal/audit"
)

func testSite(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sitemap.xml":
			fmt.Fprintf(w, `<urlset><url><loc>%[1]s/ok</loc></url><url><loc>%[1]s/old</loc></url></urlset>`, srv.URL)
		case "/old":
			http.Redirect(w, r, "/ok", http.StatusMovedPermanently)
		case "/ok":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAuditCommandJSON(t *testing.T) {
	srv := testSite(t)

	out, err := execute(t, "audit", srv.URL+"/sitemap.xml", "--json", "--concurrency", "2")
	require.NoError(t, err)

	var snap audit.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, audit.StateCompleted, snap.State)
	assert.Equal(t, 2, snap.Config.Concurrency)
	require.NotNil(t, snap.Report)
	assert.Equal(t, 50.0, snap.Report.HealthScore)
	assert.Len(t, snap.Results, 2)
}

func TestAuditCommandTable(t *testing.T) {
	srv := testSite(t)

	out, err := execute(t, "audit", srv.URL+"/sitemap.xml")
	require.NoError(t, err)
	assert.Contains(t, out, "Sitemap health")
	assert.Contains(t, out, srv.URL+"/sitemap.xml")
	assert.Contains(t, out, "Health score")
	assert.Contains(t, out, "50.00%")
	assert.Contains(t, out, "URLs needing attention")
	assert.Contains(t, out, "1 URLs are redirecting")
	assert.Contains(t, out, "Update sitemap with final URLs to eliminate redirects")
}

func TestAuditCommandFailsWhenSitemapMissing(t *testing.T) {
	srv := testSite(t)

	_, err := execute(t, "audit", srv.URL+"/absent.xml")
	require.Error(t, err)
}

func TestAuditCommandRequiresURL(t *testing.T) {
	_, err := execute(t, "audit")
	require.Error(t, err)
}

func TestDiscoverCommand(t *testing.T) {
	srv := testSite(t)

	out, err := execute(t, "discover", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "robots.txt")
	assert.Contains(t, out, srv.URL+"/robots.txt")
	assert.Contains(t, out, srv.URL+"/sitemap.xml")
}
