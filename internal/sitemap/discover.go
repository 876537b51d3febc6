package sitemap

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/temoto/robotstxt"

	"sitemapaudit/internal/logger"
	"sitemapaudit/internal/urlutil"
)

// maxRobotsBodyBytes limits the size of robots.txt responses we will read.
const maxRobotsBodyBytes = 512 * 1024

// commonSitemapPaths are checked when looking for sitemaps on a site.
var commonSitemapPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/sitemap.php",
	"/sitemap.txt",
}

// RobotsReport describes a site's robots.txt as far as sitemaps are concerned.
type RobotsReport struct {
	URL             string   `json:"url"`
	Found           bool     `json:"found"`
	SitemapDeclared bool     `json:"sitemap_declared"`
	Sitemaps        []string `json:"sitemaps"`
	Error           string   `json:"error,omitempty"`
}

// CheckRobots fetches /robots.txt for the site of rawURL and lists the
// sitemaps it declares. Fetch problems are reported in the result, not as an
// error; only an unusable rawURL returns an error.
func (r *Resolver) CheckRobots(ctx context.Context, rawURL string) (*RobotsReport, error) {
	root, err := urlutil.SiteRoot(rawURL)
	if err != nil {
		return nil, err
	}
	report := &RobotsReport{URL: root + "/robots.txt", Sitemaps: []string{}}

	status, data, err := r.get(ctx, report.URL, maxRobotsBodyBytes)
	if err != nil {
		report.Error = err.Error()
		return report, nil
	}
	if status != http.StatusOK {
		return report, nil
	}
	report.Found = true

	robots, err := robotstxt.FromStatusAndBytes(status, data)
	if err != nil {
		report.Error = fmt.Sprintf("parse robots.txt: %v", err)
		return report, nil
	}
	for _, s := range robots.Sitemaps {
		if loc, err := urlutil.ResolveReference(root+"/", s); err == nil {
			report.Sitemaps = append(report.Sitemaps, loc)
		}
	}
	report.SitemapDeclared = len(report.Sitemaps) > 0
	return report, nil
}

// Discover lists candidate sitemaps for the site of rawURL: those declared
// in robots.txt first, then well-known paths that answer 200. The list is
// deduplicated and keeps first-seen order.
func (r *Resolver) Discover(ctx context.Context, rawURL string) (*RobotsReport, []string, error) {
	robots, err := r.CheckRobots(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}
	root, _ := urlutil.SiteRoot(rawURL)

	found := make([]string, 0, len(robots.Sitemaps)+len(commonSitemapPaths))
	seen := make(map[string]struct{})
	add := func(u string) {
		key := urlutil.Key(u)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		found = append(found, u)
	}

	for _, s := range robots.Sitemaps {
		add(s)
	}
	for _, p := range commonSitemapPaths {
		if ctx.Err() != nil {
			return robots, found, ctx.Err()
		}
		candidate := root + p
		status, _, err := r.get(ctx, candidate, 0)
		if err != nil {
			r.logger.Debug("sitemap candidate unreachable",
				logger.String("url", candidate), logger.Err(err))
			continue
		}
		if status == http.StatusOK {
			add(candidate)
		}
	}
	return robots, found, nil
}

// get performs a GET and reads at most limit bytes of the body (none when
// limit is 0).
func (r *Resolver) get(ctx context.Context, url string, limit int64) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.fetcher.cfg.UserAgent)

	resp, err := r.fetcher.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if limit <= 0 {
		return resp.StatusCode, nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s: %w", url, err)
	}
	return resp.StatusCode, data, nil
}
