// Package report aggregates probe results into a HealthReport.
package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"sitemapaudit/internal/models"
)

// StaleAfter is the lastmod age beyond which a URL is flagged as not updated.
const StaleAfter = 180 * 24 * time.Hour

// Recommendation texts.
const (
	RecommendEliminateRedirects = "Update sitemap with final URLs to eliminate redirects"
	RecommendFixBroken          = "Fix or remove broken URLs from the sitemap"
)

// lastModLayouts are the W3C datetime profiles allowed by the sitemap protocol,
// plus a couple of zone-less variants seen in the wild.
var lastModLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseLastMod parses a sitemap lastmod value.
func ParseLastMod(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty lastmod")
	}
	for _, layout := range lastModLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse lastmod %q: unrecognized format", trimmed)
}

// Build derives a HealthReport from one run's results. Only records that
// have a result are considered for the lastmod check, so the report always
// describes exactly the result set it was given.
func Build(records []models.URLRecord, results []models.ProbeResult, now time.Time) models.HealthReport {
	rep := models.HealthReport{
		Total:           len(results),
		Counts:          make(map[models.StatusGroup]int, len(models.AllGroups)),
		Issues:          []models.Issue{},
		Recommendations: []string{},
	}
	for _, g := range models.AllGroups {
		rep.Counts[g] = 0
	}

	probed := make(map[string]struct{}, len(results))
	var timings []float64
	for _, r := range results {
		rep.Counts[r.StatusGroup]++
		probed[r.URL] = struct{}{}
		if r.StatusCode.IsNumeric() {
			timings = append(timings, r.ResponseTimeMS)
		}
	}

	success := rep.Counts[models.Group2xx]
	redirects := rep.Counts[models.Group3xx]
	errs := rep.Counts[models.Group4xx] + rep.Counts[models.Group5xx] + rep.Counts[models.GroupError]

	if rep.Total > 0 {
		rep.HealthScore = round2(100 * float64(success) / float64(rep.Total))
	}

	if redirects > 0 {
		rep.Issues = append(rep.Issues, models.Issue{
			Severity: models.SeverityWarning,
			Message:  fmt.Sprintf("%d URLs are redirecting", redirects),
		})
		rep.Recommendations = append(rep.Recommendations, RecommendEliminateRedirects)
	}
	if errs > 0 {
		rep.Issues = append(rep.Issues, models.Issue{
			Severity: models.SeverityError,
			Message:  fmt.Sprintf("%d URLs are returning errors", errs),
		})
		rep.Recommendations = append(rep.Recommendations, RecommendFixBroken)
	}

	old := countStale(records, probed, now)
	if old > 0 {
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("Update lastmod dates for %d URLs that haven't been modified in 6 months", old))
	}

	rep.Metrics = models.Metrics{
		TotalURLs:        rep.Total,
		SuccessCount:     success,
		RedirectCount:    redirects,
		ErrorCount:       errs,
		OldURLs:          old,
		AvgResponseMS:    round2(mean(timings)),
		MedianResponseMS: round2(median(timings)),
	}
	return rep
}

func countStale(records []models.URLRecord, probed map[string]struct{}, now time.Time) int {
	cutoff := now.Add(-StaleAfter)
	n := 0
	for _, rec := range records {
		if _, ok := probed[rec.URL]; !ok || rec.LastMod == "" {
			continue
		}
		t, err := ParseLastMod(rec.LastMod)
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			n++
		}
	}
	return n
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
