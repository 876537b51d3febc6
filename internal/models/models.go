package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Alternate is an hreflang alternate link attached to a sitemap URL entry.
type Alternate struct {
	Href     string `json:"href"`
	Hreflang string `json:"hreflang"`
}

// URLRecord is one page URL extracted from a leaf sitemap.
// URL is the unique key within a resolved set.
type URLRecord struct {
	URL        string      `json:"url"`
	LastMod    string      `json:"lastmod,omitempty"`
	Priority   string      `json:"priority,omitempty"`
	ChangeFreq string      `json:"changefreq,omitempty"`
	Images     []string    `json:"images"`
	Videos     []string    `json:"videos"`
	Alternates []Alternate `json:"alternates"`
}

// StatusGroup is the coarse classification of a probe outcome.
type StatusGroup string

const (
	Group2xx   StatusGroup = "2xx"
	Group3xx   StatusGroup = "3xx"
	Group4xx   StatusGroup = "4xx"
	Group5xx   StatusGroup = "5xx"
	GroupError StatusGroup = "error"
)

// AllGroups lists every status group in display order.
var AllGroups = []StatusGroup{Group2xx, Group3xx, Group4xx, Group5xx, GroupError}

// Sentinel values stand in for a status code when no HTTP response was received.
const (
	SentinelTimeout = "timeout"
	SentinelError   = "error"
)

// StatusCode is either a numeric HTTP status or a sentinel ("timeout", "error").
// It marshals to a JSON number or a JSON string accordingly.
type StatusCode struct {
	Code     int
	Sentinel string
}

// Code returns a numeric StatusCode.
func Code(code int) StatusCode { return StatusCode{Code: code} }

// Timeout returns the timeout sentinel.
func Timeout() StatusCode { return StatusCode{Sentinel: SentinelTimeout} }

// Failure returns the generic transport-error sentinel.
func Failure() StatusCode { return StatusCode{Sentinel: SentinelError} }

// IsNumeric reports whether an HTTP response status was recorded.
func (s StatusCode) IsNumeric() bool { return s.Sentinel == "" }

func (s StatusCode) String() string {
	if s.Sentinel != "" {
		return s.Sentinel
	}
	return strconv.Itoa(s.Code)
}

// MarshalJSON implements json.Marshaler.
func (s StatusCode) MarshalJSON() ([]byte, error) {
	if s.Sentinel != "" {
		return json.Marshal(s.Sentinel)
	}
	return json.Marshal(s.Code)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *StatusCode) UnmarshalJSON(data []byte) error {
	var code int
	if err := json.Unmarshal(data, &code); err == nil {
		*s = StatusCode{Code: code}
		return nil
	}
	var sentinel string
	if err := json.Unmarshal(data, &sentinel); err != nil {
		return fmt.Errorf("status code must be a number or a string: %w", err)
	}
	*s = StatusCode{Sentinel: sentinel}
	return nil
}

// ProbeResult is the outcome of probing a single URL in one run.
type ProbeResult struct {
	URL             string      `json:"url"`
	StatusCode      StatusCode  `json:"status_code"`
	StatusGroup     StatusGroup `json:"status_group"`
	ResponseTimeMS  float64     `json:"response_time_ms"`
	Redirected      bool        `json:"redirected"`
	FinalURL        string      `json:"final_url,omitempty"`
	FinalStatusCode int         `json:"final_status_code,omitempty"`
	ErrorDetail     string      `json:"error_detail,omitempty"`
}

// Severity of a report issue.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is a single finding in a HealthReport.
type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Metrics is the numeric summary block of a HealthReport.
type Metrics struct {
	TotalURLs        int     `json:"total_urls"`
	SuccessCount     int     `json:"success_count"`
	RedirectCount    int     `json:"redirect_count"`
	ErrorCount       int     `json:"error_count"`
	OldURLs          int     `json:"old_urls"`
	AvgResponseMS    float64 `json:"avg_response_ms"`
	MedianResponseMS float64 `json:"median_response_ms"`
}

// HealthReport aggregates the ProbeResults of exactly one run.
type HealthReport struct {
	Total           int                 `json:"total"`
	Counts          map[StatusGroup]int `json:"counts"`
	HealthScore     float64             `json:"health_score"`
	Issues          []Issue             `json:"issues"`
	Recommendations []string            `json:"recommendations"`
	Metrics         Metrics             `json:"metrics"`
}

// HistoryEntry is one point in the health trend of a sitemap.
type HistoryEntry struct {
	RunID       string    `json:"run_id"`
	SitemapURL  string    `json:"sitemap_url"`
	Timestamp   time.Time `json:"timestamp"`
	HealthScore float64   `json:"health_score"`
	Metrics     Metrics   `json:"metrics"`
}
