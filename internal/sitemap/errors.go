package sitemap

import "fmt"

// FetchError is returned when a sitemap document cannot be retrieved, either
// because of a transport failure or a non-2xx response.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError is returned when a retrieved document is not a readable sitemap.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Warning kinds.
const (
	WarningFetch = "fetch"
	WarningParse = "parse"
)

// Warning records a child sitemap that was skipped during resolution.
type Warning struct {
	URL    string `json:"url"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}
