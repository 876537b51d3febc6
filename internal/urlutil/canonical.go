package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// Canonicalize returns the form of rawURL used to compare sitemap locations:
// lowercase scheme and host, no default port, no fragment, and no trailing
// slash except on the root path. Only absolute http(s) URLs are accepted.
func Canonicalize(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("url must be an absolute http or https url")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	switch port := u.Port(); {
	case u.Scheme == "http" && port == "80", u.Scheme == "https" && port == "443":
		u.Host = strings.TrimSuffix(u.Host, ":"+port)
	}
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = strings.TrimSuffix(u.RawPath, "/")
	}
	return u.String(), nil
}

// ResolveReference resolves ref against base, so relative sitemap locations
// like "/sitemap-2.xml" become absolute. An absolute ref is returned unchanged
// apart from surrounding whitespace.
func ResolveReference(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty url reference")
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}
	if r.IsAbs() {
		return r.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse base url: %w", err)
	}
	return b.ResolveReference(r).String(), nil
}

// Key returns the canonical form of rawURL, or the trimmed input when it
// cannot be canonicalized. It is meant for set membership, not for display.
func Key(rawURL string) string {
	if c, err := Canonicalize(strings.TrimSpace(rawURL)); err == nil {
		return c
	}
	return strings.TrimSpace(rawURL)
}

// SiteRoot returns "scheme://host" for an absolute http(s) URL.
func SiteRoot(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("url must be an absolute http or https url")
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}
