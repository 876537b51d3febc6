// Package sitemap resolves sitemap documents, including nested sitemap
// indexes, into a flat, deduplicated list of URL records.
package sitemap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"sitemapaudit/internal/logger"
	"sitemapaudit/internal/metrics"
	"sitemapaudit/internal/models"
	"sitemapaudit/internal/urlutil"
)

// Resolution is the flattened result of resolving one root sitemap.
type Resolution struct {
	Records   []models.URLRecord `json:"records"`
	Warnings  []Warning          `json:"warnings"`
	Documents int                `json:"documents"`
}

// Resolver fetches a root sitemap and every sitemap it references.
type Resolver struct {
	fetcher *fetcher
	logger  logger.Logger
	metrics *metrics.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used by the resolver.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records fetch outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithHTTPClient replaces the HTTP client. The client's own timeout is kept.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		if c != nil {
			r.fetcher.client = c
		}
	}
}

// NewResolver creates a Resolver for the given fetch configuration.
func NewResolver(cfg HTTPConfig, opts ...Option) *Resolver {
	cfg.setDefaults()
	r := &Resolver{
		fetcher: &fetcher{
			client: &http.Client{Timeout: cfg.Timeout},
			cfg:    cfg,
		},
		logger: logger.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logger.String("component", "sitemap_resolver"))
	return r
}

// ResolveSitemap is a convenience wrapper around NewResolver(cfg).Resolve.
func ResolveSitemap(ctx context.Context, rootURL string, cfg HTTPConfig, opts ...Option) (*Resolution, error) {
	return NewResolver(cfg, opts...).Resolve(ctx, rootURL)
}

// Resolve fetches rootURL and flattens it into URL records, in the order
// documents are encountered. Index children are walked depth-first in the
// order they are listed. Records are deduplicated by URL (first wins).
//
// A failure on the root document is returned as *FetchError or *ParseError.
// Failures on child documents are reported as warnings and skipped.
func (r *Resolver) Resolve(ctx context.Context, rootURL string) (*Resolution, error) {
	if _, err := urlutil.Canonicalize(rootURL); err != nil {
		return nil, &FetchError{URL: rootURL, Err: err}
	}

	res := &Resolution{
		Records:  []models.URLRecord{},
		Warnings: []Warning{},
	}
	visited := make(map[string]struct{})
	seen := make(map[string]struct{})

	// LIFO worklist; children are pushed in reverse so they pop in listed order.
	stack := []string{rootURL}
	isRoot := true

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("resolve %s: %w", rootURL, err)
		}

		docURL := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		key := urlutil.Key(docURL)
		if _, ok := visited[key]; ok {
			r.logger.Debug("skipping already visited sitemap", logger.String("url", docURL))
			continue
		}
		visited[key] = struct{}{}

		node, err := r.load(ctx, docURL)
		res.Documents++
		if err != nil {
			if isRoot {
				return nil, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("resolve %s: %w", rootURL, ctxErr)
			}
			res.Warnings = append(res.Warnings, newWarning(docURL, err))
			r.logger.Warn("skipping unreadable child sitemap",
				logger.String("url", docURL),
				logger.Err(err))
			continue
		}
		isRoot = false

		switch node.kind {
		case kindIndex:
			for i := len(node.children) - 1; i >= 0; i-- {
				stack = append(stack, node.children[i])
			}
		case kindLeaf:
			for _, rec := range node.records {
				if _, dup := seen[rec.URL]; dup {
					continue
				}
				seen[rec.URL] = struct{}{}
				res.Records = append(res.Records, rec)
			}
		}

		r.logger.Debug("sitemap document resolved",
			logger.String("url", docURL),
			logger.String("kind", node.kind.String()),
			logger.Int("children", len(node.children)),
			logger.Int("records", len(node.records)))
	}

	r.metrics.URLsResolved(len(res.Records))
	r.logger.Info("sitemap resolved",
		logger.String("root", rootURL),
		logger.Int("documents", res.Documents),
		logger.Int("urls", len(res.Records)),
		logger.Int("warnings", len(res.Warnings)))
	return res, nil
}

// load fetches and parses a single document.
func (r *Resolver) load(ctx context.Context, docURL string) (*sitemapNode, error) {
	rc, err := r.fetcher.open(ctx, docURL)
	if err != nil {
		r.metrics.SitemapFetched(outcomeFor(err))
		return nil, err
	}
	defer rc.Close()

	node, err := parseDocument(rc, docURL)
	if err != nil {
		// A transport failure mid-body surfaces from the decoder; keep it a fetch error.
		if ctx.Err() != nil {
			r.metrics.SitemapFetched(metrics.OutcomeFetchError)
			return nil, &FetchError{URL: docURL, Err: ctx.Err()}
		}
		r.metrics.SitemapFetched(metrics.OutcomeParseError)
		return nil, &ParseError{URL: docURL, Err: err}
	}
	r.metrics.SitemapFetched(metrics.OutcomeOK)
	return node, nil
}

func outcomeFor(err error) string {
	var pe *ParseError
	if errors.As(err, &pe) {
		return metrics.OutcomeParseError
	}
	return metrics.OutcomeFetchError
}

func newWarning(docURL string, err error) Warning {
	w := Warning{URL: docURL, Kind: WarningFetch, Reason: err.Error(), Err: err}
	var pe *ParseError
	if errors.As(err, &pe) {
		w.Kind = WarningParse
	}
	return w
}
