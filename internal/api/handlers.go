package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"sitemapaudit/internal/audit"
	"sitemapaudit/internal/checker"
	"sitemapaudit/internal/logger"
	"sitemapaudit/internal/sitemap"
	"sitemapaudit/internal/urlutil"
)

const (
	// maxRequestBodyBytes caps JSON request bodies.
	maxRequestBodyBytes = 1 << 20

	// maxDurationMS caps millisecond settings so they convert to a
	// time.Duration without overflow.
	maxDurationMS = int64(time.Hour / time.Millisecond)

	// statusClientClosedRequest is logged for requests the client abandoned.
	statusClientClosedRequest = 499
)

// Handlers holds dependencies for the API handlers.
type Handlers struct {
	service  *audit.Service
	defaults checker.ProbeConfig
	logger   logger.Logger
}

// NewHandlers creates a new Handlers struct. defaults fills any probe
// setting a request leaves out.
func NewHandlers(svc *audit.Service, defaults checker.ProbeConfig, log logger.Logger) *Handlers {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handlers{service: svc, defaults: defaults, logger: log.With(logger.String("component", "api"))}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// createAuditRequest is the body of POST /v1/audits. Omitted probe
// settings take the server defaults.
type createAuditRequest struct {
	SitemapURL      string `json:"sitemap_url"`
	Concurrency     *int   `json:"concurrency"`
	TimeoutMS       *int64 `json:"timeout_ms"`
	FollowRedirects *bool  `json:"follow_redirects"`
	RateLimitMS     *int64 `json:"rate_limit_ms"`
	MaxURLs         *int   `json:"max_urls"`
}

func (req createAuditRequest) probeConfig(defaults checker.ProbeConfig) (checker.ProbeConfig, error) {
	cfg := defaults
	if req.Concurrency != nil {
		cfg.Concurrency = *req.Concurrency
	}
	if req.TimeoutMS != nil {
		d, err := millis("timeout_ms", *req.TimeoutMS)
		if err != nil {
			return cfg, err
		}
		cfg.Timeout = d
	}
	if req.FollowRedirects != nil {
		cfg.FollowRedirects = *req.FollowRedirects
	}
	if req.RateLimitMS != nil {
		d, err := millis("rate_limit_ms", *req.RateLimitMS)
		if err != nil {
			return cfg, err
		}
		cfg.RateLimit = d
	}
	if req.MaxURLs != nil {
		cfg.MaxURLs = *req.MaxURLs
	}
	return cfg, nil
}

// millis converts a millisecond setting. Negative values pass through for
// the probe config to reject.
func millis(field string, ms int64) (time.Duration, error) {
	if ms > maxDurationMS {
		return 0, fmt.Errorf("%s must not exceed %d", field, maxDurationMS)
	}
	if ms < -maxDurationMS {
		ms = -maxDurationMS
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// CreateAudit starts an audit in the background.
func (h *Handlers) CreateAudit(w http.ResponseWriter, r *http.Request) {
	var req createAuditRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := urlutil.Canonicalize(req.SitemapURL); err != nil {
		writeError(w, http.StatusBadRequest, "sitemap_url: "+err.Error())
		return
	}

	cfg, err := req.probeConfig(h.defaults)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.service.Start(r.Context(), req.SitemapURL, cfg)
	switch {
	case errors.Is(err, audit.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Location", "/v1/audits/"+sess.ID())
	writeJSON(w, http.StatusAccepted, sess.Snapshot(false))
}

// ListAudits lists known audits without their per-URL results.
func (h *Handlers) ListAudits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Items []audit.Snapshot `json:"items"`
	}{Items: h.service.List()})
}

// GetAudit returns one audit; ?results=true includes per-URL results.
func (h *Handlers) GetAudit(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Get(chi.URLParam(r, "auditID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	withResults, _ := strconv.ParseBool(r.URL.Query().Get("results"))
	writeJSON(w, http.StatusOK, sess.Snapshot(withResults))
}

// CancelAudit stops a running audit.
func (h *Handlers) CancelAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "auditID")
	if err := h.service.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	sess, err := h.service.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, sess.Snapshot(false))
}

// Resolve flattens a sitemap without probing it.
func (h *Handlers) Resolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SitemapURL string `json:"sitemap_url"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := urlutil.Canonicalize(req.SitemapURL); err != nil {
		writeError(w, http.StatusBadRequest, "sitemap_url: "+err.Error())
		return
	}

	res, err := h.service.Resolver().Resolve(r.Context(), req.SitemapURL)
	if err != nil {
		var fetchErr *sitemap.FetchError
		var parseErr *sitemap.ParseError
		switch {
		case errors.Is(err, context.Canceled) || r.Context().Err() != nil:
			h.logger.Debug("resolve abandoned by client", logger.String("sitemap_url", req.SitemapURL))
			writeError(w, statusClientClosedRequest, "request cancelled")
		case errors.As(err, &parseErr):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.As(err, &fetchErr):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			h.logger.Error("resolve failed", logger.String("sitemap_url", req.SitemapURL), logger.Err(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Discover reports robots.txt sitemap declarations and common sitemap paths for a site.
func (h *Handlers) Discover(w http.ResponseWriter, r *http.Request) {
	site := r.URL.Query().Get("url")
	robots, sitemaps, err := h.service.Resolver().Discover(r.Context(), site)
	if err != nil {
		writeError(w, http.StatusBadRequest, "url: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Robots   *sitemap.RobotsReport `json:"robots"`
		Sitemaps []string              `json:"sitemaps"`
	}{Robots: robots, Sitemaps: sitemaps})
}

// History lists recorded audits, optionally since an RFC3339 time and for one sitemap.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since time.Time
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		since = t
	}

	items, err := h.service.History(r.Context(), since, q.Get("sitemap_url"))
	if err != nil {
		h.logger.Error("list history failed", logger.Err(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Items any `json:"items"`
	}{Items: items})
}

// Healthz is a simple health check endpoint.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
