package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter registers the API handlers. A nil gatherer serves the default registry on /metrics.
func NewRouter(h *Handlers, gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/audits", h.CreateAudit)
		r.Get("/audits", h.ListAudits)
		r.Get("/audits/{auditID}", h.GetAudit)
		r.Post("/audits/{auditID}/cancel", h.CancelAudit)

		r.Post("/resolve", h.Resolve)
		r.Get("/discover", h.Discover)
		r.Get("/history", h.History)
	})
	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}
