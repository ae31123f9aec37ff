package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jeongwoohan/grantcat/pkg/config"
	"github.com/jeongwoohan/grantcat/pkg/health"
	"github.com/jeongwoohan/grantcat/pkg/metrics"
	"github.com/jeongwoohan/grantcat/pkg/middleware"
)

// NewRouter wires the HTTP surface: catalog routes, search, health, and
// the metrics endpoint.
func NewRouter(
	h *Handler,
	checker *health.Checker,
	m *metrics.Metrics,
	cfg config.Config,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics(m))
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	r.Route("/announcements", func(r chi.Router) {
		r.Post("/", h.CreateAnnouncement)
		r.Get("/", h.ListAnnouncements)
		r.Get("/{id}", h.GetAnnouncement)
		r.Patch("/{id}", h.UpdateAnnouncement)
		r.Delete("/{id}", h.DeleteAnnouncement)
	})
	r.Get("/search", h.Search)
	r.Get("/organizations", h.ListOrganizations)
	r.Post("/organizations", h.AddOrganization)
	r.Post("/index/rebuild", h.RebuildIndex)
	r.Get("/stats", h.Stats)
	r.Get("/cache/stats", h.CacheStats)

	r.Get("/healthz", checker.LiveHandler())
	r.Get("/readyz", checker.ReadyHandler())
	if cfg.Metrics.Enabled {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	return r
}
