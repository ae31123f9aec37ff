// Package server exposes the catalog over HTTP: announcement CRUD, search,
// organizations, stats, and index maintenance.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeongwoohan/grantcat/internal/catalog"
	"github.com/jeongwoohan/grantcat/internal/coordinator"
	"github.com/jeongwoohan/grantcat/internal/index"
	"github.com/jeongwoohan/grantcat/internal/query"
	"github.com/jeongwoohan/grantcat/internal/query/cache"
	"github.com/jeongwoohan/grantcat/pkg/config"
	apperrors "github.com/jeongwoohan/grantcat/pkg/errors"
	"github.com/jeongwoohan/grantcat/pkg/logger"
	"github.com/jeongwoohan/grantcat/pkg/metrics"
)

// Handler carries the catalog's HTTP handlers. The cache is optional; when
// nil every search goes straight to the engine.
type Handler struct {
	coord   *coordinator.Coordinator
	engine  *query.Engine
	cache   *cache.QueryCache
	cfg     config.QueryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewHandler(
	coord *coordinator.Coordinator,
	engine *query.Engine,
	qc *cache.QueryCache,
	cfg config.QueryConfig,
	m *metrics.Metrics,
) *Handler {
	return &Handler{
		coord:   coord,
		engine:  engine,
		cache:   qc,
		cfg:     cfg,
		metrics: m,
		logger:  logger.WithComponent("http"),
	}
}

func (h *Handler) CreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	var a catalog.Announcement
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrValidation, 400, "invalid request body: %v", err))
		return
	}
	id, err := h.coord.Create(r.Context(), a)
	if err != nil && !errors.Is(err, apperrors.ErrDivergence) {
		h.writeError(w, r, err)
		return
	}
	if err != nil {
		// Record committed in memory but the index file write failed;
		// report the id alongside the degraded state.
		h.writeJSON(w, http.StatusCreated, map[string]any{"id": id, "warning": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) GetAnnouncement(w http.ResponseWriter, r *http.Request) {
	a, err := h.coord.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

func (h *Handler) ListAnnouncements(w http.ResponseWriter, r *http.Request) {
	anns, err := h.coord.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"total":         len(anns),
		"announcements": anns,
	})
}

func (h *Handler) UpdateAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req coordinator.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrValidation, 400, "invalid request body: %v", err))
		return
	}
	changed, err := h.coord.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

func (h *Handler) DeleteAnnouncement(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// searchParams maps query-string filters to indexed search conditions.
var searchParams = map[string]string{
	"org":           index.FieldOrganization,
	"region":        index.FieldRegion,
	"support_field": index.FieldSupportField,
	"keyword":       index.FieldTitleKeyword,
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	req := query.Request{Limit: h.cfg.DefaultLimit}
	q := r.URL.Query()
	for param, field := range searchParams {
		for _, value := range q[param] {
			if value = strings.TrimSpace(value); value != "" {
				req.Conditions = append(req.Conditions, query.Condition{Field: field, Value: value})
			}
		}
	}
	req.FreeText = strings.TrimSpace(q.Get("q"))
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			h.writeError(w, r, apperrors.Newf(apperrors.ErrValidation, 400, "invalid limit %q", raw))
			return
		}
		req.Limit = limit
	}
	if h.cfg.MaxResults > 0 && req.Limit > h.cfg.MaxResults {
		req.Limit = h.cfg.MaxResults
	}

	result, cached, err := h.search(r, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if cached {
		w.Header().Set("X-Cache", "hit")
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) search(r *http.Request, req query.Request) (*query.Result, bool, error) {
	start := time.Now()
	var result *query.Result
	var cached bool
	var err error
	if h.cache == nil {
		result, err = h.engine.Search(r.Context(), req)
	} else {
		result, cached, err = h.cache.GetOrCompute(r.Context(), req, func() (*query.Result, error) {
			return h.engine.Search(r.Context(), req)
		})
	}
	if err != nil {
		return nil, false, err
	}

	status := "miss"
	if cached {
		status = "hit"
		h.metrics.CacheHitsTotal.Inc()
	} else if h.cache != nil {
		h.metrics.CacheMissesTotal.Inc()
	}
	h.metrics.SearchLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
	return result, cached, nil
}

func (h *Handler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.coord.Organizations(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"total":         len(orgs),
		"organizations": orgs,
	})
}

func (h *Handler) AddOrganization(w http.ResponseWriter, r *http.Request) {
	var org catalog.Organization
	if err := json.NewDecoder(r.Body).Decode(&org); err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrValidation, 400, "invalid request body: %v", err))
		return
	}
	id, err := h.coord.AddOrganization(r.Context(), org.Name, org.Type)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.RebuildIndex(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

// CacheStats reports query cache hit and miss counters for this process.
// Answers 404 when the server runs without a cache.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrNotFound, 404, "query cache disabled"))
		return
	}
	hits, misses := h.cache.Stats()
	h.writeJSON(w, http.StatusOK, map[string]int64{"hits": hits, "misses": misses})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.coord.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= 500 {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", logger.RequestID(r.Context()),
			"error", err,
		)
	}
	body := map[string]any{"error": err.Error()}
	var verr *apperrors.ValidationError
	if errors.As(err, &verr) {
		body["fields"] = verr.Fields
	}
	h.writeJSON(w, status, body)
}
