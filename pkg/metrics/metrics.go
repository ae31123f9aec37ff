// Package metrics defines the Prometheus metric collectors used across the
// catalog and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the catalog service.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	MutationsTotal     *prometheus.CounterVec
	AnnouncementsTotal prometheus.Gauge
	OrganizationsTotal prometheus.Gauge
	IndexEntries       prometheus.Gauge
	IndexDiverged      prometheus.Gauge
	IndexRebuildsTotal prometheus.Counter

	ImportBatchesTotal *prometheus.CounterVec
	ImportRecordsTotal *prometheus.CounterVec

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
}

// New creates all collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_mutations_total",
				Help: "Catalog mutations by operation (create, update, delete, upsert) and outcome.",
			},
			[]string{"op", "outcome"},
		),
		AnnouncementsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_announcements",
				Help: "Number of announcements currently in the primary store.",
			},
		),
		OrganizationsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_organizations",
				Help: "Number of organizations currently in the primary store.",
			},
		),
		IndexEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_index_entries",
				Help: "Number of (field, value) keys in the inverted index.",
			},
		),
		IndexDiverged: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_index_diverged",
				Help: "1 when the inverted index is flagged divergent from the store.",
			},
		),
		IndexRebuildsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_index_rebuilds_total",
				Help: "Total full index rebuilds.",
			},
		),
		ImportBatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "import_batches_total",
				Help: "Import batches applied, by outcome.",
			},
			[]string{"outcome"},
		),
		ImportRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "import_records_total",
				Help: "Import records processed, by result (created, updated, unchanged, skipped).",
			},
			[]string{"result"},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (indexed, full_scan).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of search cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of search cache misses.",
			},
		),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.MutationsTotal,
		m.AnnouncementsTotal,
		m.OrganizationsTotal,
		m.IndexEntries,
		m.IndexDiverged,
		m.IndexRebuildsTotal,
		m.ImportBatchesTotal,
		m.ImportRecordsTotal,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)
	return m
}

// Handler returns the Prometheus scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
