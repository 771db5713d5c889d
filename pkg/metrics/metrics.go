// Package metrics defines the Prometheus collectors used across the title
// pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	HTTPTimeoutsTotal    *prometheus.CounterVec

	WorkItemsTotal       prometheus.Counter
	UsersExcludedTotal   prometheus.Counter
	CatalogRequestsTotal *prometheus.CounterVec
	EventsPublishedTotal prometheus.Counter
	EventsDroppedTotal   prometheus.Counter

	StreamRecordsTotal   *prometheus.CounterVec
	BatchDuration        *prometheus.HistogramVec
	BatchRedeliveries    *prometheus.CounterVec
	TitlesUpsertedTotal  *prometheus.CounterVec
	IndexEntriesTotal    prometheus.Counter
	EnrichmentsTotal     *prometheus.CounterVec
	ReferenceWritesTotal *prometheus.CounterVec

	QueryCacheTotal *prometheus.CounterVec
	JobRunsTotal    *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec

	CircuitBreakerState *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. Production code
// passes prometheus.DefaultRegisterer; tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
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
		HTTPTimeoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_request_timeouts_total",
				Help: "Requests answered with 504 because the handler ran past its deadline.",
			},
			[]string{"path"},
		),
		BatchRedeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_batch_redeliveries_total",
				Help: "Uncommitted batches handed to the handler again after their retries ran out.",
			},
			[]string{"topic"},
		),
		WorkItemsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingestion_work_items_total",
				Help: "Distinct (source, genre) pairs produced by the preference aggregator.",
			},
		),
		UsersExcludedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingestion_users_excluded_total",
				Help: "Users whose preferences produced no pair (source-only or genre-only).",
			},
		),
		CatalogRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_requests_total",
				Help: "Catalog provider requests by operation and outcome (ok, transient, permanent, rate_limited).",
			},
			[]string{"operation", "outcome"},
		),
		EventsPublishedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "title_events_published_total",
				Help: "Title events written to the stream.",
			},
		),
		EventsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "title_events_dropped_total",
				Help: "Title events dropped after publish retries were exhausted.",
			},
		),
		StreamRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_records_total",
				Help: "Stream records by consumer and outcome (processed, malformed, skipped).",
			},
			[]string{"consumer", "outcome"},
		),
		BatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stream_batch_duration_seconds",
				Help:    "Time spent handling one stream batch.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"consumer", "status"},
		),
		TitlesUpsertedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "titles_upserted_total",
				Help: "Canonical title writes by kind (created, grown, unchanged).",
			},
			[]string{"kind"},
		),
		IndexEntriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_entries_written_total",
				Help: "Inverted index entries written.",
			},
		),
		EnrichmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrichments_total",
				Help: "Enrichment attempts by outcome (enriched, already_enriched, failed, ignored).",
			},
			[]string{"outcome"},
		),
		ReferenceWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reference_records_written_total",
				Help: "Reference records written or removed, by kind and action.",
			},
			[]string{"kind", "action"},
		),
		QueryCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_cache_total",
				Help: "Title query cache lookups by result (hit, miss, error).",
			},
			[]string{"result"},
		),
		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "job_runs_total",
				Help: "Pipeline job runs by job and status.",
			},
			[]string{"job", "status"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "job_duration_seconds",
				Help:    "Pipeline job run time.",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800},
			},
			[]string{"job"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.HTTPTimeoutsTotal,
		m.BatchRedeliveries,
		m.WorkItemsTotal,
		m.UsersExcludedTotal,
		m.CatalogRequestsTotal,
		m.EventsPublishedTotal,
		m.EventsDroppedTotal,
		m.StreamRecordsTotal,
		m.BatchDuration,
		m.TitlesUpsertedTotal,
		m.IndexEntriesTotal,
		m.EnrichmentsTotal,
		m.ReferenceWritesTotal,
		m.QueryCacheTotal,
		m.JobRunsTotal,
		m.JobDuration,
		m.CircuitBreakerState,
	)

	return m
}

// NewNoop returns collectors registered with a private registry, for code
// paths and tests that do not export metrics.
func NewNoop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns the Prometheus scrape HTTP handler for the default
// registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
