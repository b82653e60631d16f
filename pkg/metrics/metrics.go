// Package metrics defines the Prometheus collectors used by the indexer and
// the search service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	BuildStepsTotal      *prometheus.CounterVec
	BuildProgress        prometheus.Gauge
	IndexEntriesWritten  prometheus.Counter
	StopWordsTotal       prometheus.Gauge
	IncrementalUpdates   *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
	AnalyticsEvents      *prometheus.CounterVec
}

// New creates all collectors and registers them with reg.
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
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by backend and outcome (ok, zero_result, rejected, unavailable, error).",
			},
			[]string{"backend", "outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"backend", "cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of matching messages per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500, 1000},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_cache_hits_total",
				Help: "Total number of search result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_cache_misses_total",
				Help: "Total number of search result cache misses.",
			},
		),
		BuildStepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_build_steps_total",
				Help: "Index build steps by phase and status.",
			},
			[]string{"phase", "status"},
		),
		BuildProgress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_build_progress_percent",
				Help: "Progress of the running index build (0-100).",
			},
		),
		IndexEntriesWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_entries_written_total",
				Help: "Word/message pairs submitted to the index store.",
			},
		),
		StopWordsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_stop_words",
				Help: "Number of word ids on the stop-word list.",
			},
		),
		IncrementalUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_incremental_updates_total",
				Help: "Incremental index updates by action and status.",
			},
			[]string{"action", "status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		AnalyticsEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analytics_events_total",
				Help: "Search events handed to the analytics stream by outcome (published, dropped, failed).",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.BuildStepsTotal,
		m.BuildProgress,
		m.IndexEntriesWritten,
		m.StopWordsTotal,
		m.IncrementalUpdates,
		m.CircuitBreakerState,
		m.AnalyticsEvents,
	)

	return m
}

// NewUnregistered returns collectors bound to a private registry. Tests and
// tools that never expose /metrics use it.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// NewService registers the collectors in a fresh registry together with
// the Go runtime and process collectors. Every series carries a
// service=<name> label so one dashboard can tell the binaries apart.
func NewService(service string) (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	labelled := prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, reg)
	return New(labelled), reg
}

// Handler serves the series gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
