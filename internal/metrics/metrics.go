// Package metrics exposes Prometheus collectors for the docsift service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pipelinePagesTotal         *prometheus.CounterVec
	pipelineDocsScoredTotal    *prometheus.CounterVec
	pipelineRunsTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		pipelinePagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsift_pages_total",
				Help: "Total pages handled by the scrape stage, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		pipelineDocsScoredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsift_docs_scored_total",
				Help: "Total documents submitted to the scoring backend, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		pipelineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsift_pipeline_runs_total",
				Help: "Total pipeline stage runs, labeled by stage and status.",
			},
			[]string{"stage", "status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts a scrape-stage page outcome: fetched, skipped or error.
func ObservePage(outcome string) {
	if pipelinePagesTotal == nil {
		return
	}
	pipelinePagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveScore counts a scoring outcome: scored or error.
func ObserveScore(outcome string) {
	if pipelineDocsScoredTotal == nil {
		return
	}
	pipelineDocsScoredTotal.WithLabelValues(outcome).Inc()
}

// ObserveRun counts a completed stage run.
func ObserveRun(stage, status string) {
	if pipelineRunsTotal == nil {
		return
	}
	pipelineRunsTotal.WithLabelValues(stage, status).Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
