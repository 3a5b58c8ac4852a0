// Package metrics exposes Prometheus collectors for the file-box service.
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
	pipelineStagesTotal          *prometheus.CounterVec
	pipelineStageDurationSeconds *prometheus.HistogramVec
	pipelineRetriesTotal         *prometheus.CounterVec
	pipelineActiveWorkers        prometheus.Gauge
	searchQueriesTotal           *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Stage outcome labels.
const (
	OutcomeOK     = "ok"
	OutcomeRetry  = "retry"
	OutcomeFailed = "failed"
	OutcomeLocked = "locked"
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pipelineStagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filebox_pipeline_stages_total",
				Help: "Total number of pipeline stage executions, labeled by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		)

		pipelineStageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filebox_pipeline_stage_duration_seconds",
				Help:    "Histogram of pipeline stage latencies, labeled by stage.",
				Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300},
			},
			[]string{"stage"},
		)

		pipelineRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filebox_pipeline_retries_total",
				Help: "Total number of scheduled stage retries, labeled by stage.",
			},
			[]string{"stage"},
		)

		pipelineActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "filebox_pipeline_active_workers",
				Help: "Number of workers currently executing a stage.",
			},
		)

		searchQueriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filebox_search_queries_total",
				Help: "Total number of search queries, labeled by mode and whether anything matched.",
			},
			[]string{"mode", "found"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveStage records one stage execution and its duration.
func ObserveStage(stage, outcome string, duration time.Duration) {
	pipelineStagesTotal.WithLabelValues(stage, outcome).Inc()
	pipelineStageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveRetry increments the retry counter for a stage.
func ObserveRetry(stage string) {
	pipelineRetriesTotal.WithLabelValues(stage).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	pipelineActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	pipelineActiveWorkers.Dec()
}

// ObserveSearch increments the search query counter.
func ObserveSearch(mode string, found bool) {
	searchQueriesTotal.WithLabelValues(mode, strconv.FormatBool(found)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
