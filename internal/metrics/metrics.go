// Package metrics exposes Prometheus collectors for the discipline sync service.
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
	syncRunsTotal              *prometheus.CounterVec
	syncRunDurationSeconds     prometheus.Histogram
	syncDisciplinesTotal       *prometheus.CounterVec
	syncRemovalsTotal          prometheus.Counter
	syncActiveWorkers          prometheus.Gauge
	portalRequestsTotal        *prometheus.CounterVec
	portalRequestSeconds       *prometheus.HistogramVec
	portalRetriesTotal         *prometheus.CounterVec
	portalReauthTotal          *prometheus.CounterVec
	portalRateLimitDelays      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		syncRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discipline_sync_runs_total",
				Help: "Total number of synchronization runs, labeled by final status.",
			},
			[]string{"status"},
		)

		syncRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "discipline_sync_run_duration_seconds",
				Help:    "Histogram of synchronization run wall time.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		)

		syncDisciplinesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discipline_sync_disciplines_total",
				Help: "Per-discipline outcomes, labeled by state and failure kind.",
			},
			[]string{"state", "kind"},
		)

		syncRemovalsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "discipline_sync_removals_total",
				Help: "Disciplines removed after a complete enumeration omitted them.",
			},
		)

		syncActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "discipline_sync_active_workers",
				Help: "Number of workers currently processing a discipline.",
			},
		)

		portalRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discipline_sync_portal_requests_total",
				Help: "Portal requests, labeled by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		)

		portalRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "discipline_sync_portal_request_duration_seconds",
				Help:    "Histogram of portal request latency including retries.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		)

		portalRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discipline_sync_portal_retries_total",
				Help: "Portal request retries after transient failures.",
			},
			[]string{"endpoint"},
		)

		portalReauthTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discipline_sync_portal_reauth_total",
				Help: "Mid-run re-authentications, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		portalRateLimitDelays = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "discipline_sync_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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
	Init()
	return promhttp.Handler()
}

// ObserveSyncRun records a finished run.
func ObserveSyncRun(status string, duration time.Duration) {
	Init()
	syncRunsTotal.WithLabelValues(status).Inc()
	syncRunDurationSeconds.Observe(duration.Seconds())
}

// ObserveDisciplineOutcome counts one discipline result.
func ObserveDisciplineOutcome(state, kind string) {
	Init()
	if kind == "" {
		kind = "none"
	}
	syncDisciplinesTotal.WithLabelValues(state, kind).Inc()
}

// ObserveRemovals counts disciplines dropped by run finalization.
func ObserveRemovals(n int) {
	Init()
	if n > 0 {
		syncRemovalsTotal.Add(float64(n))
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	syncActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	syncActiveWorkers.Dec()
}

// ObservePortalRequest records one logical portal request.
func ObservePortalRequest(endpoint, outcome string, duration time.Duration) {
	Init()
	portalRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	portalRequestSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObservePortalRetry counts a retried portal attempt.
func ObservePortalRetry(endpoint string) {
	Init()
	portalRetriesTotal.WithLabelValues(endpoint).Inc()
}

// ObserveReauth counts a mid-run re-authentication.
func ObserveReauth(outcome string) {
	Init()
	portalReauthTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	portalRateLimitDelays.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
