// Package metrics exposes Prometheus collectors for the scraper.
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
	serviceRequestsTotal          *prometheus.CounterVec
	serviceRequestDurationSeconds *prometheus.HistogramVec
	serviceRetriesTotal           *prometheus.CounterVec
	servicePollsTotal             prometheus.Counter
	serviceRestartsTotal          prometheus.Counter
	scraperPagesTotal             prometheus.Counter
	scraperRecordsTotal           prometheus.Counter
	scraperKeysTotal              *prometheus.CounterVec
	rateLimitDelaysSeconds        prometheus.Histogram
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		serviceRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_service_requests_total",
				Help: "Total requests sent to the directory service, labeled by operation and code.",
			},
			[]string{"op", "code"},
		)

		serviceRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_service_request_duration_seconds",
				Help:    "Histogram of directory service request latencies, labeled by operation.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"op"},
		)

		serviceRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_service_retries_total",
				Help: "Total transport retries after transient failures, labeled by operation.",
			},
			[]string{"op"},
		)

		servicePollsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_service_polls_total",
				Help: "Total re-requests while the service was still computing results.",
			},
		)

		serviceRestartsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_service_restarts_total",
				Help: "Total restarts of the supervised service process.",
			},
		)

		scraperPagesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_pages_total",
				Help: "Total result pages flattened and inserted.",
			},
		)

		scraperRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_records_total",
				Help: "Total records inserted into open batches.",
			},
		)

		scraperKeysTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_keys_total",
				Help: "Total query keys processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delays_seconds",
				Help:    "Histogram of request pacing wait durations.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_http_requests_total",
				Help: "Total requests served by the status server, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_http_request_duration_seconds",
				Help:    "Histogram of status server latencies, labeled by method and route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest records one request to the service.
func ObserveRequest(op string, code int, duration time.Duration) {
	Init()
	serviceRequestsTotal.WithLabelValues(op, strconv.Itoa(code)).Inc()
	serviceRequestDurationSeconds.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveRetry increments the retry counter for op.
func ObserveRetry(op string) {
	Init()
	serviceRetriesTotal.WithLabelValues(op).Inc()
}

// ObservePoll increments the still-computing poll counter.
func ObservePoll() {
	Init()
	servicePollsTotal.Inc()
}

// ObserveRestart increments the service restart counter.
func ObserveRestart() {
	Init()
	serviceRestartsTotal.Inc()
}

// ObservePage records one stored page and its record count.
func ObservePage(records int) {
	Init()
	scraperPagesTotal.Inc()
	if records > 0 {
		scraperRecordsTotal.Add(float64(records))
	}
}

// ObserveKey increments the key counter for the given outcome.
func ObserveKey(outcome string) {
	Init()
	scraperKeysTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest records one request served by the status server.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
