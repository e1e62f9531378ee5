package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache decision metrics
	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Cache lookups by cache and outcome (hit, miss, stale, rate_limited)",
		},
		[]string{"cache", "result"},
	)

	QuoteUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_updates_total",
			Help: "Quote refresh notifications consumed by the feed",
		},
		[]string{"result"},
	)

	// Upstream provider metrics
	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Requests sent to the market-data provider",
		},
		[]string{"function", "status"},
	)
	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Provider request duration including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"function"},
	)
	UpstreamRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "upstream_retries_total",
			Help: "Provider requests retried after a transient status",
		})

	// Store metrics
	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Persistent store operation duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation", "status"},
	)
	StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_errors_total",
			Help: "Total persistent store errors",
		},
		[]string{"backend", "operation"},
	)

	// API metrics
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	APIRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// Authentication metrics
	AuthMiddlewareErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_middleware_errors_total",
			Help: "Total authentication middleware errors",
		},
		[]string{"error_type"},
	)
)

func init() {
	// MustRegister panics if registration fails (e.g. duplicate)
	prometheus.MustRegister(
		CacheRequests, QuoteUpdates,
		UpstreamRequests, UpstreamLatency, UpstreamRetries,
		StoreOperationDuration, StoreErrors,
		APIRequestDuration, APIRequestTotal,
		AuthMiddlewareErrors,
	)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Status returns "success" or "error" for metric labels.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
