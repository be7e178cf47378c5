package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// labelHandler partitions HTTP metrics by route pattern rather than raw
// path, so document IDs do not explode cardinality.
const labelHandler = "handler"

// unmatchedHandler labels requests that matched no route.
const unmatchedHandler = "unmatched"

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New so tests can inject a fresh registry.
type serverMetrics struct {
	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, route pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// uploadBytes records the size of accepted document uploads.
	uploadBytes prometheus.Histogram

	// retrieveRequestsTotal counts /api/retrieve calls by outcome:
	// "ok", "empty", "bad_request", or "error".
	retrieveRequestsTotal *prometheus.CounterVec

	rateLimitedTotal prometheus.Counter
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cograg",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cograg",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),

		uploadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cograg",
			Subsystem: "http",
			Name:      "upload_bytes",
			Help:      "Size of accepted document uploads.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 9),
		}),

		retrieveRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cograg",
			Subsystem: "http",
			Name:      "retrieve_requests_total",
			Help:      "Total number of /api/retrieve requests, partitioned by outcome.",
		}, []string{"outcome"}),

		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cograg",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-IP rate limiter.",
		}),
	}
}
