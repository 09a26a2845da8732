// Package metrics provides Prometheus metrics for the POS backend
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orema",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orema",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "orema",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	// HTTPResponseSize measures HTTP response size in bytes
	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orema",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "path"},
	)
)

var (
	// DBConnectionsOpen tracks open database connections per pool view.
	// database/sql connections are borrowed from the pgx pool, so the
	// "database_sql" series is a subset of "pgxpool" and must not be summed with it.
	DBConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "orema",
			Subsystem: "db",
			Name:      "connections_open",
			Help:      "Number of open database connections by pool (database_sql is a subset of pgxpool)",
		},
		[]string{"pool"},
	)

	// DBConnectionsInUse tracks database connections currently in use
	DBConnectionsInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "orema",
			Subsystem: "db",
			Name:      "connections_in_use",
			Help:      "Number of database connections currently in use by pool",
		},
		[]string{"pool"},
	)

	// DBConnectionsIdle tracks idle database connections
	DBConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "orema",
			Subsystem: "db",
			Name:      "connections_idle",
			Help:      "Number of idle database connections by pool",
		},
		[]string{"pool"},
	)

	// DBConnectionsMaxOpen tracks maximum open database connections
	DBConnectionsMaxOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "orema",
			Subsystem: "db",
			Name:      "connections_max_open",
			Help:      "Maximum number of open database connections by pool (0 means unlimited)",
		},
		[]string{"pool"},
	)

	// DBQueryDuration measures database query duration
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orema",
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)
)

var (
	// LoginAttemptsTotal counts login attempts by method and outcome
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orema",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts by method (password, pin) and outcome",
		},
		[]string{"method", "outcome"},
	)

	// LockoutsTotal counts identifiers locked after too many failures
	LockoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orema",
			Subsystem: "auth",
			Name:      "lockouts_total",
			Help:      "Total number of account lockouts by method",
		},
		[]string{"method"},
	)

	// SessionRejectionsTotal counts rejected session lookups by reason
	SessionRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orema",
			Subsystem: "auth",
			Name:      "session_rejections_total",
			Help:      "Total number of rejected session validations by reason",
		},
		[]string{"reason"},
	)

	// LogoutsTotal counts explicit logouts
	LogoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orema",
			Subsystem: "auth",
			Name:      "logouts_total",
			Help:      "Total number of logouts",
		},
	)

	// RateLimitRejectionsTotal counts requests refused by a rate-limit preset
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orema",
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Total number of requests rejected by rate limit preset",
		},
		[]string{"preset"},
	)

	// SecurityEventsPublished counts security events by type
	SecurityEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orema",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of security events published by type",
		},
		[]string{"event_type"},
	)

	// EventStreamConnections tracks open security event streams
	EventStreamConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "orema",
			Subsystem: "events",
			Name:      "stream_connections",
			Help:      "Number of open security event stream connections",
		},
	)

	// EventStreamDropped counts events dropped for slow stream clients
	EventStreamDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orema",
			Subsystem: "events",
			Name:      "stream_dropped_total",
			Help:      "Total number of security events dropped because a stream client was too slow",
		},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

// newResponseWriter creates a new responseWriter
func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush lets streaming handlers flush through the wrapper
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns a chi middleware that records HTTP metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Track in-flight requests
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		// Wrap response writer to capture status and size
		rw := newResponseWriter(w)

		// Process request
		next.ServeHTTP(rw, r)

		// Calculate duration
		duration := time.Since(start).Seconds()

		// Get route pattern for consistent labeling
		path := getRoutePattern(r)

		// Record metrics
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
		HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.size))
	})
}

// getRoutePattern returns the route pattern from chi context
// Falls back to URL path if pattern not available
func getRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
