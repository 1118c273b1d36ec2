// Package server: metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the route pattern rather than the raw URL path.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// generationRequestsTotal counts completed model-backed requests,
	// partitioned by operation ("ingest", "quiz", "notes") and outcome
	// ("ok", "timeout", or "error").
	generationRequestsTotal *prometheus.CounterVec

	// generationDurationSeconds records the wall-clock duration of each
	// model-backed request.
	generationDurationSeconds *prometheus.HistogramVec

	// generationInFlight is the number of model-backed requests in progress.
	generationInFlight prometheus.Gauge

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, route pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		generationRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studyai",
			Subsystem: "generation",
			Name:      "requests_total",
			Help:      "Total number of model-backed requests completed, partitioned by operation and outcome.",
		}, []string{"operation", "outcome"}),

		generationDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "studyai",
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of model-backed requests.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"operation", "outcome"}),

		generationInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "studyai",
			Subsystem: "generation",
			Name:      "in_flight",
			Help:      "Number of model-backed requests currently in progress.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studyai",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "studyai",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// instrument records request count and latency per route pattern. The mux
// sets r.Pattern on the request it is handed, so next must be the mux.
func (m *serverMetrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

// track starts timing a model-backed operation. The returned func records
// the outcome of err.
func (m *serverMetrics) track(operation string) func(err error) {
	m.generationInFlight.Inc()
	start := time.Now()
	return func(err error) {
		m.generationInFlight.Dec()
		outcome := "ok"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			outcome = "timeout"
		case err != nil:
			outcome = "error"
		}
		m.generationRequestsTotal.WithLabelValues(operation, outcome).Inc()
		m.generationDurationSeconds.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
	}
}
