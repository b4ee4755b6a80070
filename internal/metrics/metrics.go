// Package metrics defines the Prometheus metrics for the chat server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dify-chat/internal/llm"
)

const MetricsPath = "/metrics"

var (
	chatAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_upstream_attempts_total",
			Help: "Upstream chat API attempts by result (HTTP status, timeout or transport_error)",
		},
		[]string{"result"},
	)
	chatOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_outcomes_total",
			Help: "Final chat query outcomes by category (ok for successes)",
		},
		[]string{"category"},
	)
	chatDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_query_duration_seconds",
			Help:    "Time spent on one chat query including retries and backoff",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests to the chat server",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds for the chat server",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	httpRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests being processed by the chat server",
		},
	)
)

func init() {
	prometheus.MustRegister(chatAttemptsTotal)
	prometheus.MustRegister(chatOutcomesTotal)
	prometheus.MustRegister(chatDuration)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestsInFlight)
}

// Recorder implements llm.Recorder on the package metrics.
type Recorder struct{}

func (Recorder) Attempt(result string) {
	chatAttemptsTotal.WithLabelValues(result).Inc()
}

func (Recorder) Outcome(o llm.Outcome, elapsed time.Duration) {
	category := "ok"
	if !o.Success {
		category = string(o.Category)
	}
	chatOutcomesTotal.WithLabelValues(category).Inc()
	chatDuration.Observe(elapsed.Seconds())
}

// Middleware records request counts and latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := strconv.Itoa(ww.Status())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
