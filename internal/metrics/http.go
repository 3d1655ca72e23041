// Package metrics exposes the service's Prometheus collectors and the
// per-task metrics collector behind the summary and export endpoints.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeStreams              prometheus.Gauge
	streamEventsTotal          *prometheus.CounterVec
	exportsTotal               *prometheus.CounterVec
	eventLogPurgedTotal        prometheus.Counter
	updatesThrottledTotal      prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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

		activeStreams = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "progress_active_streams",
				Help: "Number of open server-sent event streams.",
			},
		)

		streamEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "progress_stream_events_total",
				Help: "Server-sent events written, labeled by event type.",
			},
			[]string{"type"},
		)

		exportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "progress_metrics_exports_total",
				Help: "Metrics exports, labeled by format and result.",
			},
			[]string{"format", "result"},
		)

		eventLogPurgedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "progress_event_log_purged_total",
				Help: "Event log entries removed by retention.",
			},
		)

		updatesThrottledTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "progress_updates_throttled_total",
				Help: "Progress reports rejected by the per-task rate limit.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveThrottled counts one rejected progress report.
func ObserveThrottled() {
	Init()
	updatesThrottledTotal.Inc()
}

// StreamOpened tracks a newly opened event stream.
func StreamOpened() {
	Init()
	activeStreams.Inc()
}

// StreamClosed tracks a finished event stream.
func StreamClosed() {
	Init()
	activeStreams.Dec()
}

// ObserveStreamEvent counts one written stream event.
func ObserveStreamEvent(eventType string) {
	Init()
	streamEventsTotal.WithLabelValues(eventType).Inc()
}

// ObserveExport counts one export attempt.
func ObserveExport(format string, err error) {
	Init()
	result := "success"
	if err != nil {
		result = "error"
	}
	exportsTotal.WithLabelValues(format, result).Inc()
}

// ObservePurged adds n removed event log entries.
func ObservePurged(n int64) {
	Init()
	if n > 0 {
		eventLogPurgedTotal.Add(float64(n))
	}
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}

		ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming handlers working behind the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
