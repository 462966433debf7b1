package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vrag"

// servedRoutes bounds the path label; anything else is reported as "other".
var servedRoutes = map[string]bool{
	"/v1/answer":           true,
	"/v1/chat/completions": true,
	"/v1/models":           true,
	"/v1/audit":            true,
	"/healthz":             true,
	"/metrics":             true,
}

// HTTPServerMetrics instruments the API listener. Every series carries a constant
// service label.
type HTTPServerMetrics struct {
	gatherer prometheus.Gatherer

	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	inFlight    prometheus.Gauge
	rateLimited *prometheus.CounterVec
	shed        *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string, registry *prometheus.Registry) *HTTPServerMetrics {
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, registry))
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: namespace, Subsystem: "http", Name: name, Help: help}
	}

	return &HTTPServerMetrics{
		gatherer: registry,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts(opts("requests_total", "HTTP requests served by route and status.")),
			[]string{"method", "path", "status"},
		),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency. Answers are slow, so buckets reach 80s.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"method", "path"}),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts(opts("in_flight_requests", "HTTP requests currently being served.")),
		),
		rateLimited: factory.NewCounterVec(
			prometheus.CounterOpts(opts("rate_limited_total", "Requests refused with 429 by the per-client limiter.")),
			[]string{"path"},
		),
		shed: factory.NewCounterVec(
			prometheus.CounterOpts(opts("shed_total", "Requests refused with 503 because every slot was busy.")),
			[]string{"path"},
		),
	}
}

// Handler exposes the registry the metrics were created on.
func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)

		route := routeLabel(r.URL.Path)
		m.latency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
	})
}

func (m *HTTPServerMetrics) RecordRateLimited(path string) {
	m.rateLimited.WithLabelValues(routeLabel(path)).Inc()
}

func (m *HTTPServerMetrics) RecordShed(path string) {
	m.shed.WithLabelValues(routeLabel(path)).Inc()
}

func routeLabel(path string) string {
	if servedRoutes[path] {
		return path
	}
	return "other"
}

// statusWriter remembers the status code and keeps SSE flushing working.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
