package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpDurationBuckets   = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	reportDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
)

// Transition results.
const (
	ResultOK          = "ok"
	ResultInvalid     = "invalid"
	ResultSideEffect  = "side_effect_failed"
	ResultStoreFailed = "error"
)

// Metrics holds the Prometheus instruments of the service.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	TransitionsTotal *prometheus.CounterVec

	ReportsTotal        *prometheus.CounterVec
	ReportDuration      prometheus.Histogram
	ReportAlerts        *prometheus.CounterVec
	ReportCacheHits     prometheus.Counter
	ReportCacheMisses   prometheus.Counter
	ReportCacheFailures prometheus.Counter

	gatherer prometheus.Gatherer
}

// InitMetrics creates and registers all instruments on reg. When reg is also
// a Gatherer, Handler serves it.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docusphere_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docusphere_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docusphere_workflow_transitions_total",
			Help: "Workflow transitions attempted, by entity kind, target status and result.",
		}, []string{"kind", "to", "result"}),

		ReportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docusphere_reports_total",
			Help: "Progress reports generated.",
		}, []string{"status"}),
		ReportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docusphere_report_duration_seconds",
			Help:    "Time to load a snapshot and build a progress report.",
			Buckets: reportDurationBuckets,
		}),
		ReportAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docusphere_report_alerts_total",
			Help: "Alerts emitted by progress reports, by type.",
		}, []string{"type"}),
		ReportCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docusphere_report_cache_hits_total",
			Help: "Report cache hits.",
		}),
		ReportCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docusphere_report_cache_misses_total",
			Help: "Report cache misses.",
		}),
		ReportCacheFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docusphere_report_cache_errors_total",
			Help: "Report cache read or write failures.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TransitionsTotal,
		m.ReportsTotal,
		m.ReportDuration,
		m.ReportAlerts,
		m.ReportCacheHits,
		m.ReportCacheMisses,
		m.ReportCacheFailures,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

func (m *Metrics) RecordTransition(kind, to, result string) {
	m.TransitionsTotal.WithLabelValues(kind, to, result).Inc()
}

// RecordReport records one report build and counts its alerts by type.
func (m *Metrics) RecordReport(status string, duration time.Duration, alertTypes []string) {
	m.ReportsTotal.WithLabelValues(status).Inc()
	m.ReportDuration.Observe(duration.Seconds())
	for _, t := range alertTypes {
		m.ReportAlerts.WithLabelValues(t).Inc()
	}
}

func (m *Metrics) RecordCacheHit()   { m.ReportCacheHits.Inc() }
func (m *Metrics) RecordCacheMiss()  { m.ReportCacheMisses.Inc() }
func (m *Metrics) RecordCacheError() { m.ReportCacheFailures.Inc() }

// MetricsMiddleware records request metrics under chi's route pattern rather
// than the raw path.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler serves the registry the metrics were registered on, or the default
// gatherer.
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.TrimSuffix(strings.Join(rctx.RoutePatterns, ""), "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
