package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	for level, debug := range map[string]bool{"debug": true, "info": false, "bogus": false} {
		logger, err := NewLogger(level)
		if err != nil {
			t.Fatalf("NewLogger(%q) error = %v", level, err)
		}
		if !logger.Core().Enabled(zapcore.InfoLevel) {
			t.Errorf("%s: info should be enabled", level)
		}
		if got := logger.Core().Enabled(zapcore.DebugLevel); got != debug {
			t.Errorf("%s: debug enabled = %v, want %v", level, got, debug)
		}
	}
}

func TestLoggerFromContext(t *testing.T) {
	logger := zap.NewExample()
	ctx := WithLogger(context.Background(), logger)
	if got := LoggerFrom(ctx, nil); got != logger {
		t.Fatal("expected context logger")
	}
	fallback := zap.NewNop()
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Fatal("expected fallback logger")
	}
	if LoggerFrom(context.Background(), nil) == nil {
		t.Fatal("expected a no-op logger, got nil")
	}
}

func TestInitMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	m.RecordTransition("task", "completed", ResultOK)
	m.RecordReport("ok", 5*time.Millisecond, []string{"danger", "warning", "danger"})
	m.RecordCacheHit()

	if got := testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("task", "completed", ResultOK)); got != 1 {
		t.Fatalf("transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ReportAlerts.WithLabelValues("danger")); got != 2 {
		t.Fatalf("danger alerts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ReportCacheHits); got != 1 {
		t.Fatalf("cache hits = %v, want 1", got)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"docusphere_workflow_transitions_total", "docusphere_reports_total", "docusphere_report_duration_seconds"} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	m := InitMetrics(prometheus.NewRegistry())
	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/projects/{project_id}/report", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/metrics", m.Handler().ServeHTTP)

	req := httptest.NewRequest(http.MethodGet, "/projects/p-42/report", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/projects/{project_id}/report", "418")); got != 1 {
		t.Fatalf("request counter = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "docusphere_http_requests_total") {
		t.Fatalf("metrics endpoint missing counter:\n%s", body)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), false, "test", io.Discard)
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
}

func TestEndSpanWithError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter), sdktrace.WithSampler(sdktrace.AlwaysSample()))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	_, span := StartSpan(context.Background(), "engine.Transition", AttrEntityKind.String("task"))
	EndSpanWithError(span, errors.New("boom"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Fatalf("span status = %v, want error", spans[0].Status.Code)
	}
}
