package observe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, met.Data)
	}
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func TestRecordToolCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "create_project", StatusOK)
	m.RecordToolCall(ctx, "create_project", StatusOK)
	m.RecordToolCall(ctx, "github_search_code", StatusRateLimited)

	rm := collect(t, reader)
	if got := counterValue(t, rm, "opbridge.tool.calls",
		attribute.String("tool", "create_project"), attribute.String("status", "ok")); got != 2 {
		t.Errorf("create_project ok = %d, want 2", got)
	}
	if got := counterValue(t, rm, "opbridge.tool.calls",
		attribute.String("tool", "github_search_code"), attribute.String("status", "rate_limited")); got != 1 {
		t.Errorf("github_search_code rate_limited = %d, want 1", got)
	}
}

func TestRecordTurn(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordTurn(context.Background(), StatusOK, 1.5)

	rm := collect(t, reader)
	if got := counterValue(t, rm, "opbridge.turns", attribute.String("status", "ok")); got != 1 {
		t.Errorf("turns = %d, want 1", got)
	}
	met := findMetric(rm, "opbridge.turn.duration")
	if met == nil {
		t.Fatal("turn duration not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if hist.DataPoints[0].Count != 1 || hist.DataPoints[0].Sum != 1.5 {
		t.Errorf("histogram = %+v", hist.DataPoints[0])
	}
}

func TestRecordAssistantCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecordAssistantCall(ctx, "add_message", 0.2, nil)
	m.RecordAssistantCall(ctx, "add_message", 0.3, errors.New("boom"))

	rm := collect(t, reader)
	if got := counterValue(t, rm, "opbridge.assistant.errors", attribute.String("op", "add_message")); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestMiddleware(t *testing.T) {
	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	var seen string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sendMessage", nil))

	if len(seen) != 32 {
		t.Errorf("correlation ID = %q, want 32 hex chars", seen)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != seen {
		t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP POST /sendMessage" {
		t.Errorf("spans = %+v", spans)
	}
	if findMetric(collect(t, reader), "opbridge.http.request.duration") == nil {
		t.Error("http duration not recorded")
	}
}

func TestCorrelationID_NoSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}
