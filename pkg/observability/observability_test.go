package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/docbrain-ai/docbrain/pkg/config"
)

func TestMetricsRecordingNilSafe(t *testing.T) {
	ctx := context.Background()

	// Zero value has no instruments; every recorder must be a no-op.
	metrics := &PrometheusMetrics{}

	metrics.RecordIngestion(ctx, "pdf", 100*time.Millisecond, 42, nil)
	metrics.RecordQuery(ctx, "rag", 200*time.Millisecond, nil)
	metrics.RecordLLMCall(ctx, "gpt-4o", 500*time.Millisecond, 100, 50, nil)
	metrics.RecordEmbedding(ctx, "text-embedding-3-small", 50*time.Millisecond, 100, nil)
	metrics.RecordTask(ctx, "ingest_document", time.Second, nil)
	metrics.RecordVectorSearch(ctx, "kb-1", 20*time.Millisecond, nil)
	metrics.RecordHTTPRequest(ctx, "GET", "/healthz", 200, time.Millisecond)
}

func TestNilMetricsReceiver(t *testing.T) {
	ctx := context.Background()
	var metrics *PrometheusMetrics

	metrics.RecordQuery(ctx, "rag", time.Millisecond, nil)
	metrics.RecordTask(ctx, "ingest_document", time.Millisecond, nil)
}

func TestGlobalMetricsNeverNil(t *testing.T) {
	SetGlobalMetrics(nil)
	defer SetGlobalMetrics(nil)

	m := GetGlobalMetrics()
	if m == nil {
		t.Fatal("GetGlobalMetrics must return a usable sink")
	}
	m.RecordQuery(context.Background(), "rag", time.Millisecond, nil)
}

func TestNoopManagerAccessors(t *testing.T) {
	m := NoopManager()

	tracer := m.GetTracer("test")
	if tracer == nil {
		t.Fatal("expected noop tracer")
	}
	_, span := tracer.Start(context.Background(), "test_span")
	span.End()

	if m.GetMetrics() == nil {
		t.Fatal("expected noop metrics")
	}

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown should not fail: %v", err)
	}
}

func TestManagerInitializeDisabled(t *testing.T) {
	cfg := config.ObservabilityConfig{}
	cfg.SetDefaults()
	disabled := false
	cfg.Metrics.Enabled = &disabled

	m := NewManager(cfg)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize with everything disabled: %v", err)
	}

	m.GetMetrics().RecordQuery(context.Background(), "rag", time.Millisecond, nil)
}

func TestHTTPMiddleware(t *testing.T) {
	handler := HTTPMiddleware(nil, &NoopMetrics{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/query", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected status passthrough, got %d", rec.Code)
	}
	if rec.Body.String() != "short and stout" {
		t.Errorf("unexpected body: %q", rec.Body.String())
	}
}

func TestResponseWriterDoubleWriteHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	w.WriteHeader(http.StatusAccepted)
	w.WriteHeader(http.StatusInternalServerError)

	if w.statusCode != http.StatusAccepted {
		t.Errorf("first WriteHeader should win, got %d", w.statusCode)
	}
}
