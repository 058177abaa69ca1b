// Package observability wires OpenTelemetry metrics and tracing.
//
// Metrics are exported through the Prometheus registry and served by the API
// server at /metrics. Tracing is off unless an exporter is configured. All
// recorders are nil-safe so instrumented code never has to check whether
// observability is enabled.
package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics records DocBrain operational measurements.
type Metrics interface {
	RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration)
	RecordIngestion(ctx context.Context, docType string, duration time.Duration, chunks int, err error)
	RecordQuery(ctx context.Context, service string, duration time.Duration, err error)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordEmbedding(ctx context.Context, model string, duration time.Duration, texts int, err error)
	RecordTask(ctx context.Context, task string, duration time.Duration, err error)
	RecordVectorSearch(ctx context.Context, namespace string, duration time.Duration, err error)
}

// PrometheusMetrics implements Metrics on OpenTelemetry instruments backed by
// the Prometheus exporter. The zero value is a valid no-op.
type PrometheusMetrics struct {
	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter

	ingestDuration metric.Float64Histogram
	ingestTotal    metric.Int64Counter
	ingestErrors   metric.Int64Counter
	chunksIndexed  metric.Int64Counter

	queryDuration metric.Float64Histogram
	queryTotal    metric.Int64Counter
	queryErrors   metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter

	embedDuration metric.Float64Histogram
	embedTexts    metric.Int64Counter
	embedErrors   metric.Int64Counter

	taskDuration metric.Float64Histogram
	taskTotal    metric.Int64Counter
	taskErrors   metric.Int64Counter

	searchDuration metric.Float64Histogram
	searchErrors   metric.Int64Counter
}

// InitMetrics creates the Prometheus exporter and all instruments.
// Returns an inert PrometheusMetrics when disabled.
func InitMetrics(ctx context.Context, enabled bool) (*PrometheusMetrics, error) {
	if !enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("docbrain")

	m := &PrometheusMetrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&m.httpDuration, "docbrain_http_request_duration_seconds", "HTTP request duration in seconds"},
		{&m.ingestDuration, "docbrain_ingestion_duration_seconds", "Document ingestion duration in seconds"},
		{&m.queryDuration, "docbrain_query_duration_seconds", "Query answering duration in seconds"},
		{&m.llmDuration, "docbrain_llm_request_duration_seconds", "LLM request duration in seconds"},
		{&m.embedDuration, "docbrain_embedding_duration_seconds", "Embedding request duration in seconds"},
		{&m.taskDuration, "docbrain_task_duration_seconds", "Background task duration in seconds"},
		{&m.searchDuration, "docbrain_vector_search_duration_seconds", "Vector search duration in seconds"},
	}
	for _, h := range histograms {
		inst, err := meter.Float64Histogram(h.name, metric.WithDescription(h.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create histogram %s: %w", h.name, err)
		}
		*h.dst = inst
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.httpRequests, "docbrain_http_requests_total", "Total HTTP requests"},
		{&m.ingestTotal, "docbrain_ingestions_total", "Total document ingestions"},
		{&m.ingestErrors, "docbrain_ingestion_errors_total", "Total failed document ingestions"},
		{&m.chunksIndexed, "docbrain_chunks_indexed_total", "Total chunks written to the vector index"},
		{&m.queryTotal, "docbrain_queries_total", "Total answered queries"},
		{&m.queryErrors, "docbrain_query_errors_total", "Total failed queries"},
		{&m.llmInputTokens, "docbrain_llm_tokens_input_total", "Total input tokens sent to LLMs"},
		{&m.llmOutputTokens, "docbrain_llm_tokens_output_total", "Total output tokens from LLMs"},
		{&m.llmErrors, "docbrain_llm_errors_total", "Total LLM errors"},
		{&m.embedTexts, "docbrain_embedding_texts_total", "Total texts embedded"},
		{&m.embedErrors, "docbrain_embedding_errors_total", "Total embedding errors"},
		{&m.taskTotal, "docbrain_tasks_total", "Total background tasks executed"},
		{&m.taskErrors, "docbrain_task_errors_total", "Total failed background tasks"},
		{&m.searchErrors, "docbrain_vector_search_errors_total", "Total vector search errors"},
	}
	for _, c := range counters {
		inst, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
		*c.dst = inst
	}

	return m, nil
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	if m == nil || m.httpDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	}

	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.httpRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *PrometheusMetrics) RecordIngestion(ctx context.Context, docType string, duration time.Duration, chunks int, err error) {
	if m == nil || m.ingestDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("doc_type", docType),
	}

	m.ingestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.ingestTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if chunks > 0 && m.chunksIndexed != nil {
		m.chunksIndexed.Add(ctx, int64(chunks), metric.WithAttributes(attrs...))
	}
	if err != nil && m.ingestErrors != nil {
		m.ingestErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordQuery(ctx context.Context, service string, duration time.Duration, err error) {
	if m == nil || m.queryDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("service", service),
	}

	m.queryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.queryTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil && m.queryErrors != nil {
		m.queryErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
	}

	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.llmInputTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attrs...))
	m.llmOutputTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attrs...))

	if err != nil && m.llmErrors != nil {
		m.llmErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordEmbedding(ctx context.Context, model string, duration time.Duration, texts int, err error) {
	if m == nil || m.embedDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
	}

	m.embedDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.embedTexts.Add(ctx, int64(texts), metric.WithAttributes(attrs...))

	if err != nil && m.embedErrors != nil {
		m.embedErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordTask(ctx context.Context, task string, duration time.Duration, err error) {
	if m == nil || m.taskDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("task", task),
	}

	m.taskDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.taskTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil && m.taskErrors != nil {
		m.taskErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordVectorSearch(ctx context.Context, namespace string, duration time.Duration, err error) {
	if m == nil || m.searchDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("namespace", namespace),
	}

	m.searchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if err != nil && m.searchErrors != nil {
		m.searchErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// SetGlobalMetrics installs the process-wide metrics sink.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide metrics sink, never nil.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if globalMetrics == nil {
		return &NoopMetrics{}
	}
	return globalMetrics
}
