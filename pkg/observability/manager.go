package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/docbrain-ai/docbrain/pkg/config"
)

// Manager owns the tracer provider and metrics for one process.
type Manager struct {
	tracerProvider trace.TracerProvider
	metrics        Metrics
	config         config.ObservabilityConfig
	mu             sync.RWMutex
}

// NewManager creates an uninitialized Manager.
func NewManager(cfg config.ObservabilityConfig) *Manager {
	return &Manager{
		config: cfg,
	}
}

// NoopManager returns a Manager that records nothing. Its accessors are safe
// without Initialize.
func NoopManager() *Manager {
	return &Manager{}
}

// Initialize sets up tracing and metrics and installs the global sinks.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, err := InitGlobalTracer(ctx, m.config.Tracing, m.config.ServiceName)
	if err != nil {
		return err
	}
	m.tracerProvider = tp

	enabled := m.config.Metrics.Enabled != nil && *m.config.Metrics.Enabled
	metrics, err := InitMetrics(ctx, enabled)
	if err != nil {
		return err
	}
	m.metrics = metrics

	SetGlobalMetrics(m.metrics)

	return nil
}

// GetTracer returns a named tracer, never nil.
func (m *Manager) GetTracer(name string) trace.Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tracerProvider == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return m.tracerProvider.Tracer(name)
}

// GetMetrics returns the metrics sink, never nil.
func (m *Manager) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.metrics == nil {
		return &NoopMetrics{}
	}
	return m.metrics
}

// Shutdown flushes pending spans.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if spt, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		return spt.Shutdown(ctx)
	}
	return nil
}
