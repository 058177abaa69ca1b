package config

import "fmt"

// ============================================================================
// OBSERVABILITY
// ============================================================================

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// ServiceName reported to metric and trace backends.
	ServiceName string `yaml:"service_name,omitempty"`

	// Metrics configures Prometheus metrics.
	Metrics MetricsConfig `yaml:"metrics,omitempty"`

	// Tracing configures OpenTelemetry tracing.
	Tracing TracingConfig `yaml:"tracing,omitempty"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled exposes /metrics on the API server. Default: true
	Enabled *bool `yaml:"enabled,omitempty"`
}

// TracingConfig configures trace export.
type TracingConfig struct {
	// Exporter selects the trace exporter: "none", "otlp", or "stdout".
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint for the OTLP gRPC exporter.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS for the OTLP connection.
	Insecure bool `yaml:"insecure,omitempty"`

	// SampleRatio controls trace sampling (0.0 - 1.0).
	SampleRatio float64 `yaml:"sample_ratio,omitempty"`
}

// SetDefaults applies default values.
func (c *ObservabilityConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "docbrain"
	}
	if c.Metrics.Enabled == nil {
		enabled := true
		c.Metrics.Enabled = &enabled
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "none"
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "localhost:4317"
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1.0
	}
}

// Validate checks the configuration for errors.
func (c *ObservabilityConfig) Validate() error {
	switch c.Tracing.Exporter {
	case "none", "otlp", "stdout":
	default:
		return fmt.Errorf("invalid tracing exporter %q (valid: none, otlp, stdout)", c.Tracing.Exporter)
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("sample_ratio must be between 0 and 1")
	}

	return nil
}
