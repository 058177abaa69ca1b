package config

import (
	"fmt"
	"os"
	"time"
)

// ============================================================================
// EMBEDDER
// ============================================================================

// EmbedderProvider identifies the embedding provider type.
type EmbedderProvider string

const (
	EmbedderOpenAI EmbedderProvider = "openai"
	EmbedderGemini EmbedderProvider = "gemini"
)

// EmbedderConfig configures the embedding provider.
//
// All vectors in one deployment must come from the same model with the same
// dimension; changing either requires re-ingesting every document.
type EmbedderConfig struct {
	// Provider type (openai, gemini).
	Provider EmbedderProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=Embedding provider,enum=openai,enum=gemini,default=openai"`

	// Model name (e.g. "text-embedding-3-small").
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Embedding model identifier"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key for authentication (use ${ENV_VAR})"`

	// BaseURL overrides the default API endpoint. Useful for OpenAI-compatible
	// servers (Ollama, vLLM, LM Studio).
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"title=Base URL,description=Custom base URL for API endpoint"`

	// Dimension of produced vectors. Default: 768
	Dimension int `yaml:"dimension,omitempty" json:"dimension,omitempty" jsonschema:"title=Dimension,description=Embedding vector dimension,default=768"`

	// BatchSize caps texts per embedding request. Default: 100
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty" jsonschema:"title=Batch Size,description=Maximum texts per request,default=100"`

	// Timeout per embedding request.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Request timeout"`

	// MaxRetries for transient failures.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"title=Max Retries,description=Retry attempts for transient failures,default=3"`
}

// SetDefaults applies default values.
func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = EmbedderOpenAI
	}

	if c.Model == "" {
		switch c.Provider {
		case EmbedderOpenAI:
			c.Model = "text-embedding-3-small"
		case EmbedderGemini:
			c.Model = "gemini-embedding-001"
		}
	}

	if c.APIKey == "" {
		switch c.Provider {
		case EmbedderOpenAI:
			c.APIKey = os.Getenv("OPENAI_API_KEY")
		case EmbedderGemini:
			c.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}

	if c.Dimension == 0 {
		c.Dimension = 768
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Validate checks the configuration for errors.
func (c *EmbedderConfig) Validate() error {
	switch c.Provider {
	case EmbedderOpenAI, EmbedderGemini:
	default:
		return fmt.Errorf("invalid provider %q (valid: openai, gemini)", c.Provider)
	}

	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}

	return nil
}
