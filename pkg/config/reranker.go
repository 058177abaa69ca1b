package config

import (
	"fmt"
	"os"
	"time"
)

// ============================================================================
// RERANKER
// ============================================================================

// RerankerProvider identifies the reranking strategy.
type RerankerProvider string

const (
	// RerankerEmbedding reorders by cosine similarity against a fresh query
	// embedding. No extra API dependency beyond the embedder.
	RerankerEmbedding RerankerProvider = "embedding"

	// RerankerLLM asks an LLM to score each candidate.
	RerankerLLM RerankerProvider = "llm"

	// RerankerCohere uses the Cohere rerank API.
	RerankerCohere RerankerProvider = "cohere"

	// RerankerNone disables reranking.
	RerankerNone RerankerProvider = "none"
)

// RerankerConfig configures result reranking.
//
// Reranking failures never fail a query; results fall back to vector order.
type RerankerConfig struct {
	// Provider selects the reranking strategy.
	Provider RerankerProvider `yaml:"provider,omitempty"`

	// Model for provider-backed rerankers (e.g. "rerank-v3.5" for cohere).
	Model string `yaml:"model,omitempty"`

	// APIKey for the cohere provider. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL overrides the cohere API endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// TopN truncates results after reranking. 0 keeps all.
	TopN int `yaml:"top_n,omitempty"`

	// MinScore drops results scoring below the threshold after reranking.
	// 0 disables the filter.
	MinScore float64 `yaml:"min_score,omitempty"`

	// Normalize rescales rerank scores to [0,1] with min-max scaling.
	Normalize bool `yaml:"normalize,omitempty"`

	// Timeout per rerank call.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// SetDefaults applies default values.
func (c *RerankerConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = RerankerEmbedding
	}
	if c.Provider == RerankerCohere {
		if c.Model == "" {
			c.Model = "rerank-v3.5"
		}
		if c.APIKey == "" {
			c.APIKey = os.Getenv("COHERE_API_KEY")
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate checks the configuration for errors.
func (c *RerankerConfig) Validate() error {
	switch c.Provider {
	case RerankerEmbedding, RerankerLLM, RerankerCohere, RerankerNone:
	default:
		return fmt.Errorf("invalid provider %q (valid: embedding, llm, cohere, none)", c.Provider)
	}

	if c.Provider == RerankerCohere && c.APIKey == "" {
		return fmt.Errorf("api_key is required for cohere reranker")
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("min_score must be between 0 and 1")
	}
	if c.TopN < 0 {
		return fmt.Errorf("top_n cannot be negative")
	}

	return nil
}
