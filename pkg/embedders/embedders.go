// Package embedders maps text to fixed-dimension vectors through an
// external embedding model. All vectors in a deployment come from one
// provider and one model; the Embedder is a process-wide singleton
// shared by the ingestion pipelines and the query path.
package embedders

import (
	"context"
	"fmt"
	"strings"

	"github.com/docbrain-ai/docbrain/pkg/config"
)

// ============================================================================
// INTERFACE
// ============================================================================

// Embedder converts text into dense vectors. Implementations are safe
// for concurrent use.
type Embedder interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order.
	// Implementations split the call into provider-sized batches.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector length this embedder produces.
	Dimension() int

	// ModelName returns the provider model identifier.
	ModelName() string

	// Close releases provider resources.
	Close() error
}

// New builds the embedder selected by the configuration.
func New(cfg config.EmbedderConfig) (Embedder, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embedder config: %w", err)
	}

	switch cfg.Provider {
	case config.EmbedderOpenAI:
		return NewOpenAIEmbedder(cfg)
	case config.EmbedderGemini:
		return NewGeminiEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder provider: %s", cfg.Provider)
	}
}

// ============================================================================
// ERRORS
// ============================================================================

// EmbeddingError reports a provider failure. The job queue treats it as
// retryable; a document whose retries are exhausted is marked failed.
type EmbeddingError struct {
	Provider string
	Model    string
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed (%s/%s): %v", e.Provider, e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// IsRetryable marks the error for the job queue's retry allow-list.
func (e *EmbeddingError) IsRetryable() bool {
	return true
}

func newEmbeddingError(provider, model string, err error) *EmbeddingError {
	return &EmbeddingError{Provider: provider, Model: model, Err: err}
}

// ============================================================================
// TEXT NORMALIZATION
// ============================================================================

// NormalizeText collapses whitespace runs to single spaces and trims the
// result. Embedding models treat "a  b" and "a b" as distinct inputs, so
// normalizing here keeps vectors stable across re-ingestions that only
// differ in formatting.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func normalizeAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = NormalizeText(t)
	}
	return out
}
