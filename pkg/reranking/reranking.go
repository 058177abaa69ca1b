// Package reranking reorders retrieval candidates by relevance to a query.
//
// Retrieval returns chunks ranked by vector similarity alone, which is noisy
// for short queries and mixed-granularity indexes. A reranker re-scores the
// candidate set with a stronger signal (a cross-encoder API, an LLM judgment,
// or a fresh embedding comparison) before the context is assembled.
//
// Rerankers are non-fatal by construction: the factory wraps every variant so
// that a provider failure logs a warning and falls back to the original
// retrieval order instead of failing the query.
package reranking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/docbrain-ai/docbrain/pkg/config"
)

// ============================================================================
// TYPES
// ============================================================================

// Candidate is one retrieval result passing through the reranker.
type Candidate struct {
	// ID is the chunk or record identifier.
	ID string

	// Content is the chunk text the reranker scores against the query.
	Content string

	// Score is the current relevance score. Rerankers replace it.
	Score float64

	// OriginalScore preserves the retrieval score the candidate arrived
	// with, so callers can still see the vector similarity after a
	// reranker overwrites Score.
	OriginalScore float64

	// Metadata carries the flat record metadata through untouched.
	Metadata map[string]string
}

// Reranker reorders candidates by relevance to the query and returns at most
// topK of them, best first.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Candidate, error)
	Name() string
}

// TextCompleter is the slice of an LLM client the LLM reranker needs: a
// single system+user completion returning plain text.
type TextCompleter interface {
	CompleteText(ctx context.Context, system, user string) (string, error)
}

// Embedder is the slice of an embedding client the embedding reranker needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ============================================================================
// NO-OP RERANKER
// ============================================================================

// NoOpReranker keeps the retrieval order and only trims to topK.
type NoOpReranker struct{}

func NewNoOpReranker() *NoOpReranker { return &NoOpReranker{} }

func (r *NoOpReranker) Rerank(_ context.Context, _ string, candidates []Candidate, topK int) ([]Candidate, error) {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	return trimTopK(out, topK), nil
}

func (r *NoOpReranker) Name() string { return "none" }

// ============================================================================
// FALLBACK WRAPPER
// ============================================================================

// fallbackReranker makes any reranker non-fatal. When the inner reranker
// fails, the original candidates are returned in retrieval order and the
// error is logged, not propagated.
type fallbackReranker struct {
	inner Reranker
}

// WithFallback wraps a reranker so that failures degrade to the original
// retrieval order instead of failing the query.
func WithFallback(inner Reranker) Reranker {
	return &fallbackReranker{inner: inner}
}

func (r *fallbackReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Candidate, error) {
	out, err := r.inner.Rerank(ctx, query, candidates, topK)
	if err != nil {
		slog.Warn("Reranking failed, keeping retrieval order",
			"reranker", r.inner.Name(),
			"candidates", len(candidates),
			"error", err)
		original := make([]Candidate, len(candidates))
		copy(original, candidates)
		return trimTopK(original, topK), nil
	}
	return out, nil
}

func (r *fallbackReranker) Name() string { return r.inner.Name() }

// ============================================================================
// POST-FILTERS
// ============================================================================

// filterReranker applies score post-processing to the inner reranker's
// output: an optional minimum-score cutoff, optional min-max normalization,
// and an optional hard cap on the result count.
type filterReranker struct {
	inner     Reranker
	minScore  float64
	normalize bool
	maxTopN   int
}

func (r *filterReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Candidate, error) {
	if r.maxTopN > 0 && (topK <= 0 || topK > r.maxTopN) {
		topK = r.maxTopN
	}
	out, err := r.inner.Rerank(ctx, query, candidates, topK)
	if err != nil {
		return nil, err
	}
	if r.minScore > 0 {
		out = filterMinScore(out, r.minScore)
	}
	if r.normalize {
		normalizeScores(out)
	}
	return out, nil
}

func (r *filterReranker) Name() string { return r.inner.Name() }

// filterMinScore drops candidates scoring below the threshold.
func filterMinScore(candidates []Candidate, minScore float64) []Candidate {
	kept := candidates[:0]
	for _, c := range candidates {
		if c.Score >= minScore {
			kept = append(kept, c)
		}
	}
	return kept
}

// normalizeScores rescales scores to [0,1] with min-max scaling, in place.
// A degenerate set (all scores equal) maps everything to 1.
func normalizeScores(candidates []Candidate) {
	if len(candidates) == 0 {
		return
	}
	lo, hi := candidates[0].Score, candidates[0].Score
	for _, c := range candidates[1:] {
		if c.Score < lo {
			lo = c.Score
		}
		if c.Score > hi {
			hi = c.Score
		}
	}
	span := hi - lo
	for i := range candidates {
		if span == 0 {
			candidates[i].Score = 1.0
			continue
		}
		candidates[i].Score = (candidates[i].Score - lo) / span
	}
}

// ============================================================================
// FACTORY
// ============================================================================

// Deps carries the clients a reranker variant may need. Only the field the
// configured provider uses has to be set.
type Deps struct {
	// Completer backs the "llm" provider.
	Completer TextCompleter

	// Embedder backs the "embedding" provider.
	Embedder Embedder

	// SystemPrompt overrides the llm provider's built-in system prompt.
	SystemPrompt string
}

// New builds the configured reranker, wired with post-filters and the
// non-fatal fallback wrapper.
func New(cfg config.RerankerConfig, deps Deps) (Reranker, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reranker config: %w", err)
	}

	var base Reranker
	switch cfg.Provider {
	case config.RerankerNone:
		return NewNoOpReranker(), nil
	case config.RerankerEmbedding:
		if deps.Embedder == nil {
			return nil, fmt.Errorf("embedding reranker requires an embedder")
		}
		base = NewEmbeddingReranker(deps.Embedder)
	case config.RerankerLLM:
		if deps.Completer == nil {
			return nil, fmt.Errorf("llm reranker requires an llm client")
		}
		llm := NewLLMReranker(deps.Completer)
		if deps.SystemPrompt != "" {
			llm.systemPrompt = deps.SystemPrompt
		}
		base = llm
	case config.RerankerCohere:
		reranker, err := NewCohereReranker(cfg)
		if err != nil {
			return nil, err
		}
		base = reranker
	default:
		return nil, fmt.Errorf("unsupported reranker provider: %s", cfg.Provider)
	}

	filtered := &filterReranker{
		inner:     base,
		minScore:  cfg.MinScore,
		normalize: cfg.Normalize,
		maxTopN:   cfg.TopN,
	}
	return WithFallback(filtered), nil
}

var (
	singletonOnce sync.Once
	singleton     Reranker
	singletonErr  error
)

// Singleton builds the process-wide reranker on first call and returns the
// same instance afterwards, regardless of later arguments.
func Singleton(cfg config.RerankerConfig, deps Deps) (Reranker, error) {
	singletonOnce.Do(func() {
		singleton, singletonErr = New(cfg, deps)
	})
	return singleton, singletonErr
}

// ============================================================================
// HELPERS
// ============================================================================

// trimTopK bounds a candidate slice to topK entries. topK <= 0 keeps all.
func trimTopK(candidates []Candidate, topK int) []Candidate {
	if topK > 0 && len(candidates) > topK {
		return candidates[:topK]
	}
	return candidates
}

// sortByScore orders candidates best first, preserving input order on ties.
func sortByScore(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
}

// clamp01 bounds a score to [0,1].
func clamp01(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
