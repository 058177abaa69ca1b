package reranking

import (
	"context"
	"fmt"
	"math"
)

// ============================================================================
// EMBEDDING RERANKER
// ============================================================================

// EmbeddingReranker re-scores candidates by embedding the query and each
// candidate's content and comparing them with cosine similarity. It needs no
// extra provider beyond the embedder already configured for ingestion, which
// makes it the default. The gain over raw retrieval scores comes from scoring
// the full candidate content against the question in one consistent space,
// independent of which namespace or granularity each candidate came from.
type EmbeddingReranker struct {
	embedder Embedder
}

// NewEmbeddingReranker builds a reranker over the given embedder.
func NewEmbeddingReranker(embedder Embedder) *EmbeddingReranker {
	return &EmbeddingReranker{embedder: embedder}
}

func (r *EmbeddingReranker) Name() string { return "embedding" }

func (r *EmbeddingReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	queryVector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query for reranking: %w", err)
	}

	contents := make([]string, len(candidates))
	for i, c := range candidates {
		contents[i] = c.Content
	}
	vectors, err := r.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return nil, fmt.Errorf("failed to embed candidates for reranking: %w", err)
	}
	if len(vectors) != len(candidates) {
		return nil, fmt.Errorf("got %d embeddings for %d candidates", len(vectors), len(candidates))
	}

	out := make([]Candidate, len(candidates))
	for i, c := range candidates {
		c.OriginalScore = c.Score
		c.Score = clamp01(cosineSimilarity(queryVector, vectors[i]))
		out[i] = c
	}

	sortByScore(out)
	return trimTopK(out, topK), nil
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
