package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// ============================================================================
// INDEX
// ============================================================================

const (
	// UpsertBatchSize caps records per provider call. Providers refuse
	// larger payloads or time out on them; stay at their documented cap.
	UpsertBatchSize = 100

	// maxBatchRetries re-sends a whole batch after a partial failure.
	// Upserts are idempotent by id, so re-sending already-written
	// records is harmless.
	maxBatchRetries = 3

	// deleteProbeTopK is how many ids one fallback probe query collects.
	deleteProbeTopK = 1000

	// maxDeleteRounds bounds the fallback loop when the backend keeps
	// returning matches (for example when deletes are eventually
	// consistent).
	maxDeleteRounds = 100
)

// Index is the application-facing vector store. It adds batching,
// retry, deletion fallback, and sampling on top of a Provider.
type Index struct {
	provider  Provider
	dimension int
}

// NewIndex wraps a provider. The dimension must match the embedder; it
// is validated on every upsert and used to build probe vectors.
func NewIndex(provider Provider, dimension int) (*Index, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	return &Index{provider: provider, dimension: dimension}, nil
}

// Provider exposes the wrapped backend.
func (ix *Index) Provider() Provider {
	return ix.provider
}

// Dimension returns the vector length this index stores.
func (ix *Index) Dimension() int {
	return ix.dimension
}

// Upsert writes records in batches of at most UpsertBatchSize. A failed
// batch is retried whole; ids make the operation idempotent.
func (ix *Index) Upsert(ctx context.Context, namespace string, records []Record) error {
	if namespace == "" {
		return fmt.Errorf("namespace cannot be empty")
	}
	for i, record := range records {
		if record.ID == "" {
			return fmt.Errorf("record %d has no id", i)
		}
		if len(record.Vector) != ix.dimension {
			return fmt.Errorf("record %s has %d-dimension vector, expected %d",
				record.ID, len(record.Vector), ix.dimension)
		}
	}

	for start := 0; start < len(records); start += UpsertBatchSize {
		end := start + UpsertBatchSize
		if end > len(records) {
			end = len(records)
		}

		if err := ix.upsertBatch(ctx, namespace, records[start:end]); err != nil {
			return fmt.Errorf("upsert batch %d-%d failed: %w", start, end-1, err)
		}
	}

	return nil
}

func (ix *Index) upsertBatch(ctx context.Context, namespace string, batch []Record) error {
	var lastErr error
	for attempt := 1; attempt <= maxBatchRetries; attempt++ {
		lastErr = ix.provider.Upsert(ctx, namespace, batch)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}

		slog.Warn("Vector upsert batch failed, retrying",
			"namespace", namespace,
			"batch_size", len(batch),
			"attempt", attempt,
			"error", lastErr)

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		}
	}
	return lastErr
}

// Query returns up to topK matches sorted by descending cosine score.
// When includeMetadata is false only ids and scores come back.
func (ix *Index) Query(ctx context.Context, namespace string, vector []float32, topK int, filter Filter, includeMetadata bool) ([]Match, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if len(vector) != ix.dimension {
		return nil, fmt.Errorf("query vector has %d dimensions, expected %d", len(vector), ix.dimension)
	}
	if _, _, err := filterParts(filter); err != nil {
		return nil, err
	}

	matches, err := ix.provider.Query(ctx, namespace, vector, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	for i := range matches {
		matches[i].Score = clampScore(matches[i].Score)
		if !includeMetadata {
			matches[i].Metadata = nil
			matches[i].Content = ""
		}
	}
	sortByScore(matches)

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Delete removes the records the selector addresses. Absent ids are
// not an error. When the backend rejects filter deletion the records
// are located with probe queries and deleted by id.
func (ix *Index) Delete(ctx context.Context, namespace string, selector Selector) error {
	if namespace == "" {
		return fmt.Errorf("namespace cannot be empty")
	}

	hasIDs := len(selector.IDs) > 0
	hasFilter := len(selector.Filter) > 0
	if hasIDs == hasFilter {
		return fmt.Errorf("selector requires exactly one of ids or filter")
	}

	if hasIDs {
		return ix.deleteByIDs(ctx, namespace, selector.IDs)
	}

	err := ix.provider.DeleteByFilter(ctx, namespace, selector.Filter)
	if err == nil {
		return nil
	}
	if !errorIsFilterDeleteUnsupported(err) {
		return fmt.Errorf("delete by filter failed: %w", err)
	}

	slog.Debug("Backend rejects filter deletion, collecting ids with probe queries",
		"provider", ix.provider.Name(),
		"namespace", namespace)
	return ix.deleteByProbe(ctx, namespace, selector.Filter)
}

func (ix *Index) deleteByIDs(ctx context.Context, namespace string, ids []string) error {
	for start := 0; start < len(ids); start += UpsertBatchSize {
		end := start + UpsertBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := ix.provider.DeleteByIDs(ctx, namespace, ids[start:end]); err != nil {
			return fmt.Errorf("delete ids %d-%d failed: %w", start, end-1, err)
		}
	}
	return nil
}

// deleteByProbe queries a fixed unit vector with the filter, deletes
// the returned ids, and repeats until the filter matches nothing.
func (ix *Index) deleteByProbe(ctx context.Context, namespace string, filter Filter) error {
	probe := probeVector(ix.dimension)

	for round := 0; round < maxDeleteRounds; round++ {
		matches, err := ix.provider.Query(ctx, namespace, probe, deleteProbeTopK, filter)
		if err != nil {
			return fmt.Errorf("probe query failed: %w", err)
		}
		if len(matches) == 0 {
			return nil
		}

		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		if err := ix.deleteByIDs(ctx, namespace, ids); err != nil {
			return err
		}

		if len(matches) < deleteProbeTopK {
			return nil
		}
	}

	return fmt.Errorf("filter still matches records after %d deletion rounds", maxDeleteRounds)
}

// RandomSample returns up to k records from the namespace. The sample
// comes from querying a random unit vector with a larger topK and
// subsampling, so it is approximate, not uniform.
func (ix *Index) RandomSample(ctx context.Context, namespace string, k int) ([]Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	probeTopK := k * 4
	if probeTopK < 20 {
		probeTopK = 20
	}

	matches, err := ix.provider.Query(ctx, namespace, randomUnitVector(ix.dimension), probeTopK, nil)
	if err != nil {
		return nil, fmt.Errorf("sample query failed: %w", err)
	}

	rand.Shuffle(len(matches), func(i, j int) {
		matches[i], matches[j] = matches[j], matches[i]
	})
	if len(matches) > k {
		matches = matches[:k]
	}

	for i := range matches {
		matches[i].Score = clampScore(matches[i].Score)
	}
	return matches, nil
}

// Close releases the underlying provider.
func (ix *Index) Close() error {
	return ix.provider.Close()
}

func errorIsFilterDeleteUnsupported(err error) bool {
	return errors.Is(err, ErrFilterDeleteUnsupported)
}

// probeVector is the fixed unit vector used to page through filtered
// records; any valid vector works because the filter does the matching.
func probeVector(dimension int) []float32 {
	value := float32(1 / math.Sqrt(float64(dimension)))
	vec := make([]float32, dimension)
	for i := range vec {
		vec[i] = value
	}
	return vec
}

func randomUnitVector(dimension int) []float32 {
	vec := make([]float32, dimension)
	var sum float64
	for i := range vec {
		v := rand.NormFloat64()
		vec[i] = float32(v)
		sum += v * v
	}
	if sum == 0 {
		return probeVector(dimension)
	}
	inv := 1 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
	return vec
}
