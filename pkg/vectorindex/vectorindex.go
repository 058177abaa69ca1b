// Package vectorindex stores and searches embedding vectors. A thin
// Index wrapper adds batching, deletion fallbacks, and sampling on top
// of interchangeable Provider backends (embedded chromem, Qdrant,
// Pinecone).
//
// Records live in namespaces: one per knowledge base for chunks, plus
// the reserved "summaries" and per-knowledge-base question namespaces.
// Metadata is a flat string map; list values are comma-joined on write
// and split on read.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ============================================================================
// TYPES
// ============================================================================

// Record is a vector plus its metadata, addressed by a caller-chosen id.
// Upserting the same id twice replaces the previous record.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Match is a query hit. Score is cosine similarity clamped to [0,1].
type Match struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]string
}

// Filter is a conjunction of metadata predicates. A string value is an
// equality test; a []string value matches any of the listed values.
type Filter map[string]any

// Selector addresses records for deletion: exactly one of IDs or
// Filter must be set.
type Selector struct {
	IDs    []string
	Filter Filter
}

// Provider is a vector store backend. Implementations are safe for
// concurrent use. Query results come back sorted by descending score;
// the Index wrapper re-sorts and clamps anyway.
type Provider interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
	Query(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error)
	DeleteByIDs(ctx context.Context, namespace string, ids []string) error

	// DeleteByFilter removes every record matching the filter. Backends
	// whose service tier cannot do this return ErrFilterDeleteUnsupported
	// and the Index falls back to query-then-delete-by-id.
	DeleteByFilter(ctx context.Context, namespace string, filter Filter) error

	Name() string
	Close() error
}

// ErrFilterDeleteUnsupported is returned by providers whose backend
// rejects deletion by metadata filter (Pinecone serverless and starter
// tiers). The Index wrapper handles it transparently.
var ErrFilterDeleteUnsupported = errors.New("filter-based deletion not supported")

// ============================================================================
// METADATA HELPERS
// ============================================================================

// listSeparator joins list-valued metadata into the flat string map.
const listSeparator = ","

// JoinList flattens a list value for storage.
func JoinList(values []string) string {
	return strings.Join(values, listSeparator)
}

// SplitList restores a list value read back from metadata. Empty input
// yields a nil slice, not a one-element slice.
func SplitList(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, listSeparator)
}

// FlattenMetadata converts assorted metadata values into the flat
// string map providers store. Lists are comma-joined; nil values are
// dropped.
func FlattenMetadata(metadata map[string]any) map[string]string {
	flat := make(map[string]string, len(metadata))
	for key, value := range metadata {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			flat[key] = v
		case []string:
			flat[key] = JoinList(v)
		default:
			flat[key] = fmt.Sprint(v)
		}
	}
	return flat
}

// ============================================================================
// FILTER HELPERS
// ============================================================================

// filterParts splits a filter into its equality and any-of predicates.
func filterParts(filter Filter) (eq map[string]string, in map[string][]string, err error) {
	eq = make(map[string]string)
	in = make(map[string][]string)

	for key, value := range filter {
		switch v := value.(type) {
		case string:
			eq[key] = v
		case []string:
			if len(v) == 0 {
				return nil, nil, fmt.Errorf("filter %q has an empty value list", key)
			}
			in[key] = v
		default:
			return nil, nil, fmt.Errorf("filter %q must be a string or string list, got %T", key, value)
		}
	}

	return eq, in, nil
}

// maxFilterExpansion bounds the cartesian product when a backend can
// only test equality and any-of predicates are expanded per value.
const maxFilterExpansion = 256

// expandFilter rewrites a filter into the list of pure-equality filters
// whose union it denotes.
func expandFilter(filter Filter) ([]map[string]string, error) {
	eq, in, err := filterParts(filter)
	if err != nil {
		return nil, err
	}

	expanded := []map[string]string{eq}
	for key, values := range in {
		next := make([]map[string]string, 0, len(expanded)*len(values))
		for _, base := range expanded {
			for _, value := range values {
				clone := make(map[string]string, len(base)+1)
				for k, v := range base {
					clone[k] = v
				}
				clone[key] = value
				next = append(next, clone)
			}
		}
		if len(next) > maxFilterExpansion {
			return nil, fmt.Errorf("filter expands to %d combinations (max %d)", len(next), maxFilterExpansion)
		}
		expanded = next
	}

	return expanded, nil
}

func sortByScore(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
}

func clampScore(score float32) float32 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
