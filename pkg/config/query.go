package config

import "fmt"

// ============================================================================
// QUERY
// ============================================================================

// QueryConfig configures routing and retrieval behavior.
type QueryConfig struct {
	// TopK is the default number of chunks retrieved per search.
	TopK int `yaml:"top_k,omitempty"`

	// SimilarityThreshold drops retrieval matches scoring below it.
	// 0 keeps every match.
	SimilarityThreshold float64 `yaml:"similarity_threshold,omitempty"`

	// CuratedScoreThreshold is the minimum similarity for a curated Q&A probe
	// hit to bypass routing entirely.
	CuratedScoreThreshold float64 `yaml:"curated_score_threshold,omitempty"`

	// TagConfidenceThreshold is the minimum router confidence required to
	// dispatch a query to SQL answering instead of falling back to retrieval.
	TagConfidenceThreshold float64 `yaml:"tag_confidence_threshold,omitempty"`

	// PreselectionLimit caps how many document summaries feed preselection.
	PreselectionLimit int `yaml:"preselection_limit,omitempty"`

	// PreselectionSnippetChars truncates each summary shown to the
	// preselection prompt.
	PreselectionSnippetChars int `yaml:"preselection_snippet_chars,omitempty"`

	// ContextChunks is how many top chunks feed answer synthesis.
	ContextChunks int `yaml:"context_chunks,omitempty"`

	// BoostsEnabled applies metadata-aware score boosts after retrieval.
	// Default: true
	BoostsEnabled *bool `yaml:"boosts_enabled,omitempty"`

	// DecompositionEnabled lets the router split multi-part questions into
	// sub-questions retrieved independently. Default: true
	DecompositionEnabled *bool `yaml:"decomposition_enabled,omitempty"`

	// TagEnabled allows routing to SQL answering. Requires a structured
	// source to be registered. Default: false
	TagEnabled bool `yaml:"tag_enabled,omitempty"`
}

// SetDefaults applies default values.
func (c *QueryConfig) SetDefaults() {
	if c.TopK == 0 {
		c.TopK = 10
	}
	if c.CuratedScoreThreshold == 0 {
		c.CuratedScoreThreshold = 0.75
	}
	if c.TagConfidenceThreshold == 0 {
		c.TagConfidenceThreshold = 0.7
	}
	if c.PreselectionLimit == 0 {
		c.PreselectionLimit = 20
	}
	if c.PreselectionSnippetChars == 0 {
		c.PreselectionSnippetChars = 500
	}
	if c.ContextChunks == 0 {
		c.ContextChunks = 3
	}
	if c.BoostsEnabled == nil {
		enabled := true
		c.BoostsEnabled = &enabled
	}
	if c.DecompositionEnabled == nil {
		enabled := true
		c.DecompositionEnabled = &enabled
	}
}

// Validate checks the configuration for errors.
func (c *QueryConfig) Validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be positive")
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be between 0 and 1")
	}
	if c.CuratedScoreThreshold < 0 || c.CuratedScoreThreshold > 1 {
		return fmt.Errorf("curated_score_threshold must be between 0 and 1")
	}
	if c.TagConfidenceThreshold < 0 || c.TagConfidenceThreshold > 1 {
		return fmt.Errorf("tag_confidence_threshold must be between 0 and 1")
	}
	if c.PreselectionLimit <= 0 {
		return fmt.Errorf("preselection_limit must be positive")
	}
	if c.ContextChunks <= 0 {
		return fmt.Errorf("context_chunks must be positive")
	}
	return nil
}
