package config

import (
	"fmt"
	"time"
)

// ============================================================================
// EXTRACTION
// ============================================================================

// ExtractionConfig configures content extraction.
type ExtractionConfig struct {
	// MaxFileBytes rejects documents larger than this before extraction.
	// Default: 50 MiB
	MaxFileBytes int64 `yaml:"max_file_bytes,omitempty"`

	// Timeout bounds a single extraction.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// PDFMaxPages caps pages read from a PDF. 0 means no limit.
	PDFMaxPages int `yaml:"pdf_max_pages,omitempty"`
}

// SetDefaults applies default values.
func (c *ExtractionConfig) SetDefaults() {
	if c.MaxFileBytes == 0 {
		c.MaxFileBytes = 50 << 20
	}
	if c.Timeout == 0 {
		c.Timeout = 2 * time.Minute
	}
}

// Validate checks the configuration for errors.
func (c *ExtractionConfig) Validate() error {
	if c.MaxFileBytes < 0 {
		return fmt.Errorf("max_file_bytes cannot be negative")
	}
	if c.PDFMaxPages < 0 {
		return fmt.Errorf("pdf_max_pages cannot be negative")
	}
	return nil
}

// ============================================================================
// CHUNKING
// ============================================================================

// ChunkingConfig configures multi-granularity chunking.
//
// Each document is chunked three times at different target sizes so queries
// can match against the granularity that suits their intent.
type ChunkingConfig struct {
	// SmallSize is the target chunk size in characters for the small class.
	SmallSize int `yaml:"small_size,omitempty"`

	// MediumSize is the target size for the medium class.
	MediumSize int `yaml:"medium_size,omitempty"`

	// LargeSize is the target size for the large class.
	LargeSize int `yaml:"large_size,omitempty"`

	// SmallOverlap is the character overlap between adjacent small chunks.
	SmallOverlap int `yaml:"small_overlap,omitempty"`

	// MediumOverlap is the overlap for the medium class.
	MediumOverlap int `yaml:"medium_overlap,omitempty"`

	// LargeOverlap is the overlap for the large class.
	LargeOverlap int `yaml:"large_overlap,omitempty"`

	// BoundaryWindow is how far back from the target size to look for a
	// sentence terminator before cutting mid-sentence.
	BoundaryWindow int `yaml:"boundary_window,omitempty"`

	// MultiClass emits all three size classes for structured documents.
	// When disabled only the medium class is indexed.
	MultiClass *bool `yaml:"multi_class,omitempty"`
}

// SetDefaults applies default values.
func (c *ChunkingConfig) SetDefaults() {
	if c.SmallSize == 0 {
		c.SmallSize = 1000
	}
	if c.MediumSize == 0 {
		c.MediumSize = 2000
	}
	if c.LargeSize == 0 {
		c.LargeSize = 4000
	}
	if c.SmallOverlap == 0 {
		c.SmallOverlap = 50
	}
	if c.MediumOverlap == 0 {
		c.MediumOverlap = 100
	}
	if c.LargeOverlap == 0 {
		c.LargeOverlap = 200
	}
	if c.BoundaryWindow == 0 {
		c.BoundaryWindow = 50
	}
	if c.MultiClass == nil {
		enabled := true
		c.MultiClass = &enabled
	}
}

// Validate checks the configuration for errors.
func (c *ChunkingConfig) Validate() error {
	sizes := []struct {
		name    string
		size    int
		overlap int
	}{
		{"small", c.SmallSize, c.SmallOverlap},
		{"medium", c.MediumSize, c.MediumOverlap},
		{"large", c.LargeSize, c.LargeOverlap},
	}

	for _, s := range sizes {
		if s.size <= 0 {
			return fmt.Errorf("%s_size must be positive", s.name)
		}
		if s.overlap < 0 {
			return fmt.Errorf("%s_overlap cannot be negative", s.name)
		}
		if s.overlap >= s.size {
			return fmt.Errorf("%s_overlap must be smaller than %s_size", s.name, s.name)
		}
	}

	if c.SmallSize > c.MediumSize || c.MediumSize > c.LargeSize {
		return fmt.Errorf("sizes must be ordered small <= medium <= large")
	}

	return nil
}

// ============================================================================
// INGESTION
// ============================================================================

// IngestionConfig configures the document and question pipelines.
type IngestionConfig struct {
	// SummarySourceChars is how much leading document text feeds the
	// summarization prompt.
	SummarySourceChars int `yaml:"summary_source_chars,omitempty"`

	// SummaryMaxChars caps the stored summary length.
	SummaryMaxChars int `yaml:"summary_max_chars,omitempty"`

	// UpsertBatchSize caps vectors per index upsert call.
	UpsertBatchSize int `yaml:"upsert_batch_size,omitempty"`

	// Watch configures the optional watch-folder source.
	Watch WatchConfig `yaml:"watch,omitempty"`
}

// WatchConfig configures filesystem ingestion: files dropped into the watched
// folder are ingested into a knowledge base automatically.
type WatchConfig struct {
	// Enabled turns the watcher on.
	Enabled bool `yaml:"enabled,omitempty"`

	// Path is the directory to watch.
	Path string `yaml:"path,omitempty"`

	// KnowledgeBase is the target knowledge base ID.
	KnowledgeBase string `yaml:"knowledge_base,omitempty"`

	// Patterns filters files by glob (e.g. "*.pdf"). Empty accepts any
	// supported type.
	Patterns []string `yaml:"patterns,omitempty"`

	// Debounce coalesces rapid writes to the same file.
	Debounce time.Duration `yaml:"debounce,omitempty"`
}

// SetDefaults applies default values.
func (c *IngestionConfig) SetDefaults() {
	if c.SummarySourceChars == 0 {
		c.SummarySourceChars = 10000
	}
	if c.SummaryMaxChars == 0 {
		c.SummaryMaxChars = 5000
	}
	if c.UpsertBatchSize == 0 {
		c.UpsertBatchSize = 100
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = 2 * time.Second
	}
}

// Validate checks the configuration for errors.
func (c *IngestionConfig) Validate() error {
	if c.SummarySourceChars <= 0 {
		return fmt.Errorf("summary_source_chars must be positive")
	}
	if c.SummaryMaxChars <= 0 {
		return fmt.Errorf("summary_max_chars must be positive")
	}
	if c.UpsertBatchSize <= 0 {
		return fmt.Errorf("upsert_batch_size must be positive")
	}

	if c.Watch.Enabled {
		if c.Watch.Path == "" {
			return fmt.Errorf("watch.path is required when watch is enabled")
		}
		if c.Watch.KnowledgeBase == "" {
			return fmt.Errorf("watch.knowledge_base is required when watch is enabled")
		}
	}

	return nil
}
