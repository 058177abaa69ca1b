// Package extraction turns uploaded document bytes into normalized text
// plus structure metadata. One extractor per document type; extractors
// carry their own fallback chain so a damaged file degrades to a simpler
// parse before it fails.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/model"
	"github.com/docbrain-ai/docbrain/pkg/registry"
)

// ============================================================================
// TYPES
// ============================================================================

// Hints carries upload context into an extraction.
type Hints struct {
	DocumentID  string
	Filename    string
	ContentType string
}

// Result is the normalized output of one extraction.
type Result struct {
	// Text is the full normalized text of the document.
	Text string

	// Title is the best available document title. Falls back to the
	// filename when the format carries none.
	Title string

	// Metadata holds per-format details (page counts, headers, sheet
	// names). Always includes "document_type".
	Metadata map[string]string
}

// Extractor parses one document family.
type Extractor interface {
	Name() string

	// CanExtract reports whether this extractor handles the given
	// MIME type / filename combination.
	CanExtract(contentType, filename string) bool

	Extract(ctx context.Context, data []byte, hints Hints) (*Result, error)
}

// ============================================================================
// SERVICE
// ============================================================================

// Service dispatches extractions to the right extractor and enforces the
// size and time limits.
type Service struct {
	cfg        config.ExtractionConfig
	extractors *registry.BaseRegistry[Extractor]

	// order is the dispatch preference; the first extractor whose
	// CanExtract accepts the input wins.
	order []string
}

// NewService builds a service with all built-in extractors registered.
// vision may be nil; image documents then fail extraction with a clear
// error instead of silently producing empty text.
func NewService(cfg config.ExtractionConfig, vision VisionCompleter) (*Service, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid extraction config: %w", err)
	}

	s := &Service{
		cfg:        cfg,
		extractors: registry.NewBaseRegistry[Extractor](),
	}

	builtins := []Extractor{
		&PDFExtractor{MaxPages: cfg.PDFMaxPages},
		&DOCXExtractor{},
		&PPTXExtractor{},
		&XLSXExtractor{},
		&HTMLExtractor{},
		&MarkdownExtractor{},
		&CSVExtractor{},
		NewImageExtractor(vision, "", ""),
		&TextExtractor{},
	}
	for _, e := range builtins {
		if err := s.RegisterExtractor(e); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// RegisterExtractor appends an extractor to the dispatch order. Built-ins
// are registered most specific first; text is the trailing catch-all.
func (s *Service) RegisterExtractor(e Extractor) error {
	if err := s.extractors.Register(e.Name(), e); err != nil {
		return err
	}
	s.order = append(s.order, e.Name())
	return nil
}

// ExtractorFor returns the first extractor accepting the input, or nil.
func (s *Service) ExtractorFor(contentType, filename string) Extractor {
	for _, name := range s.order {
		e, ok := s.extractors.Get(name)
		if !ok {
			continue
		}
		if e.CanExtract(contentType, filename) {
			return e
		}
	}
	return nil
}

// SupportedTypes returns the registered extractor names in dispatch order.
func (s *Service) SupportedTypes() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Extract runs the full extraction for one document: validate, dispatch,
// parse, normalize. Failures come back as *ExtractionError.
func (s *Service) Extract(ctx context.Context, data []byte, hints Hints) (*Result, error) {
	docType := model.DetectType(hints.ContentType, hints.Filename)

	if len(data) == 0 {
		return nil, newExtractionError(hints.DocumentID, docType, "validate", errors.New("document is empty"))
	}
	if s.cfg.MaxFileBytes > 0 && int64(len(data)) > s.cfg.MaxFileBytes {
		return nil, newExtractionError(hints.DocumentID, docType, "validate",
			fmt.Errorf("document is %d bytes, limit is %d", len(data), s.cfg.MaxFileBytes))
	}

	extractor := s.ExtractorFor(hints.ContentType, hints.Filename)
	if extractor == nil {
		return nil, newExtractionError(hints.DocumentID, docType, "dispatch",
			fmt.Errorf("unsupported document type %q (%s)", hints.ContentType, hints.Filename))
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	result, err := extractor.Extract(ctx, data, hints)
	if err != nil {
		var extErr *ExtractionError
		if errors.As(err, &extErr) {
			return nil, err
		}
		return nil, newExtractionError(hints.DocumentID, docType, extractor.Name(), err)
	}

	result.Text = NormalizeText(result.Text)
	if strings.TrimSpace(result.Text) == "" {
		return nil, newExtractionError(hints.DocumentID, docType, extractor.Name(),
			errors.New("no text content found"))
	}
	if result.Title == "" {
		result.Title = TitleFromFilename(hints.Filename)
	}
	if result.Metadata == nil {
		result.Metadata = make(map[string]string)
	}
	result.Metadata["document_type"] = string(docType)
	return result, nil
}

// ============================================================================
// TEXT HELPERS
// ============================================================================

// NormalizeText canonicalizes line endings, strips trailing whitespace per
// line, and collapses runs of blank lines down to one.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	var b strings.Builder
	b.Grow(len(text))
	blanks := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blanks++
			if blanks > 1 {
				continue
			}
		} else {
			blanks = 0
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

// TitleFromFilename strips the directory and extension.
func TitleFromFilename(filename string) string {
	base := filepath.Base(filename)
	if base == "." || base == "/" || base == "" {
		return "Untitled"
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
