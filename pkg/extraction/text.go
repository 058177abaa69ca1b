package extraction

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/docbrain-ai/docbrain/pkg/model"
)

// ============================================================================
// PLAIN TEXT
// ============================================================================

// TextExtractor is the trailing catch-all for anything text-shaped.
type TextExtractor struct{}

func (e *TextExtractor) Name() string { return "text" }

func (e *TextExtractor) CanExtract(contentType, filename string) bool {
	return model.DetectType(contentType, filename) == model.TypeText
}

func (e *TextExtractor) Extract(ctx context.Context, data []byte, hints Hints) (*Result, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("content is not valid utf-8 text")
	}
	// Strip a BOM if present; editors on Windows like to add one.
	text := strings.TrimPrefix(string(data), "\uFEFF")

	return &Result{Text: text, Metadata: map[string]string{}}, nil
}
