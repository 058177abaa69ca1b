package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/docbrain-ai/docbrain/pkg/prompts"
)

// ============================================================================
// DOCUMENT SUMMARIZATION
// ============================================================================

var (
	previewEncoding     *tiktoken.Tiktoken
	previewEncodingOnce sync.Once
	previewEncodingErr  error
)

func getPreviewEncoding() (*tiktoken.Tiktoken, error) {
	previewEncodingOnce.Do(func() {
		previewEncoding, previewEncodingErr = tiktoken.GetEncoding("cl100k_base")
	})
	return previewEncoding, previewEncodingErr
}

// summarizeDocument produces the retrieval summary used for document
// preselection. It never fails the pipeline: without a router provider, or
// when the call errors, the document gets a placeholder summary instead.
func (s *Service) summarizeDocument(ctx context.Context, log *slog.Logger, title, text string) string {
	placeholder := fmt.Sprintf("Summary unavailable for %s.", title)
	if s.completer == nil {
		return placeholder
	}

	prompt := s.registry.Render(prompts.DomainIngest, prompts.IngestSummarize, map[string]string{
		"title":   title,
		"content": truncatePreview(text, s.cfg.SummarySourceChars),
	})
	if prompt == "" {
		return placeholder
	}

	summary, err := s.completer.RouterCompleteText(ctx, "", prompt)
	if err != nil {
		log.Warn("Summarization failed, using placeholder", "error", err)
		return placeholder
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return placeholder
	}
	return capRunes(summary, s.cfg.SummaryMaxChars)
}

// truncatePreview cuts text to at most maxChars bytes for the summarization
// prompt. The cut lands on a rune boundary, then the last token is dropped so
// the preview does not end mid-word.
func truncatePreview(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}

	cut := maxChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	truncated := text[:cut]

	encoding, err := getPreviewEncoding()
	if err != nil {
		return truncated
	}
	tokens := encoding.Encode(truncated, nil, nil)
	if len(tokens) <= 1 {
		return truncated
	}
	return encoding.Decode(tokens[:len(tokens)-1])
}

func capRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
