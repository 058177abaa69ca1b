package extraction

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/docbrain-ai/docbrain/pkg/model"
)

// ============================================================================
// MARKDOWN
// ============================================================================

// MarkdownExtractor passes text through untouched and records the header
// outline. The title comes from the first level-one heading.
type MarkdownExtractor struct{}

func (e *MarkdownExtractor) Name() string { return "markdown" }

func (e *MarkdownExtractor) CanExtract(contentType, filename string) bool {
	return model.DetectType(contentType, filename) == model.TypeMarkdown
}

func (e *MarkdownExtractor) Extract(ctx context.Context, data []byte, hints Hints) (*Result, error) {
	text := string(data)

	var title string
	var outline []string
	inFence := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		level, header := parseHeader(trimmed)
		if level == 0 {
			continue
		}
		outline = append(outline, fmt.Sprintf("%d:%s", level, header))
		if level == 1 && title == "" {
			title = header
		}
	}

	metadata := map[string]string{
		"header_count": strconv.Itoa(len(outline)),
	}
	if len(outline) > 0 {
		metadata["headers"] = strings.Join(outline, "\n")
	}

	return &Result{
		Text:     text,
		Title:    title,
		Metadata: metadata,
	}, nil
}

// parseHeader returns (level, text) for an ATX heading line, or (0, "").
func parseHeader(line string) (int, string) {
	if line == "" || line[0] != '#' {
		return 0, ""
	}
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level > 6 || level >= len(line) || line[level] != ' ' {
		return 0, ""
	}
	header := strings.TrimSpace(strings.TrimRight(line[level+1:], "#"))
	if header == "" {
		return 0, ""
	}
	return level, header
}
