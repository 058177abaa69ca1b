package extraction

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/docbrain-ai/docbrain/pkg/model"
)

// ============================================================================
// PPTX
// ============================================================================

var slidePartPattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// PPTXExtractor reads PowerPoint decks straight from the archive: one XML
// part per slide, text runs in a:t elements.
type PPTXExtractor struct{}

func (e *PPTXExtractor) Name() string { return "pptx" }

func (e *PPTXExtractor) CanExtract(contentType, filename string) bool {
	return model.DetectType(contentType, filename) == model.TypePPTX
}

func (e *PPTXExtractor) Extract(ctx context.Context, data []byte, hints Hints) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pptx: %w", err)
	}

	type slidePart struct {
		number int
		file   *zip.File
	}
	var slides []slidePart
	for _, f := range zr.File {
		m := slidePartPattern.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		slides = append(slides, slidePart{number: n, file: f})
	}
	if len(slides) == 0 {
		return nil, fmt.Errorf("pptx has no slides")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].number < slides[j].number })

	var parts []string
	for _, slide := range slides {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rc, err := slide.file.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open slide %d: %w", slide.number, err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read slide %d: %w", slide.number, err)
		}

		text, err := ooxmlText(raw, "t")
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", slide.number, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, fmt.Sprintf("--- Slide %d ---\n%s", slide.number, text))
		}
	}

	return &Result{
		Text: strings.Join(parts, "\n\n"),
		Metadata: map[string]string{
			"slides": strconv.Itoa(len(slides)),
		},
	}, nil
}
