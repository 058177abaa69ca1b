package extraction

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/docbrain-ai/docbrain/pkg/model"
)

// ============================================================================
// IMAGE (OCR)
// ============================================================================

const defaultOCRLayoutPrompt = `Extract all text from this image. Preserve the reading order and layout: keep headings on their own lines, reproduce tables using | between columns, and keep list structure. Output only the extracted text, no commentary.`

const defaultOCRPlainPrompt = `Extract all text visible in this image. Output only the text.`

// VisionCompleter is the slice of the LLM layer the image extractor needs:
// one prompt, one image, text back.
type VisionCompleter interface {
	CompleteVision(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// ImageExtractor runs OCR through a vision-capable model. The first pass
// asks for layout-preserving text; if that yields nothing, a plain OCR
// prompt is tried before giving up.
type ImageExtractor struct {
	vision       VisionCompleter
	layoutPrompt string
	plainPrompt  string
}

// NewImageExtractor builds the extractor. Empty prompts fall back to the
// built-in ones; a nil vision client turns every image into a clear error.
func NewImageExtractor(vision VisionCompleter, layoutPrompt, plainPrompt string) *ImageExtractor {
	if layoutPrompt == "" {
		layoutPrompt = defaultOCRLayoutPrompt
	}
	if plainPrompt == "" {
		plainPrompt = defaultOCRPlainPrompt
	}
	return &ImageExtractor{
		vision:       vision,
		layoutPrompt: layoutPrompt,
		plainPrompt:  plainPrompt,
	}
}

func (e *ImageExtractor) Name() string { return "image" }

func (e *ImageExtractor) CanExtract(contentType, filename string) bool {
	return model.DetectType(contentType, filename) == model.TypeImage
}

func (e *ImageExtractor) Extract(ctx context.Context, data []byte, hints Hints) (*Result, error) {
	if e.vision == nil {
		return nil, errors.New("no vision-capable llm provider configured")
	}
	mime := imageMIME(hints)

	text, err := e.vision.CompleteVision(ctx, e.layoutPrompt, data, mime)
	if err != nil || strings.TrimSpace(text) == "" {
		plain, perr := e.vision.CompleteVision(ctx, e.plainPrompt, data, mime)
		if perr == nil && strings.TrimSpace(plain) != "" {
			text, err = plain, nil
		} else if err == nil {
			err = perr
		}
	}
	if err != nil {
		return nil, fmt.Errorf("ocr failed: %w", err)
	}

	return &Result{
		Text: text,
		Metadata: map[string]string{
			"mime_type": mime,
		},
	}, nil
}

func imageMIME(hints Hints) string {
	ct := strings.ToLower(strings.TrimSpace(hints.ContentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	if strings.HasPrefix(ct, "image/") {
		if ct == "image/jpg" {
			return model.MIMEJPEG
		}
		return ct
	}
	switch strings.ToLower(filepath.Ext(hints.Filename)) {
	case ".jpg", ".jpeg":
		return model.MIMEJPEG
	case ".webp":
		return model.MIMEWebP
	case ".gif":
		return "image/gif"
	default:
		return model.MIMEPNG
	}
}
