package extraction

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nguyenthenguyen/docx"

	"github.com/docbrain-ai/docbrain/pkg/model"
)

// ============================================================================
// DOCX
// ============================================================================

// DOCXExtractor reads Word documents. Primary path goes through the docx
// library; when that fails the raw word/document.xml is pulled out of the
// archive directly. Both paths end in the same XML text scan.
type DOCXExtractor struct{}

func (e *DOCXExtractor) Name() string { return "docx" }

func (e *DOCXExtractor) CanExtract(contentType, filename string) bool {
	return model.DetectType(contentType, filename) == model.TypeDOCX
}

func (e *DOCXExtractor) Extract(ctx context.Context, data []byte, hints Hints) (*Result, error) {
	content, err := docxDocumentXML(data)
	if err != nil {
		raw, zerr := zipEntry(data, "word/document.xml")
		if zerr != nil {
			return nil, fmt.Errorf("failed to open docx: %w", err)
		}
		content = string(raw)
	}

	text, err := ooxmlText([]byte(content), "t")
	if err != nil {
		return nil, err
	}

	paragraphs := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			paragraphs++
		}
	}

	return &Result{
		Text: text,
		Metadata: map[string]string{
			"paragraphs": strconv.Itoa(paragraphs),
		},
	}, nil
}

func docxDocumentXML(data []byte) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("docx parser panic: %v", r)
		}
	}()

	d, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	defer d.Close()
	return d.Editable().GetContent(), nil
}
