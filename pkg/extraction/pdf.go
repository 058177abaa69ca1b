package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/docbrain-ai/docbrain/pkg/model"
)

// ============================================================================
// PDF
// ============================================================================

// PDFExtractor reads PDFs in two passes: a row-geometry pass that keeps
// the visual line layout (and marks wide column gaps, so simple tables
// stay readable), then a plain-text pass when the first one gets nothing.
// The underlying parser panics on truncated files, so both passes run
// behind a recover.
type PDFExtractor struct {
	// MaxPages caps how many pages are read. 0 means all.
	MaxPages int
}

func (e *PDFExtractor) Name() string { return "pdf" }

func (e *PDFExtractor) CanExtract(contentType, filename string) bool {
	return model.DetectType(contentType, filename) == model.TypePDF
}

func (e *PDFExtractor) Extract(ctx context.Context, data []byte, hints Hints) (*Result, error) {
	reader, err := newPDFReader(data)
	if err != nil {
		return nil, err
	}

	totalPages := reader.NumPage()
	pages := totalPages
	if e.MaxPages > 0 && pages > e.MaxPages {
		pages = e.MaxPages
	}

	text, err := e.extractByRows(ctx, reader, pages)
	if err != nil || strings.TrimSpace(text) == "" {
		plain, perr := e.extractPlain(ctx, reader, pages)
		if perr == nil && strings.TrimSpace(plain) != "" {
			text, err = plain, nil
		} else if err == nil {
			err = perr
		}
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("pdf contains no extractable text")
	}

	return &Result{
		Text: text,
		Metadata: map[string]string{
			"pages": strconv.Itoa(totalPages),
		},
	}, nil
}

func newPDFReader(data []byte) (reader *pdf.Reader, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

func (e *PDFExtractor) extractByRows(ctx context.Context, reader *pdf.Reader, pages int) (string, error) {
	var parts []string
	for n := 1; n <= pages; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		rows, err := pageRows(page)
		if err != nil {
			return "", err
		}

		var pageText strings.Builder
		for _, row := range rows {
			line := renderRow(row)
			if strings.TrimSpace(line) == "" {
				continue
			}
			pageText.WriteString(line)
			pageText.WriteByte('\n')
		}
		if text := strings.TrimSpace(pageText.String()); text != "" {
			parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", n, text))
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func (e *PDFExtractor) extractPlain(ctx context.Context, reader *pdf.Reader, pages int) (string, error) {
	var parts []string
	for n := 1; n <= pages; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := pagePlainText(page)
		if err != nil {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", n, text))
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func pageRows(page pdf.Page) (rows pdf.Rows, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()
	return page.GetTextByRow()
}

func pagePlainText(page pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()
	return page.GetPlainText(nil)
}

// renderRow joins the text fragments of one visual row. Fragment gaps
// wider than a couple of characters become a column separator; smaller
// gaps become a single space.
func renderRow(row *pdf.Row) string {
	var b strings.Builder
	var lastEnd float64
	for i, frag := range row.Content {
		if i > 0 {
			size := frag.FontSize
			if size <= 0 {
				size = 10
			}
			gap := frag.X - lastEnd
			switch {
			case gap > size*2.5:
				b.WriteString(" | ")
			case gap > size*0.2:
				b.WriteByte(' ')
			}
		}
		b.WriteString(frag.S)
		lastEnd = frag.X + frag.W
	}
	return b.String()
}
