package extraction

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"

	"github.com/docbrain-ai/docbrain/pkg/model"
)

// ============================================================================
// HTML
// ============================================================================

// HTMLExtractor converts pages to markdown so downstream chunking sees the
// same heading structure as native markdown documents. When conversion
// fails, a plain goquery walk produces markdown-ish text instead.
type HTMLExtractor struct{}

func (e *HTMLExtractor) Name() string { return "html" }

func (e *HTMLExtractor) CanExtract(contentType, filename string) bool {
	return model.DetectType(contentType, filename) == model.TypeHTML
}

func (e *HTMLExtractor) Extract(ctx context.Context, data []byte, hints Hints) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	text, err := htmltomarkdown.ConvertString(string(data))
	converter := "markdown"
	if err != nil || strings.TrimSpace(text) == "" {
		text = htmlTextWalk(doc)
		converter = "text"
	}

	return &Result{
		Text:  text,
		Title: title,
		Metadata: map[string]string{
			"converter": converter,
		},
	}, nil
}

// htmlTextWalk flattens a parsed page into text, keeping headings in
// markdown form so section detection still works.
func htmlTextWalk(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()

	var b strings.Builder
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		switch name := goquery.NodeName(s); name {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			level := int(name[1] - '0')
			b.WriteString(strings.Repeat("#", level))
			b.WriteByte(' ')
			b.WriteString(text)
			b.WriteString("\n\n")
		case "li":
			b.WriteString("- ")
			b.WriteString(text)
			b.WriteByte('\n')
		case "p":
			// Paragraphs inside list items already came out with the item.
			if s.ParentsFiltered("li").Length() > 0 {
				return
			}
			b.WriteString(text)
			b.WriteString("\n\n")
		default:
			b.WriteString(text)
			b.WriteString("\n\n")
		}
	})
	return b.String()
}
