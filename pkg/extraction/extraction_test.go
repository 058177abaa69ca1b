package extraction

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/model"
)

func newTestService(t *testing.T, vision VisionCompleter) *Service {
	t.Helper()
	s, err := NewService(config.ExtractionConfig{}, vision)
	require.NoError(t, err)
	return s
}

func TestNormalizeText(t *testing.T) {
	in := "line one  \r\nline two\t\r\n\r\n\r\n\r\nline three\r"
	want := "line one\nline two\n\nline three"
	assert.Equal(t, want, NormalizeText(in))
}

func TestTitleFromFilename(t *testing.T) {
	assert.Equal(t, "report", TitleFromFilename("docs/report.pdf"))
	assert.Equal(t, "notes", TitleFromFilename("notes"))
	assert.Equal(t, "Untitled", TitleFromFilename(""))
}

func TestExtractorDispatch(t *testing.T) {
	s := newTestService(t, nil)

	tests := []struct {
		contentType string
		filename    string
		want        string
	}{
		{"application/pdf", "a.bin", "pdf"},
		{"", "slides.pptx", "pptx"},
		{"application/octet-stream", "notes.md", "markdown"},
		{"text/html; charset=utf-8", "page", "html"},
		{"text/csv", "data.csv", "csv"},
		{"image/png", "scan.png", "image"},
		{"text/plain", "readme.txt", "text"},
		{"text/x-python", "main.py", "text"},
	}
	for _, tt := range tests {
		e := s.ExtractorFor(tt.contentType, tt.filename)
		require.NotNil(t, e, "%s / %s", tt.contentType, tt.filename)
		assert.Equal(t, tt.want, e.Name(), "%s / %s", tt.contentType, tt.filename)
	}

	assert.Nil(t, s.ExtractorFor("application/zip", "archive.zip"))
}

func TestExtractValidation(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()

	_, err := s.Extract(ctx, nil, Hints{DocumentID: "d1", ContentType: "text/plain"})
	var extErr *ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "d1", extErr.DocumentID)
	assert.Equal(t, "validate", extErr.Stage)

	small, err := NewService(config.ExtractionConfig{MaxFileBytes: 4}, nil)
	require.NoError(t, err)
	_, err = small.Extract(ctx, []byte("hello world"), Hints{ContentType: "text/plain"})
	require.ErrorAs(t, err, &extErr)
	assert.Contains(t, err.Error(), "limit")

	_, err = s.Extract(ctx, []byte("data"), Hints{DocumentID: "d2", ContentType: "application/zip", Filename: "a.zip"})
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "dispatch", extErr.Stage)
	assert.Equal(t, model.TypeUnknown, extErr.DocumentType)
}

func TestExtractText(t *testing.T) {
	s := newTestService(t, nil)

	res, err := s.Extract(context.Background(), []byte("\uFEFFhello  \r\nworld\r\n"), Hints{
		Filename:    "greeting.txt",
		ContentType: "text/plain",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", res.Text)
	assert.Equal(t, "greeting", res.Title)
	assert.Equal(t, "text", res.Metadata["document_type"])

	_, err = s.Extract(context.Background(), []byte{0xff, 0xfe, 0x00, 0x41}, Hints{
		Filename: "binary.txt", ContentType: "text/plain",
	})
	assert.Error(t, err)
}

func TestExtractMarkdown(t *testing.T) {
	s := newTestService(t, nil)

	doc := strings.Join([]string{
		"# Install Guide",
		"",
		"Intro text.",
		"",
		"## Requirements",
		"",
		"```bash",
		"# not a header",
		"```",
		"",
		"### Disk",
		"More text.",
	}, "\n")

	res, err := s.Extract(context.Background(), []byte(doc), Hints{Filename: "guide.md"})
	require.NoError(t, err)
	assert.Equal(t, "Install Guide", res.Title)
	assert.Equal(t, "3", res.Metadata["header_count"])
	assert.Equal(t, "1:Install Guide\n2:Requirements\n3:Disk", res.Metadata["headers"])
	assert.Contains(t, res.Text, "# not a header")
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		line  string
		level int
		text  string
	}{
		{"# Title", 1, "Title"},
		{"###   Spaced   ", 3, "Spaced"},
		{"## Closed ##", 2, "Closed"},
		{"#NoSpace", 0, ""},
		{"####### Seven", 0, ""},
		{"#", 0, ""},
		{"plain", 0, ""},
	}
	for _, tt := range tests {
		level, text := parseHeader(tt.line)
		assert.Equal(t, tt.level, level, tt.line)
		assert.Equal(t, tt.text, text, tt.line)
	}
}

func TestExtractCSV(t *testing.T) {
	s := newTestService(t, nil)

	data := "name,role\nada,eng\ngrace,\"eng,lead\"\nshort\n"
	res, err := s.Extract(context.Background(), []byte(data), Hints{Filename: "people.csv"})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Headers: name | role")
	assert.Contains(t, res.Text, "Row 1: ada | eng")
	assert.Contains(t, res.Text, "Row 2: grace | eng,lead")
	assert.Contains(t, res.Text, "Row 3: short")
	assert.Equal(t, "4", res.Metadata["rows"])
	assert.Equal(t, "2", res.Metadata["columns"])
}

func TestExtractXLSX(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Item"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Cost"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "Widget"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 42))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s := newTestService(t, nil)
	res, err := s.Extract(context.Background(), buf.Bytes(), Hints{Filename: "costs.xlsx"})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Headers: Item | Cost")
	assert.Contains(t, res.Text, "Row 1: Widget | 42")
	assert.Equal(t, "1", res.Metadata["sheets"])
	assert.Equal(t, "xlsx", res.Metadata["document_type"])
}

func TestRenderTableTruncates(t *testing.T) {
	rows := [][]string{{"h1", "h2"}}
	for i := 0; i < 10; i++ {
		rows = append(rows, []string{"a", "b"})
	}
	text := renderTable(rows, 3)
	assert.Contains(t, text, "Row 3:")
	assert.NotContains(t, text, "Row 4:")
	assert.Contains(t, text, "... (truncated)")
}

const slideXMLTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">
  <p:cSld><p:spTree>
    <p:sp><p:txBody>
      <a:p><a:r><a:t>%s</a:t></a:r></a:p>
      <a:p><a:r><a:t>%s</a:t></a:r></a:p>
    </p:txBody></p:sp>
  </p:spTree></p:cSld>
</p:sld>`

func buildPPTX(t *testing.T, slides map[string][2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, texts := range slides {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = fmt.Fprintf(w, slideXMLTemplate, texts[0], texts[1])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractPPTX(t *testing.T) {
	data := buildPPTX(t, map[string][2]string{
		"ppt/slides/slide2.xml": {"Second slide", "More detail"},
		"ppt/slides/slide1.xml": {"Title slide", "Subtitle"},
		"ppt/media/image1.png":  {"", ""},
	})

	s := newTestService(t, nil)
	res, err := s.Extract(context.Background(), data, Hints{Filename: "deck.pptx"})
	require.NoError(t, err)

	first := strings.Index(res.Text, "Title slide")
	second := strings.Index(res.Text, "Second slide")
	require.GreaterOrEqual(t, first, 0)
	require.Greater(t, second, first)
	assert.Contains(t, res.Text, "--- Slide 1 ---")
	assert.Contains(t, res.Text, "Subtitle")
	assert.Equal(t, "2", res.Metadata["slides"])
}

func TestExtractPPTXNoSlides(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("ppt/other.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	s := newTestService(t, nil)
	_, err = s.Extract(context.Background(), buf.Bytes(), Hints{Filename: "empty.pptx"})
	assert.Error(t, err)
}

func TestExtractDOCX(t *testing.T) {
	const documentXML = `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second</w:t></w:r><w:r><w:tab/><w:t>tabbed</w:t></w:r></w:p>
  </w:body>
</w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	s := newTestService(t, nil)
	res, err := s.Extract(context.Background(), buf.Bytes(), Hints{Filename: "memo.docx"})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "First paragraph.")
	assert.Contains(t, res.Text, "Second\ttabbed")
}

func TestOOXMLText(t *testing.T) {
	part := []byte(`<doc><p><t>one</t></p><ignored>skip me</ignored><p><t>two</t><br/><t>three</t></p></doc>`)
	text, err := ooxmlText(part, "t")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", text)
}

func TestExtractHTML(t *testing.T) {
	page := `<!DOCTYPE html>
<html><head><title>API Guide</title><style>h1 { color: red; }</style></head>
<body>
  <h1>Endpoints</h1>
  <p>All endpoints use JSON.</p>
  <ul><li>GET /items</li><li>POST /items</li></ul>
  <script>console.log("noise")</script>
</body></html>`

	s := newTestService(t, nil)
	res, err := s.Extract(context.Background(), []byte(page), Hints{
		Filename:    "guide.html",
		ContentType: "text/html; charset=utf-8",
	})
	require.NoError(t, err)
	assert.Equal(t, "API Guide", res.Title)
	assert.Contains(t, res.Text, "Endpoints")
	assert.Contains(t, res.Text, "All endpoints use JSON.")
	assert.Contains(t, res.Text, "GET /items")
	assert.NotContains(t, res.Text, "console.log")
}

func TestExtractPDFMalformed(t *testing.T) {
	s := newTestService(t, nil)

	garbage := append([]byte("%PDF-1.7\n"), bytes.Repeat([]byte{0x13, 0x37}, 64)...)
	_, err := s.Extract(context.Background(), garbage, Hints{DocumentID: "d9", Filename: "broken.pdf"})
	var extErr *ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, model.TypePDF, extErr.DocumentType)
}

type fakeVision struct {
	responses []string
	errs      []error
	prompts   []string
	mimes     []string
}

func (f *fakeVision) CompleteVision(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	i := len(f.prompts)
	f.prompts = append(f.prompts, prompt)
	f.mimes = append(f.mimes, mimeType)
	var resp string
	var err error
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return resp, err
}

func TestExtractImage(t *testing.T) {
	vision := &fakeVision{responses: []string{"OCR result text"}}
	s := newTestService(t, vision)

	res, err := s.Extract(context.Background(), []byte{0x89, 0x50, 0x4e, 0x47}, Hints{
		Filename:    "scan.png",
		ContentType: "image/png",
	})
	require.NoError(t, err)
	assert.Equal(t, "OCR result text", res.Text)
	require.Len(t, vision.prompts, 1)
	assert.Contains(t, vision.prompts[0], "layout")
	assert.Equal(t, "image/png", vision.mimes[0])
}

func TestExtractImageFallsBackToPlainOCR(t *testing.T) {
	vision := &fakeVision{
		responses: []string{"", "plain text result"},
		errs:      []error{errors.New("model refused"), nil},
	}
	s := newTestService(t, vision)

	res, err := s.Extract(context.Background(), []byte{0xff, 0xd8}, Hints{Filename: "photo.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "plain text result", res.Text)
	require.Len(t, vision.prompts, 2)
	assert.Equal(t, "image/jpeg", vision.mimes[1])
}

func TestExtractImageWithoutVision(t *testing.T) {
	s := newTestService(t, nil)

	_, err := s.Extract(context.Background(), []byte{0x89}, Hints{Filename: "scan.png"})
	var extErr *ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.Contains(t, err.Error(), "vision")
}

func TestImageMIME(t *testing.T) {
	assert.Equal(t, "image/png", imageMIME(Hints{ContentType: "image/png"}))
	assert.Equal(t, "image/jpeg", imageMIME(Hints{ContentType: "image/jpg"}))
	assert.Equal(t, "image/jpeg", imageMIME(Hints{Filename: "a.JPG"}))
	assert.Equal(t, "image/webp", imageMIME(Hints{Filename: "b.webp"}))
	assert.Equal(t, "image/png", imageMIME(Hints{Filename: "mystery"}))
}
