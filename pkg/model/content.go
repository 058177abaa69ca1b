package model

import (
	"path/filepath"
	"strings"
)

// DocumentType is the closed set of formats DocBrain ingests. Extractor
// and chunker dispatch key off it; all supported types are known at
// compile time.
type DocumentType string

const (
	TypePDF      DocumentType = "pdf"
	TypeDOCX     DocumentType = "docx"
	TypePPTX     DocumentType = "pptx"
	TypeXLSX     DocumentType = "xlsx"
	TypeHTML     DocumentType = "html"
	TypeMarkdown DocumentType = "markdown"
	TypeCSV      DocumentType = "csv"
	TypeText     DocumentType = "text"
	TypeImage    DocumentType = "image"
	TypeUnknown  DocumentType = "unknown"
)

// Canonical MIME types accepted on upload.
const (
	MIMEPDF      = "application/pdf"
	MIMEDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEPPTX     = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	MIMEXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MIMEHTML     = "text/html"
	MIMEMarkdown = "text/markdown"
	MIMECSV      = "text/csv"
	MIMEText     = "text/plain"
	MIMEPNG      = "image/png"
	MIMEJPEG     = "image/jpeg"
	MIMEWebP     = "image/webp"
)

var mimeTypes = map[string]DocumentType{
	MIMEPDF:      TypePDF,
	MIMEDOCX:     TypeDOCX,
	MIMEPPTX:     TypePPTX,
	MIMEXLSX:     TypeXLSX,
	MIMEHTML:     TypeHTML,
	MIMEMarkdown: TypeMarkdown,
	"text/x-markdown": TypeMarkdown,
	MIMECSV:      TypeCSV,
	MIMEText:     TypeText,
	MIMEPNG:      TypeImage,
	MIMEJPEG:     TypeImage,
	"image/jpg":  TypeImage,
	MIMEWebP:     TypeImage,
	"image/gif":  TypeImage,
}

var extTypes = map[string]DocumentType{
	".pdf":      TypePDF,
	".docx":     TypeDOCX,
	".pptx":     TypePPTX,
	".xlsx":     TypeXLSX,
	".html":     TypeHTML,
	".htm":      TypeHTML,
	".md":       TypeMarkdown,
	".markdown": TypeMarkdown,
	".csv":      TypeCSV,
	".txt":      TypeText,
	".log":      TypeText,
	".png":      TypeImage,
	".jpg":      TypeImage,
	".jpeg":     TypeImage,
	".webp":     TypeImage,
	".gif":      TypeImage,
}

// DetectType resolves a document type from a MIME type and filename.
// The MIME type wins when recognized; the extension is the tie-breaker
// for generic types like application/octet-stream.
func DetectType(contentType, filename string) DocumentType {
	mime := contentType
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.TrimSpace(strings.ToLower(mime))

	if t, ok := mimeTypes[mime]; ok {
		return t
	}
	if t, ok := extTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}
	if strings.HasPrefix(mime, "image/") {
		return TypeImage
	}
	if strings.HasPrefix(mime, "text/") {
		return TypeText
	}
	return TypeUnknown
}

// Supported reports whether the type has an extractor.
func (t DocumentType) Supported() bool {
	return t != TypeUnknown && t != ""
}

// MIME returns the canonical MIME type for a document type.
func (t DocumentType) MIME() string {
	switch t {
	case TypePDF:
		return MIMEPDF
	case TypeDOCX:
		return MIMEDOCX
	case TypePPTX:
		return MIMEPPTX
	case TypeXLSX:
		return MIMEXLSX
	case TypeHTML:
		return MIMEHTML
	case TypeMarkdown:
		return MIMEMarkdown
	case TypeCSV:
		return MIMECSV
	case TypeText:
		return MIMEText
	case TypeImage:
		return MIMEPNG
	default:
		return "application/octet-stream"
	}
}

// Structured reports whether the type carries header structure worth
// multi-level chunking (markdown-like output or code/technical text).
func (t DocumentType) Structured() bool {
	switch t {
	case TypeMarkdown, TypeHTML, TypePDF, TypeDOCX, TypePPTX:
		return true
	default:
		return false
	}
}
