// Package chunking splits extracted document text into overlapping,
// structure-aware chunks. Structured documents are chunked once per size
// class so retrieval can pick the granularity that fits the question.
package chunking

import (
	"fmt"
	"strings"

	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/model"
)

// ============================================================================
// TYPES
// ============================================================================

// SizeClass selects a chunk granularity.
type SizeClass string

const (
	SizeSmall  SizeClass = "SMALL"
	SizeMedium SizeClass = "MEDIUM"
	SizeLarge  SizeClass = "LARGE"
)

// AllSizeClasses in ascending granularity order.
var AllSizeClasses = []SizeClass{SizeSmall, SizeMedium, SizeLarge}

// DefaultSizeClass is used when multi-class emission is off or the
// document is unstructured.
const DefaultSizeClass = SizeMedium

// Valid reports whether the class is one of the known three.
func (c SizeClass) Valid() bool {
	switch c {
	case SizeSmall, SizeMedium, SizeLarge:
		return true
	default:
		return false
	}
}

// Chunk is one retrievable piece of a document.
type Chunk struct {
	Content   string
	Index     int
	Total     int
	SizeClass SizeClass

	// NearestHeader is the header of the section this chunk came from.
	NearestHeader string

	// SectionPath lists the strictly-higher-level ancestor headers, top
	// down. Empty for flat documents.
	SectionPath []string

	WordCount int
}

// ============================================================================
// CHUNKER
// ============================================================================

// Chunker applies one of two strategies per document type: flat
// paragraph packing for unstructured text, section-aware packing with
// overlap for everything that carries headers.
type Chunker struct {
	cfg config.ChunkingConfig
}

func New(cfg config.ChunkingConfig) (*Chunker, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunking config: %w", err)
	}
	return &Chunker{cfg: cfg}, nil
}

// classParams returns (target size, overlap) for a class.
func (c *Chunker) classParams(class SizeClass) (int, int) {
	switch class {
	case SizeSmall:
		return c.cfg.SmallSize, c.cfg.SmallOverlap
	case SizeLarge:
		return c.cfg.LargeSize, c.cfg.LargeOverlap
	default:
		return c.cfg.MediumSize, c.cfg.MediumOverlap
	}
}

// Classes returns the size classes that will be emitted for a document
// type: all three for structured documents when multi-class emission is
// on, just the default class otherwise.
func (c *Chunker) Classes(docType model.DocumentType) []SizeClass {
	if docType.Structured() && c.cfg.MultiClass != nil && *c.cfg.MultiClass {
		return AllSizeClasses
	}
	return []SizeClass{DefaultSizeClass}
}

// ChunkDocument chunks text at every size class the document type gets.
func (c *Chunker) ChunkDocument(text string, docType model.DocumentType) map[SizeClass][]Chunk {
	out := make(map[SizeClass][]Chunk)
	for _, class := range c.Classes(docType) {
		out[class] = c.Chunk(text, docType, class)
	}
	return out
}

// Chunk splits text at one size class. Index is dense and 0-based within
// the returned slice; Total equals its length.
func (c *Chunker) Chunk(text string, docType model.DocumentType, class SizeClass) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if !class.Valid() {
		class = DefaultSizeClass
	}

	var chunks []Chunk
	if docType.Structured() {
		chunks = c.chunkSections(text, class)
	} else {
		chunks = c.chunkFlat(text, class)
	}

	for i := range chunks {
		chunks[i].Index = i
		chunks[i].Total = len(chunks)
		chunks[i].SizeClass = class
		chunks[i].WordCount = len(strings.Fields(chunks[i].Content))
	}
	return chunks
}

// chunkFlat packs whole paragraphs greedily up to the class target. A
// single paragraph larger than the target becomes its own chunk.
func (c *Chunker) chunkFlat(text string, class SizeClass) []Chunk {
	target, _ := c.classParams(class)
	paragraphs := splitParagraphs(text)

	var chunks []Chunk
	var cur strings.Builder
	flush := func() {
		if content := strings.TrimSpace(cur.String()); content != "" {
			chunks = append(chunks, Chunk{Content: content})
		}
		cur.Reset()
	}

	for _, p := range paragraphs {
		if cur.Len() > 0 && cur.Len()+len(p)+2 > target {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	flush()
	return chunks
}

// chunkSections parses the header outline, then packs each section's body
// with the class target, overlap, and sentence-boundary look-back.
func (c *Chunker) chunkSections(text string, class SizeClass) []Chunk {
	target, overlap := c.classParams(class)

	var chunks []Chunk
	for _, sec := range parseSections(text) {
		body := strings.TrimSpace(sec.body())
		if body == "" {
			continue
		}
		for _, piece := range packText(body, target, overlap, c.cfg.BoundaryWindow) {
			chunks = append(chunks, Chunk{
				Content:       piece,
				NearestHeader: sec.header,
				SectionPath:   sec.path,
			})
		}
	}
	return chunks
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
