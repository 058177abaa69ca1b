package chunking

import (
	"strings"
	"testing"

	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/model"
)

func testChunker(t *testing.T, cfg config.ChunkingConfig) *Chunker {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func smallConfig() config.ChunkingConfig {
	return config.ChunkingConfig{
		SmallSize:  40,
		MediumSize: 80,
		LargeSize:  160,

		SmallOverlap:  5,
		MediumOverlap: 10,
		LargeOverlap:  20,

		BoundaryWindow: 10,
	}
}

func TestChunker_EmptyText(t *testing.T) {
	c := testChunker(t, config.ChunkingConfig{})
	if chunks := c.Chunk("   \n\n  ", model.TypeText, SizeMedium); chunks != nil {
		t.Errorf("expected no chunks for blank text, got %d", len(chunks))
	}
}

func TestChunker_FlatSmallContent(t *testing.T) {
	c := testChunker(t, config.ChunkingConfig{})
	chunks := c.Chunk("Hello, World!", model.TypeText, SizeMedium)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	got := chunks[0]
	if got.Content != "Hello, World!" {
		t.Errorf("unexpected content %q", got.Content)
	}
	if got.Index != 0 || got.Total != 1 {
		t.Errorf("expected index 0 total 1, got %d/%d", got.Index, got.Total)
	}
	if got.SizeClass != SizeMedium {
		t.Errorf("expected MEDIUM, got %s", got.SizeClass)
	}
	if got.WordCount != 2 {
		t.Errorf("expected word count 2, got %d", got.WordCount)
	}
}

func TestChunker_FlatParagraphPacking(t *testing.T) {
	c := testChunker(t, smallConfig())

	paragraphs := []string{
		"Alpha alpha alpha alpha.",
		"Beta beta beta beta beta.",
		"Gamma gamma gamma gamma.",
		"Delta delta delta delta.",
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks := c.Chunk(text, model.TypeText, SizeMedium)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Errorf("chunk %d has index %d", i, chunk.Index)
		}
		if chunk.Total != len(chunks) {
			t.Errorf("chunk %d has total %d, want %d", i, chunk.Total, len(chunks))
		}
		// Flat packing keeps paragraphs whole.
		for _, part := range strings.Split(chunk.Content, "\n\n") {
			found := false
			for _, p := range paragraphs {
				if part == p {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("chunk %d contains a split paragraph: %q", i, part)
			}
		}
	}
}

func TestChunker_FlatOversizedParagraph(t *testing.T) {
	c := testChunker(t, smallConfig())

	big := strings.Repeat("word ", 100)
	text := "Short intro.\n\n" + big + "\n\nShort outro."

	chunks := c.Chunk(text, model.TypeText, SizeMedium)
	found := false
	for _, chunk := range chunks {
		if strings.Contains(chunk.Content, strings.TrimSpace(big)) {
			found = true
		}
	}
	if !found {
		t.Error("oversized paragraph was split across chunks")
	}
}

func TestChunker_Sections(t *testing.T) {
	c := testChunker(t, config.ChunkingConfig{})

	doc := strings.Join([]string{
		"Preamble text before any header.",
		"# Guide",
		"Guide intro.",
		"## Install",
		"Install body.",
		"### Linux",
		"Linux body.",
		"## Usage",
		"Usage body.",
	}, "\n")

	chunks := c.Chunk(doc, model.TypeMarkdown, SizeMedium)

	byHeader := map[string]Chunk{}
	for _, chunk := range chunks {
		byHeader[chunk.NearestHeader] = chunk
	}

	pre, ok := byHeader[""]
	if !ok {
		t.Fatal("missing preamble chunk")
	}
	if len(pre.SectionPath) != 0 {
		t.Errorf("preamble has section path %v", pre.SectionPath)
	}

	linux, ok := byHeader["Linux"]
	if !ok {
		t.Fatal("missing Linux section chunk")
	}
	if want := []string{"Guide", "Install"}; !equalStrings(linux.SectionPath, want) {
		t.Errorf("Linux path = %v, want %v", linux.SectionPath, want)
	}
	if linux.Content != "Linux body." {
		t.Errorf("Linux content = %q", linux.Content)
	}

	usage, ok := byHeader["Usage"]
	if !ok {
		t.Fatal("missing Usage section chunk")
	}
	// Usage is level 2: Install and Linux pop off the ancestor stack.
	if want := []string{"Guide"}; !equalStrings(usage.SectionPath, want) {
		t.Errorf("Usage path = %v, want %v", usage.SectionPath, want)
	}
}

func TestChunker_SectionIndexIsDocumentWide(t *testing.T) {
	c := testChunker(t, smallConfig())

	doc := strings.Join([]string{
		"# One",
		strings.Repeat("First section sentence. ", 10),
		"# Two",
		strings.Repeat("Second section sentence. ", 10),
	}, "\n")

	chunks := c.Chunk(doc, model.TypeMarkdown, SizeSmall)
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Errorf("chunk %d has index %d", i, chunk.Index)
		}
		if chunk.Total != len(chunks) {
			t.Errorf("chunk %d total = %d, want %d", i, chunk.Total, len(chunks))
		}
		if chunk.SizeClass != SizeSmall {
			t.Errorf("chunk %d class = %s", i, chunk.SizeClass)
		}
	}
}

func TestChunker_MultiClassEmission(t *testing.T) {
	c := testChunker(t, config.ChunkingConfig{})

	structured := c.ChunkDocument("# Title\nBody text.", model.TypeMarkdown)
	if len(structured) != 3 {
		t.Errorf("structured document got %d classes, want 3", len(structured))
	}
	for _, class := range AllSizeClasses {
		if _, ok := structured[class]; !ok {
			t.Errorf("missing class %s", class)
		}
	}

	flat := c.ChunkDocument("Plain text.", model.TypeText)
	if len(flat) != 1 {
		t.Errorf("flat document got %d classes, want 1", len(flat))
	}
	if _, ok := flat[DefaultSizeClass]; !ok {
		t.Error("flat document missing default class")
	}
}

func TestChunker_MultiClassDisabled(t *testing.T) {
	disabled := false
	cfg := config.ChunkingConfig{MultiClass: &disabled}
	c := testChunker(t, cfg)

	out := c.ChunkDocument("# Title\nBody.", model.TypeMarkdown)
	if len(out) != 1 {
		t.Errorf("got %d classes with multi_class off, want 1", len(out))
	}
}

func TestChunker_FenceDoesNotOpenSection(t *testing.T) {
	c := testChunker(t, config.ChunkingConfig{})

	doc := "# Real\nIntro.\n```\n# fenced comment\nfunc fenced() {\n```\nOutro."
	chunks := c.Chunk(doc, model.TypeMarkdown, SizeMedium)
	for _, chunk := range chunks {
		if chunk.NearestHeader == "fenced comment" || strings.HasPrefix(chunk.NearestHeader, "func fenced") {
			t.Errorf("fenced content opened a section: %q", chunk.NearestHeader)
		}
	}
}

func TestHeaderLine(t *testing.T) {
	tests := []struct {
		line   string
		level  int
		header string
	}{
		{"# Title", 1, "Title"},
		{"### Deep ###", 3, "Deep"},
		{"#NoSpace", 0, ""},
		{"--- Page 3 ---", 2, "Page 3"},
		{"--- Slide 12 ---", 2, "Slide 12"},
		{"--- Sheet: Costs ---", 2, "Sheet: Costs"},
		{"func Add(a, b int) int {", 3, "func Add"},
		{"func (s *Service) Extract(ctx context.Context) {", 3, "func (s *Service) Extract"},
		{"def parse(raw):", 3, "def parse"},
		{"class Router:", 3, "class Router"},
		{"class of 2020 reunion", 0, ""},
		{"typedef struct foo", 0, ""},
		{"definitely not code", 0, ""},
		{"plain prose line", 0, ""},
		{"", 0, ""},
	}
	for _, tt := range tests {
		level, header := headerLine(tt.line)
		if level != tt.level || header != tt.header {
			t.Errorf("headerLine(%q) = (%d, %q), want (%d, %q)", tt.line, level, header, tt.level, tt.header)
		}
	}
}

func TestPackText_NoBoundary(t *testing.T) {
	text := strings.Repeat("0123456789", 25)
	pieces := packText(text, 100, 20, 50)

	want := []string{text[0:100], text[80:180], text[160:250]}
	if len(pieces) != len(want) {
		t.Fatalf("got %d pieces, want %d", len(pieces), len(want))
	}
	for i := range want {
		if pieces[i] != want[i] {
			t.Errorf("piece %d = %q, want %q", i, pieces[i], want[i])
		}
	}
}

func TestPackText_SentenceBoundary(t *testing.T) {
	text := "Alpha beta gamma. Delta epsilon zeta eta theta iota kappa"
	pieces := packText(text, 25, 5, 10)

	if pieces[0] != "Alpha beta gamma." {
		t.Errorf("first piece = %q, want cut at sentence end", pieces[0])
	}
	if len(pieces) < 2 || !strings.Contains(pieces[1], "Delta") {
		t.Errorf("second piece missing continuation: %v", pieces)
	}
}

func TestPackText_ShortText(t *testing.T) {
	pieces := packText("short", 100, 10, 50)
	if len(pieces) != 1 || pieces[0] != "short" {
		t.Errorf("unexpected pieces %v", pieces)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
