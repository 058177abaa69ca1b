package chunking

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ============================================================================
// SECTION PARSING
// ============================================================================

// Extractors emit "--- Page 3 ---" style markers for paged formats; those
// act as level-2 headers so paged documents still get sections.
var pageMarkerPattern = regexp.MustCompile(`^--- ((?:Page|Slide|Sheet:?) .+?) ---$`)

// Code definitions open a section too, so API-bearing documents keep
// their structure: "func Name(", "def name(", "class Name".
var codeSignaturePattern = regexp.MustCompile(`^(?:func\s+(?:\([^)]*\)\s*)?\w+\s*\(|def\s+\w+\s*\(|class\s+[A-Z]\w*)`)

type section struct {
	header string
	level  int
	path   []string
	lines  []string
}

func (s *section) body() string {
	return strings.Join(s.lines, "\n")
}

// parseSections splits text into header-delimited sections. A section
// runs until the next header of the same or higher level. The preamble
// before the first header is a section with no header.
func parseSections(text string) []*section {
	type stackEntry struct {
		level  int
		header string
	}

	var sections []*section
	var stack []stackEntry
	current := &section{}
	sections = append(sections, current)

	inFence := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			current.lines = append(current.lines, line)
			continue
		}
		if inFence {
			current.lines = append(current.lines, line)
			continue
		}

		level, header := headerLine(trimmed)
		if level == 0 {
			current.lines = append(current.lines, line)
			continue
		}

		for len(stack) > 0 && stack[len(stack)-1].level >= level {
			stack = stack[:len(stack)-1]
		}
		path := make([]string, len(stack))
		for i, e := range stack {
			path[i] = e.header
		}
		stack = append(stack, stackEntry{level: level, header: header})

		current = &section{header: header, level: level, path: path}
		sections = append(sections, current)
	}

	return sections
}

// headerLine classifies one trimmed line: markdown ATX headings, page or
// slide markers, and code signatures all open sections.
func headerLine(line string) (int, string) {
	if line == "" {
		return 0, ""
	}
	if line[0] == '#' {
		level := 0
		for level < len(line) && line[level] == '#' {
			level++
		}
		if level <= 6 && level < len(line) && line[level] == ' ' {
			header := strings.TrimSpace(strings.TrimRight(line[level+1:], "#"))
			if header != "" {
				return level, header
			}
		}
		return 0, ""
	}
	if m := pageMarkerPattern.FindStringSubmatch(line); m != nil {
		return 2, m[1]
	}
	if m := codeSignaturePattern.FindString(line); m != "" {
		header := strings.TrimSpace(strings.TrimSuffix(m, "("))
		return 3, header
	}
	return 0, ""
}

// ============================================================================
// PACKING
// ============================================================================

// packText cuts text into pieces around the target size. Each cut prefers
// the last sentence terminator within the look-back window; consecutive
// pieces share `overlap` characters of context.
func packText(text string, target, overlap, window int) []string {
	if len(text) <= target {
		return []string{text}
	}

	var out []string
	start := 0
	for start < len(text) {
		end := start + target
		if end >= len(text) {
			if piece := strings.TrimSpace(text[start:]); piece != "" {
				out = append(out, piece)
			}
			break
		}

		cut := boundaryCut(text, end, window)
		if cut <= start {
			// Pathologically small targets: cut at the boundary, aligned
			// forward so a rune is never split.
			cut = end
			for cut < len(text) && !utf8.RuneStart(text[cut]) {
				cut++
			}
		}
		if piece := strings.TrimSpace(text[start:cut]); piece != "" {
			out = append(out, piece)
		}

		next := cut - overlap
		if next <= start {
			next = cut
		}
		for next < len(text) && !utf8.RuneStart(text[next]) {
			next++
		}
		start = next
	}
	return out
}

// boundaryCut finds where to cut: just after the last sentence terminator
// in (end-window, end], or at end itself, aligned to a rune start.
func boundaryCut(text string, end, window int) int {
	low := end - window
	if low < 0 {
		low = 0
	}
	for i := end - 1; i >= low; i-- {
		switch text[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	return end
}
