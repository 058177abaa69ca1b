package query

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/docbrain-ai/docbrain/pkg/chunking"
	"github.com/docbrain-ai/docbrain/pkg/model"
	"github.com/docbrain-ai/docbrain/pkg/prompts"
	"github.com/docbrain-ai/docbrain/pkg/reranking"
)

// ============================================================================
// QUERY INTENT
// ============================================================================

// Intent classifies what shape of answer a query wants. It picks the
// synthesis guidance and which chunk sizes get boosted.
type Intent string

const (
	IntentFactoid     Intent = "FACTOID"
	IntentComparison  Intent = "COMPARISON"
	IntentExplanation Intent = "EXPLANATION"
	IntentList        Intent = "LIST"
	IntentProcedural  Intent = "PROCEDURAL"
	IntentDefinition  Intent = "DEFINITION"
	IntentCauseEffect Intent = "CAUSE_EFFECT"
	IntentAnalysis    Intent = "ANALYSIS"
	IntentUnknown     Intent = "UNKNOWN"
)

var allIntents = []Intent{
	IntentFactoid, IntentComparison, IntentExplanation, IntentList,
	IntentProcedural, IntentDefinition, IntentCauseEffect, IntentAnalysis,
}

// intentPatterns spot the common query shapes without an LLM call.
// Order matters: the first match wins, so the more specific shapes come
// first.
var intentPatterns = []struct {
	intent  Intent
	pattern *regexp.Regexp
}{
	{IntentComparison, regexp.MustCompile(`(?i)\b(compare|versus|vs\.?|difference between|differences between|better than)\b`)},
	{IntentProcedural, regexp.MustCompile(`(?i)^how (do|can|to|should)\b|\bstep[- ]by[- ]step\b|\bsteps to\b|\binstructions\b`)},
	{IntentCauseEffect, regexp.MustCompile(`(?i)\bwhy\b|\bcaused? by\b|\bleads? to\b|\bresult of\b|\bbecause of\b`)},
	{IntentDefinition, regexp.MustCompile(`(?i)^what (is|are) (a|an|the )?\w+( \w+)?\??$|\bdefin(e|ition)\b|\bmeaning of\b`)},
	{IntentList, regexp.MustCompile(`(?i)^(list|enumerate|name)\b|\bexamples of\b|\bwhat are the\b`)},
	{IntentExplanation, regexp.MustCompile(`(?i)\bexplain\b|^describe\b|\bin detail\b|\boverview of\b|\bwalk me through\b`)},
	{IntentFactoid, regexp.MustCompile(`(?i)^(who|when|where|which|how (many|much))\b`)},
	{IntentAnalysis, regexp.MustCompile(`(?i)\banaly[sz]e\b|\banalysis\b|\bimplications?\b|\btrade-?offs?\b|\bpros and cons\b|\bevaluate\b`)},
}

// classifyIntent is regex-first: the common shapes are cheap to spot
// and only ambiguous queries spend a router-model call.
func (r *RagRetriever) classifyIntent(ctx context.Context, query string) Intent {
	for _, p := range intentPatterns {
		if p.pattern.MatchString(query) {
			return p.intent
		}
	}

	prompt := r.registry.Render(prompts.DomainRag, prompts.RagIntent, map[string]string{
		"query":   query,
		"intents": intentNames(),
	})
	raw, err := r.completer.RouterCompleteText(ctx, "", prompt)
	if err != nil {
		slog.Debug("Intent classification failed", "error", err)
		return IntentUnknown
	}
	return parseIntent(raw)
}

func intentNames() string {
	names := make([]string, len(allIntents))
	for i, intent := range allIntents {
		names[i] = string(intent)
	}
	return strings.Join(names, ", ")
}

// parseIntent accepts the bare intent name and tolerates replies that
// wrap it in a sentence.
func parseIntent(raw string) Intent {
	cleaned := strings.ToUpper(strings.TrimSpace(raw))
	for _, intent := range allIntents {
		if cleaned == string(intent) {
			return intent
		}
	}
	for _, intent := range allIntents {
		if strings.Contains(cleaned, string(intent)) {
			return intent
		}
	}
	return IntentUnknown
}

// guidance returns the per-intent synthesis instruction, falling back
// to the default when the intent is unknown or has no template.
func (r *RagRetriever) guidance(intent Intent) string {
	if intent != IntentUnknown {
		name := prompts.RagGuidancePrefix + strings.ToLower(string(intent))
		if tmpl, ok := r.registry.Template(prompts.DomainRag, name); ok {
			return tmpl
		}
	}
	return r.registry.Render(prompts.DomainRag, prompts.RagGuidanceDefault, nil)
}

// ============================================================================
// SCORE BOOSTS
// ============================================================================

// docTypeKeywords map a document type to the query words that suggest
// the user wants that kind of document.
var docTypeKeywords = map[string][]string{
	string(model.TypeXLSX):     {"table", "spreadsheet", "data", "column", "row", "cell", "sheet"},
	string(model.TypeCSV):      {"table", "data", "column", "row", "record"},
	string(model.TypeImage):    {"image", "diagram", "chart", "screenshot", "figure"},
	string(model.TypeMarkdown): {"code", "snippet", "example", "config", "command"},
}

// applyBoosts nudges candidate scores with metadata signals: chunk size
// matched to the intent, document type matched to query keywords, and
// section headers containing query terms. Boosts reorder candidates
// before the context cut; they are not similarity scores anymore.
func applyBoosts(candidates []reranking.Candidate, query string, intent Intent) {
	keywords := queryKeywords(query)
	preferred := preferredChunkSize(intent)

	for i := range candidates {
		c := &candidates[i]
		boost := 1.0

		if preferred != "" && c.Metadata[model.MetaChunkSize] == string(preferred) {
			boost *= 1.2
		}
		if docTypeMatchesQuery(c.Metadata[model.MetaDocType], keywords) {
			boost *= 1.3
		}
		if hits := sectionKeywordHits(c.Metadata, keywords); hits > 0 {
			boost *= 1 + 0.1*float64(hits)
		}

		c.Score *= boost
	}
}

// preferredChunkSize pairs answer shapes with chunk granularity: short
// facts live in small chunks, explanations need the large ones.
func preferredChunkSize(intent Intent) chunking.SizeClass {
	switch intent {
	case IntentFactoid, IntentDefinition:
		return chunking.SizeSmall
	case IntentExplanation, IntentAnalysis:
		return chunking.SizeLarge
	default:
		return ""
	}
}

func docTypeMatchesQuery(docType string, keywords map[string]bool) bool {
	for _, kw := range docTypeKeywords[docType] {
		if keywords[kw] {
			return true
		}
	}
	return false
}

// sectionKeywordHits counts distinct query keywords appearing in the
// chunk's nearest header or section path.
func sectionKeywordHits(metadata map[string]string, keywords map[string]bool) int {
	section := strings.ToLower(metadata[model.MetaSection] + " " + metadata[model.MetaPath])
	if strings.TrimSpace(section) == "" {
		return 0
	}
	hits := 0
	for kw := range keywords {
		if strings.Contains(section, kw) {
			hits++
		}
	}
	return hits
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true,
	"were": true, "with": true, "that": true, "this": true, "from": true,
	"what": true, "when": true, "where": true, "which": true, "who": true,
	"why": true, "how": true, "does": true, "can": true, "you": true,
	"your": true, "about": true, "into": true, "have": true, "has": true,
	"had": true, "not": true, "but": true, "all": true, "any": true,
	"its": true, "our": true, "their": true, "there": true, "them": true,
	"they": true, "will": true, "would": true, "should": true, "could": true,
	"than": true, "then": true, "between": true, "each": true, "please": true,
	"tell": true, "show": true, "give": true,
}

// queryKeywords lowercases and tokenizes the query, dropping short
// words and stopwords.
func queryKeywords(query string) map[string]bool {
	keywords := make(map[string]bool)
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if len(w) >= 3 && !stopwords[w] {
			keywords[w] = true
		}
	}
	return keywords
}
