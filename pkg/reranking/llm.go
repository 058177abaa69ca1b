package reranking

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ============================================================================
// LLM RERANKER
// ============================================================================

const (
	// defaultMaxLLMCandidates bounds how many candidates go into a single
	// reranking prompt. More than this and the model loses track of IDs.
	defaultMaxLLMCandidates = 20

	// promptContentLimit truncates candidate content in the prompt.
	promptContentLimit = 500

	// positionScoreStep is the score decrement per rank position.
	positionScoreStep = 0.05

	// positionScoreFloor is the lowest positional score assigned.
	positionScoreFloor = 0.1
)

const defaultRerankSystemPrompt = "You are a search result reranking assistant. " +
	"Given a query and a set of search results, return a JSON array of result IDs " +
	"ordered from most to least relevant to the query. " +
	"Exclude results that are clearly irrelevant. " +
	"Return only the JSON array, nothing else."

// LLMReranker asks a language model to order candidates by relevance. The
// model sees the query and a numbered candidate list and returns a JSON
// array of IDs, most relevant first. Scores are assigned by position.
type LLMReranker struct {
	completer     TextCompleter
	maxCandidates int
	systemPrompt  string
}

// NewLLMReranker builds a reranker over the given completion client.
func NewLLMReranker(completer TextCompleter) *LLMReranker {
	return &LLMReranker{
		completer:     completer,
		maxCandidates: defaultMaxLLMCandidates,
		systemPrompt:  defaultRerankSystemPrompt,
	}
}

func (r *LLMReranker) Name() string { return "llm" }

// Rerank asks the model for a relevance ordering. A completion failure is
// returned as an error; an unparseable response keeps the retrieval order,
// since the model answered but not in a usable form.
func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	prompted := candidates
	if len(prompted) > r.maxCandidates {
		prompted = prompted[:r.maxCandidates]
	}

	system, user := r.buildRerankPrompt(query, prompted)
	response, err := r.completer.CompleteText(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("llm reranking failed: %w", err)
	}

	ids := parseIDArray(response)
	if len(ids) == 0 {
		out := make([]Candidate, len(candidates))
		copy(out, candidates)
		return trimTopK(out, topK), nil
	}

	return applyIDOrder(candidates, ids, topK), nil
}

// buildRerankPrompt renders the system and user prompts for a reranking
// request. Query and content are sanitized against prompt injection before
// being embedded in the prompt.
func (r *LLMReranker) buildRerankPrompt(query string, candidates []Candidate) (system, user string) {
	system = r.systemPrompt

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nSearch results:\n\n", sanitizePromptInput(query))
	for i, c := range candidates {
		content := sanitizePromptInput(c.Content)
		if len(content) > promptContentLimit {
			content = content[:promptContentLimit] + "..."
		}
		fmt.Fprintf(&b, "Result %d (ID: %s):\n%s\n\n", i+1, c.ID, content)
	}
	b.WriteString(`Respond with a JSON array of IDs, for example: ["id-3", "id-1"]`)
	return system, b.String()
}

// injectionPatterns are removed from user-supplied text before it is placed
// inside a prompt, so a crafted document cannot steer the reranking model.
var injectionPatterns = regexp.MustCompile(`(?i)(ignore\s+(all\s+)?previous\s+instructions|disregard\s+(all\s+)?previous|system\s*:|assistant\s*:|<\|[^|]*\|>|\x60{3})`)

func sanitizePromptInput(text string) string {
	return strings.TrimSpace(injectionPatterns.ReplaceAllString(text, ""))
}

// applyIDOrder rebuilds the candidate list from the model's ID ordering.
// Ranked candidates get positional scores descending from 1.0; candidates
// the model omitted keep their retrieval score and sort in behind.
func applyIDOrder(candidates []Candidate, ids []string, topK int) []Candidate {
	byID := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	seen := make(map[string]bool, len(ids))
	out := make([]Candidate, 0, len(candidates))
	for i, id := range ids {
		c, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		score := 1.0 - positionScoreStep*float64(i)
		if score < positionScoreFloor {
			score = positionScoreFloor
		}
		c.OriginalScore = c.Score
		c.Score = score
		out = append(out, c)
	}

	for _, c := range candidates {
		if !seen[c.ID] {
			c.OriginalScore = c.Score
			out = append(out, c)
		}
	}

	sortByScore(out)
	return trimTopK(out, topK)
}

// ============================================================================
// RESPONSE PARSING
// ============================================================================

// parseIDArray extracts a JSON array of string IDs from a model response,
// tolerating surrounding prose, code fences, and single-quoted arrays.
// Returns nil when nothing usable is found.
func parseIDArray(response string) []string {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start < 0 || end <= start {
		return nil
	}
	raw := response[start : end+1]

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err == nil {
		return ids
	}

	// Models occasionally emit single-quoted arrays.
	requoted := strings.ReplaceAll(raw, "'", `"`)
	if err := json.Unmarshal([]byte(requoted), &ids); err == nil {
		return ids
	}

	return extractIDsManually(raw)
}

// extractIDsManually is the last-resort parse: split the bracketed body on
// commas and strip quoting from each token.
func extractIDsManually(raw string) []string {
	body := strings.Trim(raw, "[]")
	if strings.TrimSpace(body) == "" {
		return nil
	}
	var ids []string
	for _, part := range strings.Split(body, ",") {
		id := strings.Trim(strings.TrimSpace(part), `"'`)
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
