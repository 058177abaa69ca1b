package reranking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/httpclient"
)

// ============================================================================
// COHERE RERANKER
// ============================================================================

const (
	defaultCohereBaseURL = "https://api.cohere.ai/v1"
	cohereMaxRetries     = 2
)

// CohereReranker scores candidates with Cohere's cross-encoder rerank API.
type CohereReranker struct {
	client  *httpclient.Client
	baseURL string
	apiKey  string
	model   string
}

type cohereRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

type cohereErrorResponse struct {
	Message string `json:"message"`
}

// NewCohereReranker builds a reranker against the Cohere rerank endpoint,
// or a compatible one when cfg.BaseURL is set.
func NewCohereReranker(cfg config.RerankerConfig) (*CohereReranker, error) {
	cfg.SetDefaults()

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultCohereBaseURL
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("cohere reranker requires an API key (set COHERE_API_KEY)")
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithMaxRetries(cohereMaxRetries),
		httpclient.WithHeaderParser(httpclient.ParseCohereHeaders),
	)

	return &CohereReranker{
		client:  client,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}, nil
}

func (r *CohereReranker) Name() string { return "cohere" }

func (r *CohereReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Content
	}

	payload := cohereRerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: documents,
		TopN:      topK,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if msg := parseCohereError(resp.Body); msg != "" {
				return nil, fmt.Errorf("cohere rerank failed: %s: %w", msg, err)
			}
		}
		return nil, fmt.Errorf("cohere rerank failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed cohereRerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	out := make([]Candidate, 0, len(parsed.Results))
	for _, result := range parsed.Results {
		if result.Index < 0 || result.Index >= len(candidates) {
			return nil, fmt.Errorf("rerank result index %d out of range", result.Index)
		}
		c := candidates[result.Index]
		c.OriginalScore = c.Score
		c.Score = clamp01(result.RelevanceScore)
		out = append(out, c)
	}

	sortByScore(out)
	return trimTopK(out, topK), nil
}

func parseCohereError(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var parsed cohereErrorResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ""
	}
	return parsed.Message
}
