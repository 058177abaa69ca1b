package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/httpclient"
)

// ============================================================================
// OPENAI-SHAPED EMBEDDER
// ============================================================================

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint. With a
// custom base URL it also serves Ollama, vLLM, and other gateways that
// speak the same wire format.
type OpenAIEmbedder struct {
	client    *httpclient.Client
	baseURL   string
	apiKey    string
	model     string
	dimension int
	batchSize int
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
	// Dimensions shortens the vector server-side. Only the
	// text-embedding-3 family accepts it; older models reject the field.
	Dimensions int `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewOpenAIEmbedder creates an embedder against cfg.BaseURL or the
// public OpenAI API. The API key is required only for the public
// endpoint; local gateways usually run unauthenticated.
func NewOpenAIEmbedder(cfg config.EmbedderConfig) (*OpenAIEmbedder, error) {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if cfg.APIKey == "" && baseURL == defaultOpenAIBaseURL {
		return nil, fmt.Errorf("openai embedder requires an API key (set OPENAI_API_KEY)")
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	)

	return &OpenAIEmbedder{
		client:    client,
		baseURL:   baseURL,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	normalized := normalizeAll(texts)
	for i, t := range normalized {
		if t == "" {
			return nil, fmt.Errorf("cannot embed empty text (input %d)", i)
		}
	}

	vectors := make([][]float32, 0, len(normalized))
	for start := 0; start < len(normalized); start += e.batchSize {
		end := start + e.batchSize
		if end > len(normalized) {
			end = len(normalized)
		}

		batch, err := e.embedRequest(ctx, normalized[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

func (e *OpenAIEmbedder) embedRequest(ctx context.Context, input []string) ([][]float32, error) {
	payload := openAIEmbedRequest{
		Model: e.model,
		Input: input,
	}
	if strings.HasPrefix(e.model, "text-embedding-3") {
		payload.Dimensions = e.dimension
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if msg := parseOpenAIError(resp.Body); msg != "" {
				return nil, newEmbeddingError("openai", e.model, fmt.Errorf("%s: %w", msg, err))
			}
		}
		return nil, newEmbeddingError("openai", e.model, err)
	}
	defer resp.Body.Close()

	var parsed openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, newEmbeddingError("openai", e.model, fmt.Errorf("failed to decode response: %w", err))
	}

	if len(parsed.Data) != len(input) {
		return nil, newEmbeddingError("openai", e.model,
			fmt.Errorf("got %d embeddings for %d inputs", len(parsed.Data), len(input)))
	}

	// The API may return entries out of order; Index restores input order.
	sort.Slice(parsed.Data, func(i, j int) bool {
		return parsed.Data[i].Index < parsed.Data[j].Index
	})

	vectors := make([][]float32, len(input))
	for i, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(input) {
			return nil, newEmbeddingError("openai", e.model,
				fmt.Errorf("embedding index %d out of range", item.Index))
		}
		if len(item.Embedding) != e.dimension {
			return nil, fmt.Errorf("model %s returned %d-dimension vector, expected %d (check embedder.dimension)",
				e.model, len(item.Embedding), e.dimension)
		}
		vectors[i] = item.Embedding
	}

	return vectors, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

func (e *OpenAIEmbedder) Close() error {
	return nil
}

func parseOpenAIError(r io.Reader) string {
	var parsed openAIErrorResponse
	if err := json.NewDecoder(r).Decode(&parsed); err != nil {
		return ""
	}
	return parsed.Error.Message
}
