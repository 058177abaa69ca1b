package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/httpclient"
)

// ============================================================================
// OPENAI PROVIDER
// ============================================================================

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"

	// maxSSELineBytes bounds one server-sent event line. Vision responses
	// can carry deltas well past the default bufio.Scanner limit.
	maxSSELineBytes = 1024 * 1024
)

// OpenAIProvider calls a /chat/completions endpoint. With a custom base URL
// it also serves Ollama, vLLM, and other gateways speaking the same wire
// format.
type OpenAIProvider struct {
	client  *httpclient.Client
	cfg     config.LLMProviderConfig
	baseURL string
}

type openAIChatRequest struct {
	Model    string              `json:"model"`
	Messages []openAIChatMessage `json:"messages"`

	// Reasoning models take max_completion_tokens; everything else takes
	// max_tokens. Exactly one is set.
	MaxTokens           *int `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int `json:"max_completion_tokens,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

type openAIChatMessage struct {
	Role string `json:"role"`

	// Content is a string for text-only turns, []openAIContentPart when
	// images are attached.
	Content any    `json:"content"`
	Name    string `json:"name,omitempty"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage openAIUsage `json:"usage"`
}

type openAIStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewOpenAIProvider builds a provider for an OpenAI-compatible endpoint. An
// API key is required only for the public endpoint; local gateways usually
// run keyless behind a custom base URL.
func NewOpenAIProvider(cfg config.LLMProviderConfig) (*OpenAIProvider, error) {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if cfg.APIKey == "" && baseURL == defaultOpenAIBaseURL {
		return nil, fmt.Errorf("openai provider requires an API key (set OPENAI_API_KEY)")
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	)

	return &OpenAIProvider{client: client, cfg: cfg, baseURL: baseURL}, nil
}

func (p *OpenAIProvider) ModelName() string    { return p.cfg.Model }
func (p *OpenAIProvider) SupportsVision() bool { return true }
func (p *OpenAIProvider) Close() error         { return nil }

func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message, opts Options) (*Completion, error) {
	request := p.buildRequest(messages, opts)
	if opts.Stream {
		return p.completeStream(ctx, request)
	}

	resp, err := p.send(ctx, request, "complete")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newLLMError("openai", "complete", fmt.Errorf("failed to read response: %w", err))
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, newLLMError("openai", "complete", fmt.Errorf("failed to decode response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return nil, newLLMError("openai", "complete", fmt.Errorf("no choices in response"))
	}

	model := parsed.Model
	if model == "" {
		model = p.cfg.Model
	}
	choice := parsed.Choices[0]
	return &Completion{
		Content:      choice.Message.Content,
		FinishReason: normalizeOpenAIFinish(choice.FinishReason),
		Model:        model,
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
		Raw: json.RawMessage(body),
	}, nil
}

func (p *OpenAIProvider) completeStream(ctx context.Context, request openAIChatRequest) (*Completion, error) {
	resp, err := p.send(ctx, request, "stream")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var content strings.Builder
	var usage Usage
	finish := ""
	model := p.cfg.Model

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return nil, newLLMError("openai", "stream", fmt.Errorf("failed to decode stream chunk: %w", err))
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) > 0 {
			content.WriteString(chunk.Choices[0].Delta.Content)
			if chunk.Choices[0].FinishReason != "" {
				finish = chunk.Choices[0].FinishReason
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, newLLMError("openai", "stream", fmt.Errorf("failed to read stream: %w", err))
	}

	return &Completion{
		Content:      content.String(),
		FinishReason: normalizeOpenAIFinish(finish),
		Model:        model,
		Usage:        usage,
	}, nil
}

func (p *OpenAIProvider) send(ctx context.Context, request openAIChatRequest, op string) (*http.Response, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if msg := parseOpenAIErrorBody(resp.Body); msg != "" {
				return nil, newLLMError("openai", op, fmt.Errorf("%s: %w", msg, err))
			}
		}
		return nil, newLLMError("openai", op, err)
	}
	return resp, nil
}

func (p *OpenAIProvider) buildRequest(messages []Message, opts Options) openAIChatRequest {
	request := openAIChatRequest{
		Model:    p.cfg.Model,
		Messages: toOpenAIMessages(messages),
		TopP:     opts.TopP,
		Stop:     opts.StopSequences,
		Stream:   opts.Stream,
	}

	maxTokens := effectiveMaxTokens(p.cfg, opts)
	if isReasoningModel(p.cfg.Model) {
		// o-series and gpt-5 models reject max_tokens and pin temperature.
		one := 1.0
		request.Temperature = &one
		if maxTokens > 0 {
			request.MaxCompletionTokens = &maxTokens
		}
	} else {
		temperature := effectiveTemperature(p.cfg, opts)
		request.Temperature = &temperature
		if maxTokens > 0 {
			request.MaxTokens = &maxTokens
		}
	}
	return request
}

func toOpenAIMessages(messages []Message) []openAIChatMessage {
	out := make([]openAIChatMessage, 0, len(messages))
	for _, m := range messages {
		msg := openAIChatMessage{Role: string(m.Role), Name: m.Name}
		if len(m.Images) == 0 {
			msg.Content = m.Content
			out = append(out, msg)
			continue
		}

		parts := make([]openAIContentPart, 0, len(m.Images)+1)
		if m.Content != "" {
			parts = append(parts, openAIContentPart{Type: "text", Text: m.Content})
		}
		for _, img := range m.Images {
			encoded := base64.StdEncoding.EncodeToString(img.Data)
			parts = append(parts, openAIContentPart{
				Type: "image_url",
				ImageURL: &openAIImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", imageMediaType(img), encoded),
				},
			})
		}
		msg.Content = parts
		out = append(out, msg)
	}
	return out
}

// isReasoningModel reports whether the model is an o-series or gpt-5 variant
// with the reasoning API surface.
func isReasoningModel(model string) bool {
	lower := strings.ToLower(model)
	for _, name := range []string{"o1", "o3", "o4", "gpt-5"} {
		if lower == name || strings.HasPrefix(lower, name+"-") {
			return true
		}
	}
	return false
}

func normalizeOpenAIFinish(reason string) string {
	switch reason {
	case "", "stop":
		return FinishStop
	case "length":
		return FinishLength
	case "content_filter":
		return FinishContentFilter
	default:
		return strings.ToLower(reason)
	}
}

func parseOpenAIErrorBody(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var parsed openAIErrorBody
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ""
	}
	return parsed.Error.Message
}
