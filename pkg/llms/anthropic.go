package llms

import (
	"bufio"
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
// ANTHROPIC PROVIDER
// ============================================================================

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// AnthropicProvider calls the Anthropic Messages API. System messages are
// lifted into the top-level system field; function results become user
// turns. Image input is not supported through this provider.
type AnthropicProvider struct {
	client  *httpclient.Client
	cfg     config.LLMProviderConfig
	baseURL string
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      anthropicUsage  `json:"usage"`
	Error      *anthropicError `json:"error"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Model string         `json:"model"`
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage *anthropicUsage `json:"usage"`
	Error *anthropicError `json:"error"`
}

// NewAnthropicProvider builds a provider for the Anthropic Messages API.
func NewAnthropicProvider(cfg config.LLMProviderConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic provider requires an API key (set ANTHROPIC_API_KEY)")
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
	)

	return &AnthropicProvider{client: client, cfg: cfg, baseURL: baseURL}, nil
}

func (p *AnthropicProvider) ModelName() string    { return p.cfg.Model }
func (p *AnthropicProvider) SupportsVision() bool { return false }
func (p *AnthropicProvider) Close() error         { return nil }

func (p *AnthropicProvider) Complete(ctx context.Context, messages []Message, opts Options) (*Completion, error) {
	request, err := p.buildRequest(messages, opts)
	if err != nil {
		return nil, err
	}
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
		return nil, newLLMError("anthropic", "complete", fmt.Errorf("failed to read response: %w", err))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, newLLMError("anthropic", "complete", fmt.Errorf("failed to decode response: %w", err))
	}
	if parsed.Error != nil {
		return nil, newLLMError("anthropic", "complete",
			fmt.Errorf("%s: %s", parsed.Error.Type, parsed.Error.Message))
	}

	var content strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	model := parsed.Model
	if model == "" {
		model = p.cfg.Model
	}
	return &Completion{
		Content:      content.String(),
		FinishReason: normalizeAnthropicFinish(parsed.StopReason),
		Model:        model,
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
		Raw: json.RawMessage(body),
	}, nil
}

func (p *AnthropicProvider) completeStream(ctx context.Context, request anthropicRequest) (*Completion, error) {
	resp, err := p.send(ctx, request, "stream")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var content strings.Builder
	var usage Usage
	stopReason := ""
	model := p.cfg.Model

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			return nil, newLLMError("anthropic", "stream", fmt.Errorf("failed to decode stream event: %w", err))
		}

		switch event.Type {
		case "error":
			if event.Error != nil {
				return nil, newLLMError("anthropic", "stream",
					fmt.Errorf("%s: %s", event.Error.Type, event.Error.Message))
			}
		case "message_start":
			if event.Message != nil {
				if event.Message.Model != "" {
					model = event.Message.Model
				}
				usage.PromptTokens = event.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if event.Delta != nil {
				content.WriteString(event.Delta.Text)
			}
		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.CompletionTokens = event.Usage.OutputTokens
			}
		case "message_stop":
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, newLLMError("anthropic", "stream", fmt.Errorf("failed to read stream: %w", err))
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return &Completion{
		Content:      content.String(),
		FinishReason: normalizeAnthropicFinish(stopReason),
		Model:        model,
		Usage:        usage,
	}, nil
}

func (p *AnthropicProvider) send(ctx context.Context, request anthropicRequest, op string) (*http.Response, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if msg := parseAnthropicErrorBody(resp.Body); msg != "" {
				return nil, newLLMError("anthropic", op, fmt.Errorf("%s: %w", msg, err))
			}
		}
		return nil, newLLMError("anthropic", op, err)
	}
	return resp, nil
}

func (p *AnthropicProvider) buildRequest(messages []Message, opts Options) (anthropicRequest, error) {
	system, turns, err := toAnthropicMessages(messages)
	if err != nil {
		return anthropicRequest{}, err
	}

	temperature := effectiveTemperature(p.cfg, opts)
	return anthropicRequest{
		Model:         p.cfg.Model,
		Messages:      turns,
		MaxTokens:     effectiveMaxTokens(p.cfg, opts),
		System:        system,
		Temperature:   &temperature,
		TopP:          opts.TopP,
		StopSequences: opts.StopSequences,
		Stream:        opts.Stream,
	}, nil
}

// toAnthropicMessages lifts system text out of the turn list and folds
// function results into user turns. The API requires alternating roles, so
// consecutive turns of the same role are merged.
func toAnthropicMessages(messages []Message) (string, []anthropicMessage, error) {
	system, rest := splitSystem(messages)

	turns := make([]anthropicMessage, 0, len(rest))
	for _, m := range rest {
		if len(m.Images) > 0 {
			return "", nil, fmt.Errorf("image input is not supported by the anthropic provider")
		}
		role := "user"
		if m.Role == RoleAssistant {
			role = "assistant"
		}
		content := messageText(m)

		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content += "\n\n" + content
			continue
		}
		turns = append(turns, anthropicMessage{Role: role, Content: content})
	}
	return system, turns, nil
}

func normalizeAnthropicFinish(reason string) string {
	switch reason {
	case "", "end_turn":
		return FinishStop
	case "max_tokens":
		return FinishLength
	case "stop_sequence":
		return FinishStopSequence
	default:
		return strings.ToLower(reason)
	}
}

func parseAnthropicErrorBody(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var parsed struct {
		Error *anthropicError `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil || parsed.Error == nil {
		return ""
	}
	return parsed.Error.Message
}
