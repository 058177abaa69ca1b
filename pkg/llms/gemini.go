package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/docbrain-ai/docbrain/pkg/config"
)

// ============================================================================
// GEMINI PROVIDER
// ============================================================================

// GeminiProvider completes through the Gemini API using the official SDK.
// System text becomes a system instruction, except for Gemma models, which
// reject system instructions and get the text folded into the first user
// turn instead.
type GeminiProvider struct {
	client *genai.Client
	cfg    config.LLMProviderConfig
}

// NewGeminiProvider builds a provider over the Gemini SDK.
func NewGeminiProvider(cfg config.LLMProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini provider requires an API key (set GEMINI_API_KEY)")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{client: client, cfg: cfg}, nil
}

func (p *GeminiProvider) ModelName() string    { return p.cfg.Model }
func (p *GeminiProvider) SupportsVision() bool { return true }
func (p *GeminiProvider) Close() error         { return nil }

func (p *GeminiProvider) Complete(ctx context.Context, messages []Message, opts Options) (*Completion, error) {
	system, rest := splitSystem(messages)
	if isGemmaModel(p.cfg.Model) {
		rest = foldSystemIntoFirstUser(system, rest)
		system = ""
	}

	contents := toGeminiContents(rest)
	if len(contents) == 0 {
		return nil, fmt.Errorf("no messages to complete")
	}
	genConfig := p.buildConfig(system, opts)

	if opts.Stream {
		return p.completeStream(ctx, contents, genConfig)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.cfg.Model, contents, genConfig)
	if err != nil {
		return nil, newLLMError("gemini", "complete", err)
	}

	completion, err := p.parseResponse(resp)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(resp); err == nil {
		completion.Raw = raw
	}
	return completion, nil
}

func (p *GeminiProvider) completeStream(ctx context.Context, contents []*genai.Content, genConfig *genai.GenerateContentConfig) (*Completion, error) {
	var content strings.Builder
	var usage Usage
	finish := FinishStop
	model := p.cfg.Model

	for chunk, err := range p.client.Models.GenerateContentStream(ctx, p.cfg.Model, contents, genConfig) {
		if err != nil {
			return nil, newLLMError("gemini", "stream", err)
		}
		if chunk.ModelVersion != "" {
			model = chunk.ModelVersion
		}
		// The final chunk carries cumulative usage.
		if chunk.UsageMetadata != nil {
			usage = Usage{
				PromptTokens:     int(chunk.UsageMetadata.PromptTokenCount),
				CompletionTokens: int(chunk.UsageMetadata.CandidatesTokenCount),
				TotalTokens:      int(chunk.UsageMetadata.TotalTokenCount),
			}
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		candidate := chunk.Candidates[0]
		if candidate.FinishReason != "" {
			finish = normalizeGeminiFinish(candidate.FinishReason)
		}
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				content.WriteString(part.Text)
			}
		}
	}

	return &Completion{
		Content:      content.String(),
		FinishReason: finish,
		Model:        model,
		Usage:        usage,
	}, nil
}

func (p *GeminiProvider) buildConfig(system string, opts Options) *genai.GenerateContentConfig {
	genConfig := &genai.GenerateContentConfig{}
	if system != "" {
		genConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	temperature := effectiveTemperature(p.cfg, opts)
	genConfig.Temperature = genai.Ptr(float32(temperature))
	if maxTokens := effectiveMaxTokens(p.cfg, opts); maxTokens > 0 {
		genConfig.MaxOutputTokens = int32(maxTokens)
	}
	if opts.TopP != nil {
		genConfig.TopP = genai.Ptr(float32(*opts.TopP))
	}
	if len(opts.StopSequences) > 0 {
		genConfig.StopSequences = opts.StopSequences
	}
	return genConfig
}

func (p *GeminiProvider) parseResponse(resp *genai.GenerateContentResponse) (*Completion, error) {
	if len(resp.Candidates) == 0 {
		return nil, newLLMError("gemini", "complete", fmt.Errorf("no candidates in response"))
	}

	candidate := resp.Candidates[0]
	var content strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			content.WriteString(part.Text)
		}
	}

	model := resp.ModelVersion
	if model == "" {
		model = p.cfg.Model
	}
	completion := &Completion{
		Content:      content.String(),
		FinishReason: normalizeGeminiFinish(candidate.FinishReason),
		Model:        model,
	}
	if resp.UsageMetadata != nil {
		completion.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return completion, nil
}

// toGeminiContents maps messages to Gemini contents. Roles collapse to
// user/model; function results are labeled user text.
func toGeminiContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}

		var parts []*genai.Part
		if text := messageText(m); text != "" {
			parts = append(parts, &genai.Part{Text: text})
		}
		for _, img := range m.Images {
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{
					MIMEType: imageMediaType(img),
					Data:     img.Data,
				},
			})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func isGemmaModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(model), "gemma")
}

func normalizeGeminiFinish(reason genai.FinishReason) string {
	switch reason {
	case "", genai.FinishReasonStop:
		return FinishStop
	case genai.FinishReasonMaxTokens:
		return FinishLength
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent:
		return FinishContentFilter
	default:
		return strings.ToLower(string(reason))
	}
}
