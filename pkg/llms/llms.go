// Package llms provides a uniform chat-completion interface over multiple
// model providers.
//
// A conversation is an ordered list of Messages with roles system, user,
// assistant, and function. Each provider adapts that shape to its own wire
// format: OpenAI-compatible endpoints take the roles as-is, Anthropic lifts
// system text into the top-level system field, and Gemini maps it to a
// system instruction. Providers without a system channel get the system text
// prepended to the first user message.
//
// The Service facade owns the named providers from configuration, routes
// cheap prompts to the router provider, exposes vision completion for OCR,
// and delegates embedding calls to the embedding client.
package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/docbrain-ai/docbrain/pkg/config"
)

// ============================================================================
// TYPES
// ============================================================================

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role
	Content string

	// Name identifies the function that produced a function-role message.
	Name string

	// Images attach inline image data to a user turn for vision-capable
	// providers.
	Images []Image
}

// Image is inline image data. MediaType is detected from the bytes when
// empty.
type Image struct {
	Data      []byte
	MediaType string
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

// UserMessage builds a user-role message.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Options override the provider's configured generation parameters for one
// call. Zero values keep the configured defaults.
type Options struct {
	// Temperature overrides the configured sampling temperature.
	Temperature *float64

	// MaxTokens overrides the configured response length limit.
	MaxTokens int

	// TopP sets nucleus sampling when non-nil.
	TopP *float64

	// StopSequences stop generation when emitted.
	StopSequences []string

	// Stream asks the provider to use its streaming wire protocol and
	// assemble the completion from the chunks. Token usage may be absent
	// from streamed responses.
	Stream bool
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Canonical finish reasons. Providers report their own vocabulary; each
// adapter normalizes to these, passing unknown values through lowercased.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishStopSequence  = "stop_sequence"
	FinishContentFilter = "content_filter"
)

// Completion is the result of one chat completion.
type Completion struct {
	Content      string
	FinishReason string
	Model        string
	Usage        Usage

	// Raw carries the provider's response body for unary calls; streamed
	// completions leave it nil.
	Raw json.RawMessage
}

// Provider is a single configured model endpoint.
type Provider interface {
	// Complete runs one chat completion.
	Complete(ctx context.Context, messages []Message, opts Options) (*Completion, error)

	// ModelName reports the configured model.
	ModelName() string

	// SupportsVision reports whether image message parts are accepted.
	SupportsVision() bool

	// Close releases provider resources.
	Close() error
}

// ============================================================================
// ERRORS
// ============================================================================

// LLMError wraps a provider or transport failure. Deterministic misuse
// (unknown provider, missing key, image sent to a text-only provider) is
// reported as a plain error instead.
type LLMError struct {
	Provider string
	Op       string
	Err      error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm %s failed (%s): %v", e.Op, e.Provider, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }

// IsRetryable marks the error for job-queue retry.
func (e *LLMError) IsRetryable() bool { return true }

func newLLMError(provider, op string, err error) *LLMError {
	return &LLMError{Provider: provider, Op: op, Err: err}
}

// ============================================================================
// FACTORY
// ============================================================================

// New builds a provider from its configuration.
func New(cfg config.LLMProviderConfig) (Provider, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid llm provider config: %w", err)
	}

	switch cfg.Provider {
	case config.LLMProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case config.LLMProviderAnthropic:
		return NewAnthropicProvider(cfg)
	case config.LLMProviderGemini:
		return NewGeminiProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// ============================================================================
// MESSAGE ADAPTATION
// ============================================================================

// splitSystem pulls system messages out of the conversation and joins their
// text, for providers with a dedicated system channel.
func splitSystem(messages []Message) (system string, rest []Message) {
	var parts []string
	rest = make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if m.Content != "" {
				parts = append(parts, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(parts, "\n\n"), rest
}

// foldSystemIntoFirstUser prepends system text to the first user message,
// for providers without a system channel. Without a user turn to carry it,
// the system text leads the conversation as one.
func foldSystemIntoFirstUser(system string, messages []Message) []Message {
	if system == "" {
		return messages
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	for i := range out {
		if out[i].Role != RoleUser {
			continue
		}
		if out[i].Content == "" {
			out[i].Content = system
		} else {
			out[i].Content = system + "\n\n" + out[i].Content
		}
		return out
	}
	return append([]Message{{Role: RoleUser, Content: system}}, out...)
}

// messageText renders a message's text, labeling function results for
// providers without a function channel.
func messageText(m Message) string {
	if m.Role == RoleFunction && m.Name != "" {
		return fmt.Sprintf("Result of %s:\n%s", m.Name, m.Content)
	}
	return m.Content
}

// detectImageMediaType sniffs the MIME type from image bytes, defaulting to
// JPEG when the content is not recognizably an image.
func detectImageMediaType(data []byte) string {
	if len(data) > 0 {
		if detected := http.DetectContentType(data); strings.HasPrefix(detected, "image/") {
			return detected
		}
	}
	return "image/jpeg"
}

// imageMediaType resolves an image's MIME type, sniffing when unset.
func imageMediaType(img Image) string {
	if img.MediaType != "" {
		return img.MediaType
	}
	return detectImageMediaType(img.Data)
}

// effectiveTemperature resolves the per-call temperature against the
// provider configuration.
func effectiveTemperature(cfg config.LLMProviderConfig, opts Options) float64 {
	if opts.Temperature != nil {
		return *opts.Temperature
	}
	if cfg.Temperature != nil {
		return *cfg.Temperature
	}
	return 0.2
}

// effectiveMaxTokens resolves the per-call response limit against the
// provider configuration.
func effectiveMaxTokens(cfg config.LLMProviderConfig, opts Options) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return cfg.MaxTokens
}
