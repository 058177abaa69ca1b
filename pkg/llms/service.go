package llms

import (
	"context"
	"fmt"
	"strings"

	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/embedders"
	"github.com/docbrain-ai/docbrain/pkg/registry"
)

// ============================================================================
// SERVICE
// ============================================================================

// Service owns the named providers from configuration and fronts them with
// role-based accessors: the default provider answers, the router provider
// handles cheap classification prompts, and the first vision-capable
// provider serves OCR. Embedding calls delegate to the embedding client so
// pipeline code needs only one dependency.
type Service struct {
	cfg       config.LLMConfig
	providers *registry.BaseRegistry[Provider]
	embedder  embedders.Embedder
}

// NewService builds every configured provider. A provider that fails to
// construct fails the whole service; a missing embedder only disables the
// Embed calls.
func NewService(cfg config.LLMConfig, embedder embedders.Embedder) (*Service, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid llm config: %w", err)
	}

	providers := registry.NewBaseRegistry[Provider]()
	for name, providerCfg := range cfg.Providers {
		provider, err := New(*providerCfg)
		if err != nil {
			return nil, fmt.Errorf("llm provider %q: %w", name, err)
		}
		if err := providers.Register(name, provider); err != nil {
			return nil, err
		}
	}

	return &Service{cfg: cfg, providers: providers, embedder: embedder}, nil
}

// Provider returns a named provider.
func (s *Service) Provider(name string) (Provider, error) {
	provider, ok := s.providers.Get(name)
	if !ok {
		return nil, fmt.Errorf("llm provider %q not found", name)
	}
	return provider, nil
}

// Default returns the default provider. Config validation guarantees it
// exists.
func (s *Service) Default() Provider {
	provider, _ := s.providers.Get(s.cfg.Default)
	return provider
}

// Router returns the provider for routing and classification prompts,
// falling back to the default.
func (s *Service) Router() Provider {
	if s.cfg.Router != "" {
		if provider, ok := s.providers.Get(s.cfg.Router); ok {
			return provider
		}
	}
	return s.Default()
}

// Complete runs a chat completion on the default provider.
func (s *Service) Complete(ctx context.Context, messages []Message, opts Options) (*Completion, error) {
	return s.Default().Complete(ctx, messages, opts)
}

// RouterComplete runs a chat completion on the router provider.
func (s *Service) RouterComplete(ctx context.Context, messages []Message, opts Options) (*Completion, error) {
	return s.Router().Complete(ctx, messages, opts)
}

// CompleteText is the single-prompt convenience: one optional system
// message, one user message, trimmed text back.
func (s *Service) CompleteText(ctx context.Context, system, user string) (string, error) {
	return completeText(ctx, s.Default(), system, user)
}

// RouterCompleteText runs CompleteText on the router provider.
func (s *Service) RouterCompleteText(ctx context.Context, system, user string) (string, error) {
	return completeText(ctx, s.Router(), system, user)
}

func completeText(ctx context.Context, provider Provider, system, user string) (string, error) {
	messages := make([]Message, 0, 2)
	if system != "" {
		messages = append(messages, SystemMessage(system))
	}
	messages = append(messages, UserMessage(user))

	completion, err := provider.Complete(ctx, messages, Options{})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(completion.Content), nil
}

// CompleteVision sends one prompt and one image to the first vision-capable
// provider, preferring the default.
func (s *Service) CompleteVision(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	provider := s.visionProvider()
	if provider == nil {
		return "", fmt.Errorf("no vision-capable llm provider configured")
	}

	message := Message{
		Role:    RoleUser,
		Content: prompt,
		Images:  []Image{{Data: image, MediaType: mimeType}},
	}
	completion, err := provider.Complete(ctx, []Message{message}, Options{})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(completion.Content), nil
}

func (s *Service) visionProvider() Provider {
	if provider := s.Default(); provider != nil && provider.SupportsVision() {
		return provider
	}
	for _, name := range s.providers.Names() {
		if provider, ok := s.providers.Get(name); ok && provider.SupportsVision() {
			return provider
		}
	}
	return nil
}

// Embed delegates to the embedding client.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	return s.embedder.Embed(ctx, text)
}

// EmbedBatch delegates to the embedding client.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	return s.embedder.EmbedBatch(ctx, texts)
}

// Close closes every provider, returning the first error.
func (s *Service) Close() error {
	var firstErr error
	for _, provider := range s.providers.List() {
		if err := provider.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
