package vectorindex

import (
	"context"
	"fmt"

	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/registry"
)

// ============================================================================
// FACTORY
// ============================================================================

// NewProvider builds the backend selected by the configuration.
func NewProvider(cfg config.VectorStoreConfig, dimension int) (Provider, error) {
	switch cfg.Provider {
	case config.VectorChromem:
		chromemCfg := config.ChromemConfig{}
		if cfg.Chromem != nil {
			chromemCfg = *cfg.Chromem
		}
		return NewChromemProvider(chromemCfg)

	case config.VectorQdrant:
		if cfg.Qdrant == nil {
			return nil, fmt.Errorf("qdrant configuration is required")
		}
		return NewQdrantProvider(*cfg.Qdrant, dimension)

	case config.VectorPinecone:
		if cfg.Pinecone == nil {
			return nil, fmt.Errorf("pinecone configuration is required")
		}
		return NewPineconeProvider(*cfg.Pinecone, dimension)

	case config.VectorNone:
		return NilProvider{}, nil

	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", cfg.Provider)
	}
}

// New builds the Index for the configured backend.
func New(cfg config.VectorStoreConfig, dimension int) (*Index, error) {
	provider, err := NewProvider(cfg, dimension)
	if err != nil {
		return nil, err
	}
	return NewIndex(provider, dimension)
}

// ============================================================================
// REGISTRY
// ============================================================================

// Registry holds named providers for deployments that wire more than
// one store (for example a scratch store next to the primary).
type Registry struct {
	*registry.BaseRegistry[Provider]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

func (r *Registry) RegisterStore(name string, provider Provider) error {
	if provider == nil {
		return fmt.Errorf("vector store provider cannot be nil")
	}
	return r.Register(name, provider)
}

func (r *Registry) GetStore(name string) (Provider, error) {
	provider, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("vector store %q not found", name)
	}
	return provider, nil
}

// ============================================================================
// NIL PROVIDER
// ============================================================================

// NilProvider discards writes and matches nothing. It backs the "none"
// configuration so extraction-only deployments run without a store.
type NilProvider struct{}

func (NilProvider) Upsert(ctx context.Context, namespace string, records []Record) error {
	return nil
}

func (NilProvider) Query(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error) {
	return nil, nil
}

func (NilProvider) DeleteByIDs(ctx context.Context, namespace string, ids []string) error {
	return nil
}

func (NilProvider) DeleteByFilter(ctx context.Context, namespace string, filter Filter) error {
	return nil
}

func (NilProvider) Name() string {
	return "none"
}

func (NilProvider) Close() error {
	return nil
}

var _ Provider = NilProvider{}
