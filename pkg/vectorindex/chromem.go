package vectorindex

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/docbrain-ai/docbrain/pkg/config"
)

// ============================================================================
// CHROMEM PROVIDER
// ============================================================================

// ChromemProvider stores vectors in-process with chromem-go. No
// external service, optional directory persistence; the default for
// development, tests, and single-node deployments.
//
// chromem filters on string equality only, so any-of predicates are
// expanded into one query per value and merged by best score.
type ChromemProvider struct {
	db   *chromem.DB
	path string

	mu          sync.RWMutex
	collections map[string]*chromem.Collection

	embeddingFunc chromem.EmbeddingFunc
}

// NewChromemProvider opens (or creates) the store at cfg.Path. An empty
// path keeps everything in memory.
func NewChromemProvider(cfg config.ChromemConfig) (*ChromemProvider, error) {
	var db *chromem.DB
	var err error

	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector store at %s: %w", cfg.Path, err)
		}
	} else {
		db = chromem.NewDB()
	}

	// Vectors are computed by the embedder before they get here; the
	// collection-level embedding function must never run.
	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors are pre-computed")
	}

	return &ChromemProvider{
		db:            db,
		path:          cfg.Path,
		collections:   make(map[string]*chromem.Collection),
		embeddingFunc: identityEmbed,
	}, nil
}

func (p *ChromemProvider) getCollection(name string) (*chromem.Collection, error) {
	p.mu.RLock()
	if col, ok := p.collections[name]; ok {
		p.mu.RUnlock()
		return col, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if col, ok := p.collections[name]; ok {
		return col, nil
	}

	col, err := p.db.GetOrCreateCollection(name, nil, p.embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", name, err)
	}

	p.collections[name] = col
	return col, nil
}

func (p *ChromemProvider) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	col, err := p.getCollection(namespace)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, record := range records {
		docs[i] = chromem.Document{
			ID:        record.ID,
			Content:   record.Metadata["content"],
			Metadata:  record.Metadata,
			Embedding: record.Vector,
		}
	}

	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert documents: %w", err)
	}
	return nil
}

func (p *ChromemProvider) Query(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error) {
	col, err := p.getCollection(namespace)
	if err != nil {
		return nil, err
	}

	wheres, err := expandFilter(filter)
	if err != nil {
		return nil, err
	}

	// Any-of predicates become one equality query per expansion; the
	// best score per id wins.
	best := make(map[string]Match)
	for _, where := range wheres {
		count := col.Count()
		if count == 0 {
			continue
		}
		n := topK
		if n > count {
			n = count
		}

		var whereArg map[string]string
		if len(where) > 0 {
			whereArg = where
		}

		results, err := col.QueryEmbedding(ctx, vector, n, whereArg, nil)
		if err != nil {
			return nil, fmt.Errorf("search failed: %w", err)
		}

		for _, r := range results {
			if prev, ok := best[r.ID]; ok && prev.Score >= r.Similarity {
				continue
			}
			metadata := make(map[string]string, len(r.Metadata))
			for k, v := range r.Metadata {
				metadata[k] = v
			}
			best[r.ID] = Match{
				ID:       r.ID,
				Score:    r.Similarity,
				Content:  r.Content,
				Metadata: metadata,
			}
		}
	}

	matches := make([]Match, 0, len(best))
	for _, m := range best {
		matches = append(matches, m)
	}
	sortByScore(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (p *ChromemProvider) DeleteByIDs(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	col, err := p.getCollection(namespace)
	if err != nil {
		return err
	}

	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

func (p *ChromemProvider) DeleteByFilter(ctx context.Context, namespace string, filter Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("filter cannot be empty")
	}

	col, err := p.getCollection(namespace)
	if err != nil {
		return err
	}

	wheres, err := expandFilter(filter)
	if err != nil {
		return err
	}

	for _, where := range wheres {
		if col.Count() == 0 {
			return nil
		}
		if err := col.Delete(ctx, where, nil); err != nil {
			return fmt.Errorf("failed to delete by filter: %w", err)
		}
	}
	return nil
}

func (p *ChromemProvider) Name() string {
	return "chromem"
}

// Close is a no-op: the persistent store writes through on every
// mutation.
func (p *ChromemProvider) Close() error {
	return nil
}

var _ Provider = (*ChromemProvider)(nil)
