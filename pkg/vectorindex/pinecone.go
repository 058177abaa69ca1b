package vectorindex

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/docbrain-ai/docbrain/pkg/config"
)

// ============================================================================
// PINECONE PROVIDER
// ============================================================================

// PineconeProvider uses a single Pinecone serverless index with native
// namespaces. The index is created on first use when it does not exist.
//
// Serverless and starter tiers reject deletion by metadata filter; that
// error surfaces as ErrFilterDeleteUnsupported so the Index wrapper can
// take the query-then-delete path.
type PineconeProvider struct {
	client    *pinecone.Client
	cfg       config.PineconeConfig
	dimension int32

	mu    sync.Mutex
	host  string
	conns map[string]*pinecone.IndexConnection
}

// NewPineconeProvider creates the provider. The index host is resolved
// lazily so construction never touches the network.
func NewPineconeProvider(cfg config.PineconeConfig, dimension int) (*PineconeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pinecone api key is required")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	return &PineconeProvider{
		client:    client,
		cfg:       cfg,
		dimension: int32(dimension),
		conns:     make(map[string]*pinecone.IndexConnection),
	}, nil
}

// resolveHost finds the index host, creating the index when missing.
// Callers hold p.mu.
func (p *PineconeProvider) resolveHost(ctx context.Context) (string, error) {
	if p.host != "" {
		return p.host, nil
	}
	if p.cfg.IndexHost != "" {
		p.host = p.cfg.IndexHost
		return p.host, nil
	}

	index, err := p.client.DescribeIndex(ctx, p.cfg.IndexName)
	if err != nil {
		_, createErr := p.client.CreateServerlessIndex(ctx, &pinecone.CreateServerlessIndexRequest{
			Name:      p.cfg.IndexName,
			Dimension: p.dimension,
			Metric:    pinecone.Cosine,
			Cloud:     pinecone.Cloud(p.cfg.Cloud),
			Region:    p.cfg.Region,
		})
		if createErr != nil && !strings.Contains(createErr.Error(), "already exists") {
			return "", fmt.Errorf("failed to create index %s: %w", p.cfg.IndexName, createErr)
		}

		index, err = p.client.DescribeIndex(ctx, p.cfg.IndexName)
		if err != nil {
			return "", fmt.Errorf("failed to describe index %s: %w", p.cfg.IndexName, err)
		}
	}

	p.host = index.Host
	return p.host, nil
}

func (p *PineconeProvider) connection(ctx context.Context, namespace string) (*pinecone.IndexConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[namespace]; ok {
		return conn, nil
	}

	host, err := p.resolveHost(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := p.client.Index(pinecone.NewIndexConnParams{
		Host:      host,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index connection: %w", err)
	}

	p.conns[namespace] = conn
	return conn, nil
}

func (p *PineconeProvider) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	conn, err := p.connection(ctx, namespace)
	if err != nil {
		return err
	}

	vectors := make([]*pinecone.Vector, len(records))
	for i, record := range records {
		var metadata *pinecone.Metadata
		if len(record.Metadata) > 0 {
			values := make(map[string]any, len(record.Metadata))
			for k, v := range record.Metadata {
				values[k] = v
			}
			metadata, err = structpb.NewStruct(values)
			if err != nil {
				return fmt.Errorf("failed to convert metadata: %w", err)
			}
		}

		vectors[i] = &pinecone.Vector{
			Id:       record.ID,
			Values:   record.Vector,
			Metadata: metadata,
		}
	}

	if _, err := conn.UpsertVectors(ctx, vectors); err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}
	return nil
}

func (p *PineconeProvider) Query(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error) {
	conn, err := p.connection(ctx, namespace)
	if err != nil {
		return nil, err
	}

	metadataFilter, err := pineconeFilter(filter)
	if err != nil {
		return nil, err
	}

	response, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  metadataFilter,
		IncludeMetadata: true,
		IncludeValues:   false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}

	matches := make([]Match, 0, len(response.Matches))
	for _, scored := range response.Matches {
		if scored.Vector == nil {
			continue
		}

		metadata := make(map[string]string)
		if scored.Vector.Metadata != nil {
			for k, v := range scored.Vector.Metadata.AsMap() {
				if s, ok := v.(string); ok {
					metadata[k] = s
				} else {
					metadata[k] = fmt.Sprint(v)
				}
			}
		}

		matches = append(matches, Match{
			ID:       scored.Vector.Id,
			Score:    scored.Score,
			Content:  metadata["content"],
			Metadata: metadata,
		})
	}
	return matches, nil
}

// pineconeFilter renders the conjunction in Pinecone's filter language:
// multiple top-level keys AND together implicitly.
func pineconeFilter(filter Filter) (*pinecone.MetadataFilter, error) {
	if len(filter) == 0 {
		return nil, nil
	}

	eq, in, err := filterParts(filter)
	if err != nil {
		return nil, err
	}

	clauses := make(map[string]any, len(eq)+len(in))
	for key, value := range eq {
		clauses[key] = map[string]any{"$eq": value}
	}
	for key, values := range in {
		list := make([]any, len(values))
		for i, v := range values {
			list[i] = v
		}
		clauses[key] = map[string]any{"$in": list}
	}

	metadataFilter, err := structpb.NewStruct(clauses)
	if err != nil {
		return nil, fmt.Errorf("failed to convert filter: %w", err)
	}
	return metadataFilter, nil
}

func (p *PineconeProvider) DeleteByIDs(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	conn, err := p.connection(ctx, namespace)
	if err != nil {
		return err
	}

	if err := conn.DeleteVectorsById(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}

func (p *PineconeProvider) DeleteByFilter(ctx context.Context, namespace string, filter Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("filter cannot be empty")
	}

	conn, err := p.connection(ctx, namespace)
	if err != nil {
		return err
	}

	metadataFilter, err := pineconeFilter(filter)
	if err != nil {
		return err
	}

	if err := conn.DeleteVectorsByFilter(ctx, metadataFilter); err != nil {
		if isFilterDeleteRejected(err) {
			return fmt.Errorf("%w: %v", ErrFilterDeleteUnsupported, err)
		}
		return fmt.Errorf("failed to delete by filter: %w", err)
	}
	return nil
}

// isFilterDeleteRejected recognizes the serverless/starter tier error
// ("Serverless and Starter indexes do not support deleting with
// metadata filtering").
func isFilterDeleteRejected(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not support deleting with metadata") ||
		strings.Contains(msg, "metadata filtering is not supported")
}

func (p *PineconeProvider) Name() string {
	return "pinecone"
}

func (p *PineconeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for namespace, conn := range p.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close connection for namespace %s: %w", namespace, err)
		}
		delete(p.conns, namespace)
	}
	return firstErr
}

var _ Provider = (*PineconeProvider)(nil)
