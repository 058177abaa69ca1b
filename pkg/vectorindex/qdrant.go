package vectorindex

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/docbrain-ai/docbrain/pkg/config"
)

// ============================================================================
// QDRANT PROVIDER
// ============================================================================

// QdrantProvider talks to a Qdrant server over gRPC. Each namespace
// maps to one collection, created on first write with cosine distance.
//
// Qdrant point ids must be UUIDs or integers, but record ids here are
// arbitrary strings. Every record id is mapped to a deterministic UUID
// and the original id is kept in the payload under idPayloadKey.
type QdrantProvider struct {
	client    *qdrant.Client
	dimension uint64

	mu      sync.Mutex
	created map[string]bool
}

// idPayloadKey stores the caller's record id inside the point payload.
const idPayloadKey = "_id"

// NewQdrantProvider connects to the configured Qdrant server. The
// client does not dial until the first operation.
func NewQdrantProvider(cfg config.QdrantConfig, dimension int) (*QdrantProvider, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return &QdrantProvider{
		client:    client,
		dimension: uint64(dimension),
		created:   make(map[string]bool),
	}, nil
}

func qdrantPointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (p *QdrantProvider) ensureCollection(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.created[name] {
		return nil
	}

	exists, err := p.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check if collection exists: %w", err)
	}

	if !exists {
		err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     p.dimension,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		// Concurrent workers may race the creation.
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}

	p.created[name] = true
	return nil
}

func (p *QdrantProvider) collectionExists(ctx context.Context, name string) (bool, error) {
	p.mu.Lock()
	if p.created[name] {
		p.mu.Unlock()
		return true, nil
	}
	p.mu.Unlock()

	exists, err := p.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to check if collection exists: %w", err)
	}
	return exists, nil
}

func (p *QdrantProvider) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := p.ensureCollection(ctx, namespace); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, record := range records {
		payload := make(map[string]*qdrant.Value, len(record.Metadata)+1)
		for key, value := range record.Metadata {
			val, err := qdrant.NewValue(value)
			if err != nil {
				return fmt.Errorf("failed to convert metadata value for key %s: %w", key, err)
			}
			payload[key] = val
		}
		idVal, err := qdrant.NewValue(record.ID)
		if err != nil {
			return fmt.Errorf("failed to convert record id: %w", err)
		}
		payload[idPayloadKey] = idVal

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(qdrantPointID(record.ID)),
			Vectors: qdrant.NewVectors(record.Vector...),
			Payload: payload,
		}
	}

	_, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: namespace,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (p *QdrantProvider) Query(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error) {
	exists, err := p.collectionExists(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	searchRequest := &qdrant.SearchPoints{
		CollectionName: namespace,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	if len(filter) > 0 {
		qf, err := buildQdrantFilter(filter)
		if err != nil {
			return nil, err
		}
		searchRequest.Filter = qf
	}

	searchResult, err := p.client.GetPointsClient().Search(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	matches := make([]Match, 0, len(searchResult.Result))
	for _, point := range searchResult.Result {
		metadata := make(map[string]string, len(point.Payload))
		id := ""
		for key, value := range point.Payload {
			if key == idPayloadKey {
				id = value.GetStringValue()
				continue
			}
			metadata[key] = value.GetStringValue()
		}
		if id == "" {
			id = pointIDString(point.Id)
		}

		matches = append(matches, Match{
			ID:       id,
			Score:    point.Score,
			Content:  metadata["content"],
			Metadata: metadata,
		})
	}
	return matches, nil
}

func buildQdrantFilter(filter Filter) (*qdrant.Filter, error) {
	eq, in, err := filterParts(filter)
	if err != nil {
		return nil, err
	}

	conditions := make([]*qdrant.Condition, 0, len(eq)+len(in))
	for key, value := range eq {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: value},
					},
				},
			},
		})
	}
	for key, values := range in {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: values},
						},
					},
				},
			},
		})
	}

	return &qdrant.Filter{Must: conditions}, nil
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil || id.PointIdOptions == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	}
	return ""
}

func (p *QdrantProvider) DeleteByIDs(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	exists, err := p.collectionExists(ctx, namespace)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &qdrant.PointId{
			PointIdOptions: &qdrant.PointId_Uuid{Uuid: qdrantPointID(id)},
		}
	}

	_, err = p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: namespace,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

func (p *QdrantProvider) DeleteByFilter(ctx context.Context, namespace string, filter Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("filter cannot be empty")
	}
	exists, err := p.collectionExists(ctx, namespace)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	qf, err := buildQdrantFilter(filter)
	if err != nil {
		return err
	}

	_, err = p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: namespace,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: qf},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points by filter: %w", err)
	}
	return nil
}

func (p *QdrantProvider) Name() string {
	return "qdrant"
}

func (p *QdrantProvider) Close() error {
	return p.client.Close()
}

var _ Provider = (*QdrantProvider)(nil)
