package embedders

import (
	"context"
	"fmt"
	"math"

	"google.golang.org/genai"

	"github.com/docbrain-ai/docbrain/pkg/config"
)

// ============================================================================
// GEMINI EMBEDDER
// ============================================================================

// GeminiEmbedder produces vectors through the Gemini API using the
// official SDK. The SDK retries transient failures internally.
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	dimension int
	batchSize int
}

// NewGeminiEmbedder creates a Gemini embedder. The constructor does not
// take a context; the SDK only needs one for initialization.
func NewGeminiEmbedder(cfg config.EmbedderConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini embedder requires an API key (set GEMINI_API_KEY)")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiEmbedder{
		client:    client,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
	}, nil
}

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (g *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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
	for start := 0; start < len(normalized); start += g.batchSize {
		end := start + g.batchSize
		if end > len(normalized) {
			end = len(normalized)
		}

		batch, err := g.embedRequest(ctx, normalized[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

func (g *GeminiEmbedder) embedRequest(ctx context.Context, input []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(input))
	for i, text := range input {
		contents[i] = &genai.Content{
			Parts: []*genai.Part{{Text: text}},
		}
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(int32(g.dimension)),
	})
	if err != nil {
		return nil, newEmbeddingError("gemini", g.model, err)
	}

	if len(resp.Embeddings) != len(input) {
		return nil, newEmbeddingError("gemini", g.model,
			fmt.Errorf("got %d embeddings for %d inputs", len(resp.Embeddings), len(input)))
	}

	vectors := make([][]float32, len(input))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, newEmbeddingError("gemini", g.model,
				fmt.Errorf("empty embedding at index %d", i))
		}
		if len(emb.Values) != g.dimension {
			return nil, fmt.Errorf("model %s returned %d-dimension vector, expected %d (check embedder.dimension)",
				g.model, len(emb.Values), g.dimension)
		}
		// Vectors shortened below the model's native size come back
		// unnormalized; cosine search assumes unit length.
		vectors[i] = unitNorm(emb.Values)
	}

	return vectors, nil
}

func (g *GeminiEmbedder) Dimension() int {
	return g.dimension
}

func (g *GeminiEmbedder) ModelName() string {
	return g.model
}

func (g *GeminiEmbedder) Close() error {
	return nil
}

func unitNorm(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
