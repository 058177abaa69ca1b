package embedders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbrain-ai/docbrain/pkg/config"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"already clean", "hello world", "hello world"},
		{"collapses runs", "hello   world", "hello world"},
		{"trims edges", "  hello world  ", "hello world"},
		{"newlines and tabs", "hello\n\tworld\r\n", "hello world"},
		{"empty", "", ""},
		{"only whitespace", "  \n\t ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeText(tt.input))
		})
	}
}

// ============================================================================
// OPENAI EMBEDDER
// ============================================================================

type recordedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions"`
	AuthHeader string   `json:"-"`
}

// fakeOpenAIServer answers /embeddings with deterministic vectors and
// records every request it sees.
type fakeOpenAIServer struct {
	mu        sync.Mutex
	requests  []recordedRequest
	dimension int
	server    *httptest.Server

	// respond overrides the default success handler when set.
	respond func(w http.ResponseWriter, req recordedRequest)
}

func newFakeOpenAIServer(t *testing.T, dimension int) *fakeOpenAIServer {
	t.Helper()

	f := &fakeOpenAIServer{dimension: dimension}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/embeddings", r.URL.Path)

		var req recordedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		req.AuthHeader = r.Header.Get("Authorization")

		f.mu.Lock()
		f.requests = append(f.requests, req)
		respond := f.respond
		f.mu.Unlock()

		if respond != nil {
			respond(w, req)
			return
		}

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			vec := make([]float32, dimension)
			for d := range vec {
				vec[d] = float32(i + 1)
			}
			data[i] = map[string]any{"object": "embedding", "embedding": vec, "index": i}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(f.server.Close)

	return f
}

func (f *fakeOpenAIServer) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newTestOpenAIEmbedder(t *testing.T, f *fakeOpenAIServer, batchSize int) *OpenAIEmbedder {
	t.Helper()

	e, err := NewOpenAIEmbedder(config.EmbedderConfig{
		Provider:   config.EmbedderOpenAI,
		Model:      "text-embedding-3-small",
		APIKey:     "test-key",
		BaseURL:    f.server.URL,
		Dimension:  f.dimension,
		BatchSize:  batchSize,
		Timeout:    5 * time.Second,
		MaxRetries: 0,
	})
	require.NoError(t, err)
	return e
}

func TestOpenAIEmbed(t *testing.T) {
	f := newFakeOpenAIServer(t, 3)
	e := newTestOpenAIEmbedder(t, f, 100)

	vec, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 1}, vec)

	reqs := f.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "text-embedding-3-small", reqs[0].Model)
	assert.Equal(t, []string{"hello world"}, reqs[0].Input)
	assert.Equal(t, 3, reqs[0].Dimensions)
	assert.Equal(t, "Bearer test-key", reqs[0].AuthHeader)
}

func TestOpenAIEmbedNormalizesWhitespace(t *testing.T) {
	f := newFakeOpenAIServer(t, 3)
	e := newTestOpenAIEmbedder(t, f, 100)

	_, err := e.Embed(context.Background(), "  hello \n\n  world\t")
	require.NoError(t, err)

	reqs := f.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, []string{"hello world"}, reqs[0].Input)
}

func TestOpenAIEmbedBatchSplitsRequests(t *testing.T) {
	f := newFakeOpenAIServer(t, 3)
	e := newTestOpenAIEmbedder(t, f, 2)

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	require.Len(t, vectors, 5)

	reqs := f.recorded()
	require.Len(t, reqs, 3)
	assert.Equal(t, []string{"a", "b"}, reqs[0].Input)
	assert.Equal(t, []string{"c", "d"}, reqs[1].Input)
	assert.Equal(t, []string{"e"}, reqs[2].Input)

	// First item of each request gets the all-ones vector.
	assert.Equal(t, []float32{1, 1, 1}, vectors[0])
	assert.Equal(t, []float32{2, 2, 2}, vectors[1])
	assert.Equal(t, []float32{1, 1, 1}, vectors[2])
	assert.Equal(t, []float32{1, 1, 1}, vectors[4])
}

func TestOpenAIEmbedBatchEmptyInput(t *testing.T) {
	f := newFakeOpenAIServer(t, 3)
	e := newTestOpenAIEmbedder(t, f, 100)

	vectors, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.Empty(t, f.recorded())
}

func TestOpenAIEmbedRejectsEmptyText(t *testing.T) {
	f := newFakeOpenAIServer(t, 3)
	e := newTestOpenAIEmbedder(t, f, 100)

	_, err := e.EmbedBatch(context.Background(), []string{"fine", "   \n "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty text")
	assert.Contains(t, err.Error(), "input 1")
	assert.Empty(t, f.recorded())
}

func TestOpenAIEmbedRestoresIndexOrder(t *testing.T) {
	f := newFakeOpenAIServer(t, 2)
	f.respond = func(w http.ResponseWriter, req recordedRequest) {
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"object": "embedding", "embedding": []float32{2, 2}, "index": 1},
				{"object": "embedding", "embedding": []float32{1, 1}, "index": 0},
			},
			"model": req.Model,
		})
	}
	e := newTestOpenAIEmbedder(t, f, 100)

	vectors, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, vectors[0])
	assert.Equal(t, []float32{2, 2}, vectors[1])
}

func TestOpenAIEmbedAPIError(t *testing.T) {
	f := newFakeOpenAIServer(t, 3)
	f.respond = func(w http.ResponseWriter, req recordedRequest) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": "input exceeds the maximum length",
				"type":    "invalid_request_error",
			},
		})
	}
	e := newTestOpenAIEmbedder(t, f, 100)

	_, err := e.Embed(context.Background(), "too long")
	require.Error(t, err)

	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.True(t, embErr.IsRetryable())
	assert.Equal(t, "openai", embErr.Provider)
	assert.Contains(t, err.Error(), "input exceeds the maximum length")
}

func TestOpenAIEmbedCountMismatch(t *testing.T) {
	f := newFakeOpenAIServer(t, 3)
	f.respond = func(w http.ResponseWriter, req recordedRequest) {
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"object": "embedding", "embedding": []float32{1, 1, 1}, "index": 0},
			},
			"model": req.Model,
		})
	}
	e := newTestOpenAIEmbedder(t, f, 100)

	_, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)

	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Contains(t, err.Error(), "1 embeddings for 2 inputs")
}

func TestOpenAIEmbedDimensionMismatch(t *testing.T) {
	f := newFakeOpenAIServer(t, 3)
	f.respond = func(w http.ResponseWriter, req recordedRequest) {
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"object": "embedding", "embedding": []float32{1, 1}, "index": 0},
			},
			"model": req.Model,
		})
	}
	e := newTestOpenAIEmbedder(t, f, 100)

	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 3")

	// Dimension mismatch is a configuration problem; retrying is useless.
	var embErr *EmbeddingError
	assert.False(t, errors.As(err, &embErr))
}

func TestOpenAIDimensionsFieldOnlyForV3Models(t *testing.T) {
	f := newFakeOpenAIServer(t, 3)
	e, err := NewOpenAIEmbedder(config.EmbedderConfig{
		Provider:  config.EmbedderOpenAI,
		Model:     "nomic-embed-text",
		BaseURL:   f.server.URL,
		Dimension: 3,
		BatchSize: 100,
		Timeout:   5 * time.Second,
	})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")
	require.NoError(t, err)

	reqs := f.recorded()
	require.Len(t, reqs, 1)
	assert.Zero(t, reqs[0].Dimensions)
	assert.Empty(t, reqs[0].AuthHeader)
}

func TestOpenAIRequiresKeyForPublicEndpoint(t *testing.T) {
	_, err := NewOpenAIEmbedder(config.EmbedderConfig{
		Provider:  config.EmbedderOpenAI,
		Model:     "text-embedding-3-small",
		Dimension: 768,
		BatchSize: 100,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestOpenAIAccessors(t *testing.T) {
	f := newFakeOpenAIServer(t, 3)
	e := newTestOpenAIEmbedder(t, f, 100)

	assert.Equal(t, 3, e.Dimension())
	assert.Equal(t, "text-embedding-3-small", e.ModelName())
	assert.NoError(t, e.Close())
}

// ============================================================================
// FACTORY
// ============================================================================

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(config.EmbedderConfig{Provider: "watsonx"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid provider")
}

func TestNewGeminiRequiresKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	_, err := New(config.EmbedderConfig{Provider: config.EmbedderGemini})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestNewOpenAIFromConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")

	e, err := New(config.EmbedderConfig{Provider: config.EmbedderOpenAI})
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", e.ModelName())
	assert.Equal(t, 768, e.Dimension())
}

// ============================================================================
// HELPERS
// ============================================================================

func TestUnitNorm(t *testing.T) {
	v := unitNorm([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := unitNorm([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestEmbeddingErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := newEmbeddingError("openai", "text-embedding-3-small", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "openai/text-embedding-3-small")
	assert.True(t, err.IsRetryable())
}
