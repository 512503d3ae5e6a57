package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type openAIFakeDatum struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// newOpenAIServer fakes /v1/embeddings, returning dims-wide vectors in
// REVERSE index order so the provider's reordering is actually exercised.
func newOpenAIServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, dims, req.Dimensions, "configured dimension must ride along in the request")

		data := make([]openAIFakeDatum, len(req.Input))
		for i := range req.Input {
			idx := len(req.Input) - 1 - i
			vec := make([]float32, dims)
			vec[0] = float32(idx)
			data[i] = openAIFakeDatum{Embedding: vec, Index: idx}
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"data": data}))
	}))
}

func newTestOpenAIProvider(t *testing.T, serverURL string, dims int) *OpenAIProvider {
	t.Helper()
	p, err := NewOpenAIProvider("sk-test", "text-embedding-3-small", dims)
	require.NoError(t, err)
	p.SetBaseURL(serverURL)
	return p
}

func TestOpenAIConstructorValidation(t *testing.T) {
	_, err := NewOpenAIProvider("", "text-embedding-3-small", 1024)
	assert.ErrorContains(t, err, "API key")

	// No silent model-specific default: the width always comes from
	// EMBEDDING_DIMENSION, or construction fails.
	_, err = NewOpenAIProvider("sk-test", "text-embedding-3-small", 0)
	assert.ErrorContains(t, err, "dimensions")
	_, err = NewOpenAIProvider("sk-test", "text-embedding-3-small", -5)
	assert.ErrorContains(t, err, "dimensions")
}

func TestOpenAIEmbedBatchReordersByIndex(t *testing.T) {
	server := newOpenAIServer(t, 16)
	defer server.Close()

	p := newTestOpenAIProvider(t, server.URL, 16)
	queries := []string{
		"how many products are in stock?",
		"top five products by revenue",
		"orders placed in the last week",
	}
	vecs, err := p.EmbedBatch(context.Background(), queries)
	require.NoError(t, err)
	require.Len(t, vecs, len(queries))
	for i, v := range vecs {
		assert.Equal(t, float32(i), v.Slice()[0], "vector %d not restored to input order", i)
	}
}

func TestOpenAIEmbedSingle(t *testing.T) {
	server := newOpenAIServer(t, 16)
	defer server.Close()

	p := newTestOpenAIProvider(t, server.URL, 16)
	vec, err := p.Embed(context.Background(), "how many products are in stock?")
	require.NoError(t, err)
	assert.Len(t, vec.Slice(), 16)
}

func TestOpenAIStructuredErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"type": "invalid_request_error", "message": "Incorrect API key provided"},
		})
	}))
	defer server.Close()

	p := newTestOpenAIProvider(t, server.URL, 16)
	_, err := p.Embed(context.Background(), "how many products are in stock?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_request_error")
	assert.Contains(t, err.Error(), "Incorrect API key provided")
}

func TestOpenAICountMismatchRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		vec := make([]float32, 16)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []openAIFakeDatum{{Embedding: vec, Index: 0}},
		})
	}))
	defer server.Close()

	p := newTestOpenAIProvider(t, server.URL, 16)
	_, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 1 vectors")
}

func TestOpenAIDimensionMismatchRejected(t *testing.T) {
	// Backend ignores the dimensions parameter and answers with the model's
	// native width: refuse the vector rather than store it.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		vec := make([]float32, 1536)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []openAIFakeDatum{{Embedding: vec, Index: 0}},
		})
	}))
	defer server.Close()

	p := newTestOpenAIProvider(t, server.URL, 1024)
	_, err := p.Embed(context.Background(), "how many products are in stock?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMBEDDING_DIMENSION")
}

func TestNoopProviderContract(t *testing.T) {
	p := NewNoopProvider(1024)
	assert.Equal(t, 1024, p.Dimensions())

	_, err := p.Embed(context.Background(), "how many products are in stock?")
	assert.ErrorIs(t, err, ErrNoProvider)

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrNoProvider)
	assert.Nil(t, vecs)
}
