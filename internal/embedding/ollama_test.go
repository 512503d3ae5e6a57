package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newOllamaServer fakes /api/embed: every input (single string or array)
// gets a dims-wide vector whose first element is its position, so ordering
// is observable from the test side.
func newOllamaServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		count := 1
		if arr, ok := req.Input.([]any); ok {
			count = len(arr)
		}
		embeddings := make([][]float32, count)
		for i := range embeddings {
			vec := make([]float32, dims)
			vec[0] = float32(i)
			embeddings[i] = vec
		}
		require.NoError(t, json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: embeddings}))
	}))
}

func TestOllamaEmbedQueryText(t *testing.T) {
	server := newOllamaServer(t, 16)
	defer server.Close()

	p := NewOllamaProvider(server.URL, "mxbai-embed-large", 16)
	assert.Equal(t, 16, p.Dimensions())

	vec, err := p.Embed(context.Background(), "how many products are in stock?")
	require.NoError(t, err)
	assert.Len(t, vec.Slice(), 16)
}

func TestOllamaEmbedBatchKeepsOrder(t *testing.T) {
	server := newOllamaServer(t, 16)
	defer server.Close()

	p := NewOllamaProvider(server.URL, "mxbai-embed-large", 16)
	queries := []string{
		"how many products are in stock?",
		"top five products by revenue",
		"orders placed in the last week",
	}
	vecs, err := p.EmbedBatch(context.Background(), queries)
	require.NoError(t, err)
	require.Len(t, vecs, len(queries))
	for i, v := range vecs {
		assert.Len(t, v.Slice(), 16)
		assert.Equal(t, float32(i), v.Slice()[0], "vector %d out of order", i)
	}
}

func TestOllamaEmbedBatchEmptyInput(t *testing.T) {
	p := NewOllamaProvider("http://localhost:0", "mxbai-embed-large", 16)
	vecs, err := p.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestOllamaDimensionMismatchRejected(t *testing.T) {
	// Server speaks a 16-dim model while the provider was configured for
	// 1024: the mismatch must surface here, not as unusable stored vectors.
	server := newOllamaServer(t, 16)
	defer server.Close()

	p := NewOllamaProvider(server.URL, "mxbai-embed-large", 1024)
	_, err := p.Embed(context.Background(), "how many products are in stock?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMBEDDING_DIMENSION")
}

func TestOllamaBatchFallsBackWhenArrayRejected(t *testing.T) {
	// Older Ollama versions reject array input; the provider must fan out
	// to single-text requests and still return every vector.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if _, ok := req.Input.([]any); ok {
			http.Error(w, "array input not supported", http.StatusBadRequest)
			return
		}
		vec := make([]float32, 16)
		vec[0] = 0.5
		require.NoError(t, json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{vec}}))
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL, "mxbai-embed-large", 16)
	vecs, err := p.EmbedBatch(context.Background(), []string{
		"how many products are in stock?",
		"top five products by revenue",
		"orders placed in the last week",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Equal(t, float32(0.5), v.Slice()[0])
	}
}

func TestOllamaServerErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http error status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "model not found", http.StatusNotFound)
			},
		},
		{
			name: "empty embeddings",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{})
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("not json"))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			p := NewOllamaProvider(server.URL, "mxbai-embed-large", 16)
			_, err := p.Embed(context.Background(), "how many products are in stock?")
			assert.Error(t, err)
		})
	}
}

func TestTruncateTextWordBoundary(t *testing.T) {
	assert.Equal(t, "show revenue per", truncateText("show revenue per region last month", 18))
}

func TestTruncateTextShortInputUntouched(t *testing.T) {
	assert.Equal(t, "list orders", truncateText("list orders", ollamaMaxInputChars))
	assert.Equal(t, "", truncateText("", 10))
}

func TestTruncateTextNoWhitespaceHardCut(t *testing.T) {
	long := strings.Repeat("x", 50)
	assert.Len(t, truncateText(long, 12), 12)
}

func TestTruncateTextMultibyteSafe(t *testing.T) {
	// Rune-based truncation must never split a multibyte character.
	input := "在庫のある商品は何個ありますか"
	got := truncateText(input, 6)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 6)

	assert.Equal(t, input, truncateText(input, utf8.RuneCountInString(input)))
}
