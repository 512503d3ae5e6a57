// Package embedding turns natural-language query text into fixed-width
// vectors for drift baselines and ground-truth matching.
//
// Every provider is constructed with the platform's configured dimension
// (EMBEDDING_DIMENSION) and enforces it on each vector the backend returns.
// Stored baselines are only comparable to fresh embeddings of the same
// width, so a backend serving a different model than configured must fail
// loudly here rather than seed the monitoring tables with vectors that can
// never match anything.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pgvector/pgvector-go"
)

// ErrNoProvider is returned by NoopProvider when no embedding backend is
// configured. Drift detection and ground-truth matching are skipped for the
// event; the rest of the pipeline still runs.
var ErrNoProvider = errors.New("embedding: no provider configured")

// Provider is the capability contract: text in, D-dimensional vector out.
type Provider interface {
	// Embed returns one vector for text.
	Embed(ctx context.Context, text string) (pgvector.Vector, error)

	// EmbedBatch returns one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error)

	// Dimensions reports the configured vector width. Baselines created
	// against this provider carry centroids of exactly this size.
	Dimensions() int
}

// checkDims rejects a backend response whose vectors are not the configured
// width. backend names the provider for the error message.
func checkDims(backend string, vecs []pgvector.Vector, want int) error {
	for i, v := range vecs {
		if got := len(v.Slice()); got != want {
			return fmt.Errorf("embedding: %s: vector %d has %d dimensions, configured for %d (model/EMBEDDING_DIMENSION mismatch)", backend, i, got, want)
		}
	}
	return nil
}

const (
	openAIDefaultBaseURL = "https://api.openai.com"
	httpTimeout          = 30 * time.Second

	// maxResponseBody caps how much of an embeddings response is read; a
	// full batch of 1024-dim vectors is well under this.
	maxResponseBody = 10 * 1024 * 1024
)

// OpenAIProvider calls the OpenAI embeddings API, always passing the
// configured dimension so the service truncates server-side to the width
// the platform's vector columns expect.
type OpenAIProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	dimensions int
}

// NewOpenAIProvider builds an OpenAI-backed provider. dimensions comes from
// EMBEDDING_DIMENSION and must be positive — there is no model-specific
// default, because the stored baselines define the only width that works.
func NewOpenAIProvider(apiKey, model string, dimensions int) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("embedding: openai: API key is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("embedding: openai: dimensions must be positive, got %d", dimensions)
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    openAIDefaultBaseURL,
		httpClient: &http.Client{Timeout: httpTimeout},
		dimensions: dimensions,
	}, nil
}

// SetBaseURL points the provider at an alternate endpoint (an
// OpenAI-compatible proxy, or a test server).
func (p *OpenAIProvider) SetBaseURL(baseURL string) {
	p.baseURL = baseURL
}

// Dimensions reports the configured vector width.
func (p *OpenAIProvider) Dimensions() int {
	return p.dimensions
}

type openAIEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Embed returns one vector for text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return pgvector.Vector{}, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one API call, reordering the response by
// its index field so the result lines up with the input.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result, err := p.post(ctx, openAIEmbedRequest{Input: texts, Model: p.model, Dimensions: p.dimensions})
	if err != nil {
		return nil, err
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: openai: sent %d texts, got %d vectors back", len(texts), len(result.Data))
	}

	vecs := make([]pgvector.Vector, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding: openai: response index %d out of range", d.Index)
		}
		vecs[d.Index] = pgvector.NewVector(d.Embedding)
	}
	if err := checkDims("openai", vecs, p.dimensions); err != nil {
		return nil, err
	}
	return vecs, nil
}

func (p *OpenAIProvider) post(ctx context.Context, body openAIEmbedRequest) (*openAIEmbedResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("embedding: openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embedding: openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: openai: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("embedding: openai: read response: %w", err)
	}

	var result openAIEmbedResponse
	decodeErr := json.Unmarshal(raw, &result)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && result.Error != nil {
			return nil, fmt.Errorf("embedding: openai: HTTP %d: %s: %s", resp.StatusCode, result.Error.Type, result.Error.Message)
		}
		return nil, fmt.Errorf("embedding: openai: HTTP %d: %s", resp.StatusCode, string(raw))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("embedding: openai: decode response: %w", decodeErr)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("embedding: openai: %s: %s", result.Error.Type, result.Error.Message)
	}
	return &result, nil
}

// NoopProvider is the stand-in when no backend is configured. It reports
// the configured dimension (so baseline width checks still make sense) but
// refuses to embed, which downgrades drift to no_baseline handling and
// disables semantic ground-truth matching.
type NoopProvider struct {
	dims int
}

// NewNoopProvider builds a NoopProvider reporting dims.
func NewNoopProvider(dims int) *NoopProvider {
	return &NoopProvider{dims: dims}
}

// Dimensions reports the configured vector width.
func (p *NoopProvider) Dimensions() int {
	return p.dims
}

// Embed always returns ErrNoProvider.
func (p *NoopProvider) Embed(context.Context, string) (pgvector.Vector, error) {
	return pgvector.Vector{}, ErrNoProvider
}

// EmbedBatch always returns ErrNoProvider.
func (p *NoopProvider) EmbedBatch(context.Context, []string) ([]pgvector.Vector, error) {
	return nil, ErrNoProvider
}
