package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/pgvector/pgvector-go"
)

// OllamaProvider embeds through a local Ollama server. Query text and the
// agents' database contents never leave the operator's network, which is
// why provider auto-selection prefers a reachable Ollama over OpenAI.
type OllamaProvider struct {
	baseURL       string
	model         string
	httpClient    *http.Client
	dimensions    int
	maxInputChars int
}

// ollamaMaxInputChars bounds the text sent per embedding request. The
// inputs here are NL queries and ground-truth questions — rarely more than
// a sentence — so the limit only matters for pathological agent payloads.
// Sized for a 512-token context window at roughly 4 chars per token; the
// server truncates token-wise as a second net if this estimate overshoots.
const ollamaMaxInputChars = 2000

// NewOllamaProvider builds an Ollama-backed provider. dimensions must match
// the model's native output width (1024 for mxbai-embed-large) — Ollama has
// no server-side truncation parameter, so a mismatch surfaces as an error
// on the first embed rather than as unusable stored vectors.
func NewOllamaProvider(baseURL, model string, dimensions int) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		baseURL:       baseURL,
		model:         model,
		httpClient:    &http.Client{Timeout: httpTimeout},
		dimensions:    dimensions,
		maxInputChars: ollamaMaxInputChars,
	}
}

// Dimensions reports the configured vector width.
func (p *OllamaProvider) Dimensions() int {
	return p.dimensions
}

// ollamaEmbedRequest is the body for POST /api/embed; Input is a string or
// a []string, and the response shape is the same either way.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns one vector for text, truncated to the input budget first.
func (p *OllamaProvider) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	result, err := p.post(ctx, truncateText(text, p.maxInputChars))
	if err != nil {
		return pgvector.Vector{}, err
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return pgvector.Vector{}, fmt.Errorf("embedding: ollama: empty embedding returned")
	}
	vec := pgvector.NewVector(result.Embeddings[0])
	if err := checkDims("ollama", []pgvector.Vector{vec}, p.dimensions); err != nil {
		return pgvector.Vector{}, err
	}
	return vec, nil
}

// EmbedBatch embeds texts through /api/embed's native array input, falling
// back to bounded concurrent single-text calls when the server rejects the
// array form (older Ollama versions). Baseline creation is the main caller
// here — a whole ground-truth artifact's NL queries in one shot.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	truncated := make([]string, len(texts))
	for i, t := range texts {
		truncated[i] = truncateText(t, p.maxInputChars)
	}

	if len(truncated) == 1 {
		vec, err := p.Embed(ctx, truncated[0])
		if err != nil {
			return nil, err
		}
		return []pgvector.Vector{vec}, nil
	}

	vecs, err := p.embedArray(ctx, truncated)
	if err == nil {
		return vecs, nil
	}
	slog.Debug("embedding: ollama array input rejected, falling back to single-text calls", "error", err)
	return p.embedFanOut(ctx, truncated)
}

// embedArray sends all texts as one array-input request.
func (p *OllamaProvider) embedArray(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	result, err := p.post(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding: ollama: sent %d texts, got %d vectors back", len(texts), len(result.Embeddings))
	}

	vecs := make([]pgvector.Vector, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if len(emb) == 0 {
			return nil, fmt.Errorf("embedding: ollama: empty embedding at index %d", i)
		}
		vecs[i] = pgvector.NewVector(emb)
	}
	if err := checkDims("ollama", vecs, p.dimensions); err != nil {
		return nil, err
	}
	return vecs, nil
}

// ollamaFanOutWidth caps concurrent fallback requests; a single local GPU
// serializes them anyway, more in flight just queues server-side.
const ollamaFanOutWidth = 4

// embedFanOut is the fallback path: one request per text, bounded width,
// first failure wins.
func (p *OllamaProvider) embedFanOut(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs := make([]pgvector.Vector, len(texts))
	errs := make([]error, len(texts))
	sem := make(chan struct{}, ollamaFanOutWidth)

	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		go func(idx int, t string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			vec, err := p.Embed(ctx, t)
			if err != nil {
				errs[idx] = fmt.Errorf("embedding: ollama: text %d: %w", idx, err)
				return
			}
			vecs[idx] = vec
		}(i, text)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return vecs, nil
}

// post sends one /api/embed request. input is a string or []string.
func (p *OllamaProvider) post(ctx context.Context, input any) (*ollamaEmbedResponse, error) {
	payload, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("embedding: ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embedding: ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: ollama: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("embedding: ollama: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embedding: ollama: decode response: %w", err)
	}
	return &result, nil
}
