package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/sony/gobreaker"
)

// BreakerProvider wraps a Provider with a circuit breaker so a flaky
// embedding backend degrades the background pipeline instead of cascading:
// once failures cross the threshold, calls fail fast until the backend has
// had time to recover.
type BreakerProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerProvider wraps inner with a circuit breaker named for logs/metrics.
func NewBreakerProvider(name string, inner Provider) *BreakerProvider {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &BreakerProvider{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerProvider) Dimensions() int { return b.inner.Dimensions() }

func (b *BreakerProvider) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	v, err := b.breaker.Execute(func() (any, error) {
		return b.inner.Embed(ctx, text)
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding: %s: %w", b.breaker.Name(), err)
	}
	return v.(pgvector.Vector), nil
}

func (b *BreakerProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	v, err := b.breaker.Execute(func() (any, error) {
		return b.inner.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: %s: %w", b.breaker.Name(), err)
	}
	return v.([]pgvector.Vector), nil
}

// New builds the configured provider, selecting by name: "openai", "ollama",
// or "noop"/"auto" with no key configured. "auto" picks openai if an API key
// is present, otherwise ollama, otherwise noop.
func New(provider, openAIKey, embeddingModel string, dims int, ollamaURL, ollamaModel string) (Provider, error) {
	switch provider {
	case "openai":
		p, err := NewOpenAIProvider(openAIKey, embeddingModel, dims)
		if err != nil {
			return nil, err
		}
		return NewBreakerProvider("embedding-openai", p), nil
	case "ollama":
		return NewBreakerProvider("embedding-ollama", NewOllamaProvider(ollamaURL, ollamaModel, dims)), nil
	case "noop":
		return NewNoopProvider(dims), nil
	case "auto", "":
		if openAIKey != "" {
			p, err := NewOpenAIProvider(openAIKey, embeddingModel, dims)
			if err == nil {
				return NewBreakerProvider("embedding-openai", p), nil
			}
		}
		if ollamaURL != "" {
			return NewBreakerProvider("embedding-ollama", NewOllamaProvider(ollamaURL, ollamaModel, dims)), nil
		}
		return NewNoopProvider(dims), nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", provider)
	}
}
