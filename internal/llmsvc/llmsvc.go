// Package llmsvc provides a text-completion capability used by ground-truth
// generation, the LLM judge, and output validation. The concrete vendor is
// a capability contract per the platform's scope; Provider is what every
// caller depends on.
package llmsvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// ErrNoProvider signals that no real LLM provider is configured.
var ErrNoProvider = errors.New("llmsvc: no provider configured (noop)")

// Provider issues a single system+user chat completion and returns the raw
// text response. Callers that need structured output (JSON ground-truth
// batches, judge verdicts) parse the text themselves — the provider makes no
// assumption about response shape.
type Provider interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// NoopProvider always fails; used when no LLM backend is configured.
type NoopProvider struct{}

func (NoopProvider) Complete(context.Context, string, string) (string, error) {
	return "", ErrNoProvider
}

// BreakerProvider wraps a Provider with a circuit breaker so a flaky LLM
// backend degrades the background pipeline (ground-truth generation, judge
// calls) instead of cascading failures into every evaluation.
type BreakerProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerProvider(name string, inner Provider) *BreakerProvider {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &BreakerProvider{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerProvider) Complete(ctx context.Context, system, user string) (string, error) {
	v, err := b.breaker.Execute(func() (any, error) {
		return b.inner.Complete(ctx, system, user)
	})
	if err != nil {
		return "", fmt.Errorf("llmsvc: %s: %w", b.breaker.Name(), err)
	}
	return v.(string), nil
}

// New builds the configured provider. "auto" picks anthropic if a key is
// present, otherwise noop.
func New(provider, anthropicKey, anthropicModel string) Provider {
	switch provider {
	case "anthropic":
		return NewBreakerProvider("llm-anthropic", NewAnthropicProvider(anthropicKey, anthropicModel))
	case "noop":
		return NoopProvider{}
	case "auto", "":
		if anthropicKey != "" {
			return NewBreakerProvider("llm-anthropic", NewAnthropicProvider(anthropicKey, anthropicModel))
		}
		return NoopProvider{}
	default:
		return NoopProvider{}
	}
}
