package ratelimit

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowBurstThenLimit(t *testing.T) {
	m := NewMemoryLimiter(1, 3)
	defer func() { _ = m.Close() }()

	key := KeyFromAPIKey("ak_demand_deadbeefdeadbeefdeadbeefdeadbeef")
	for i := 0; i < 3; i++ {
		ok, err := m.Allow(context.Background(), key)
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst should pass", i+1)
	}
	ok, err := m.Allow(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok, "burst exhausted, request should be limited")
}

func TestAllowKeysAreIndependent(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	defer func() { _ = m.Close() }()

	okA, _ := m.Allow(context.Background(), KeyFromAPIKey("ak_agent_a_1111"))
	okA2, _ := m.Allow(context.Background(), KeyFromAPIKey("ak_agent_a_1111"))
	okB, _ := m.Allow(context.Background(), KeyFromAPIKey("ak_agent_b_2222"))

	assert.True(t, okA)
	assert.False(t, okA2, "agent a exhausted its own bucket")
	assert.True(t, okB, "agent b must not be starved by agent a")
}

func TestKeyFromAPIKeyNeverExposesRawKey(t *testing.T) {
	raw := "ak_demand_deadbeefdeadbeefdeadbeefdeadbeef"
	key := KeyFromAPIKey(raw)

	assert.True(t, strings.HasPrefix(key, "agent:"))
	assert.NotContains(t, key, "deadbeef")
	assert.Equal(t, key, KeyFromAPIKey(raw), "derivation must be stable")
	assert.NotEqual(t, key, KeyFromAPIKey(raw+"x"))
}
