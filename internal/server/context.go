// Package server implements the platform's HTTP API: operator-facing CRUD
// and read endpoints behind a bearer JWT, and a single agent-facing SDK
// ingest endpoint behind an X-API-Key.
package server

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/sqlsentry/internal/auth"
)

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// RequestIDFromContext extracts the request ID assigned by requestIDMiddleware.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return v
	}
	return ""
}

const contextKeyClaims contextKey = "operator_claims"

// ClaimsFromContext extracts the verified operator JWT claims, set by
// operatorAuthMiddleware.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(contextKeyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

func withClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, contextKeyClaims, claims)
}

// genRequestID mints a fresh request ID; used when the client didn't supply
// a usable one.
func genRequestID() string {
	return uuid.New().String()
}
