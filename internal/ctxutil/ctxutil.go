// Package ctxutil provides shared context key accessors.
//
// This package exists to break the circular dependency between server and mcp:
// server imports mcp for MCP server setup, and mcp needs to read JWT claims
// from the context that server's auth middleware populates. Both packages
// import ctxutil instead of each other.
package ctxutil

import (
	"context"

	"github.com/google/uuid"

	"github.com/classlens/classlens/internal/auth"
)

type contextKey string

const (
	keyClaims    contextKey = "claims"
	keySessionID contextKey = "session_id"
)

// WithClaims returns a new context carrying the given claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, keyClaims, claims)
	ctx = context.WithValue(ctx, keySessionID, claims.SessionID)
	return ctx
}

// ClaimsFromContext extracts the JWT claims from the context.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// SessionIDFromContext extracts the session id from the context.
func SessionIDFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(keySessionID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}
