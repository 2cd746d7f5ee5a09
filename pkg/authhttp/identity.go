// Package authhttp implements the one-shot setup flow, bearer-token login,
// and the auth middleware that gates every other /api route (C0).
package authhttp

import (
	"context"

	"github.com/google/uuid"
)

// Identity is the authenticated caller attached to a request's context by
// Middleware.
type Identity struct {
	UserID  uuid.UUID
	IsAdmin bool
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying id.
func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the Identity attached by Middleware, or false if the
// request reached this point unauthenticated (only possible for exempt paths).
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
