// ABOUTME: Request-scoped identity propagation via context
// ABOUTME: WithIdentity/FromContext pair used by HTTP middleware and handlers

package auth

import (
	"context"
)

// identityKey is the key type for storing an Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context carrying the verified identity.
func WithIdentity(ctx context.Context, ident *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, ident)
}

// FromContext retrieves the verified identity, or nil if the request was
// not authenticated.
func FromContext(ctx context.Context) *Identity {
	ident, _ := ctx.Value(identityKey{}).(*Identity)
	return ident
}
