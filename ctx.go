package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

var identityCtxKey = &contextKey{"identity"}
var claimsCtxKey = &contextKey{"claims"}
var loginMetaCtxKey = &contextKey{"login-metadata"}

type contextKey struct {
	name string
}

// WithIdentityContext sets the resolved Identity in the given context
func WithIdentityContext(r context.Context, identity *Identity) context.Context {
	return context.WithValue(r, identityCtxKey, identity)
}

// IdentityFromContext finds the identity from the context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	raw, ok := ctx.Value(identityCtxKey).(*Identity)
	return raw, ok
}

// WithClaimsContext sets the AuthClaims in the given context
func WithClaimsContext(r context.Context, claims AuthClaims) context.Context {
	return context.WithValue(r, claimsCtxKey, claims)
}

// GetClaims extracts the AuthClaims from the standard context
func GetClaims(ctx context.Context) (AuthClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(AuthClaims)
	return raw, ok
}

// GetRouterClaims extracts the AuthClaims from the router context
func GetRouterClaims(ctx router.Context, key string) (AuthClaims, bool) {
	if key == "" {
		key = "user" // Default key used by JWT middleware
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return nil, false
	}
	claims, ok := raw.(AuthClaims)
	return claims, ok
}

// LoginMetadata carries per-login request attributes into the session
// registry entry.
type LoginMetadata struct {
	Device string
	IP     string
}

// WithLoginMetadata sets login request metadata in the given context
func WithLoginMetadata(r context.Context, meta LoginMetadata) context.Context {
	return context.WithValue(r, loginMetaCtxKey, meta)
}

// LoginMetadataFromContext finds login request metadata in the context.
func LoginMetadataFromContext(ctx context.Context) (LoginMetadata, bool) {
	raw, ok := ctx.Value(loginMetaCtxKey).(LoginMetadata)
	return raw, ok
}

// Can is a convenience function to check a capability directly from the
// standard context. It consults the resolved identity, so it only works
// downstream of the authentication middleware.
func Can(ctx context.Context, capability string) bool {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return false
	}
	return HasCapability(identity, capability)
}
