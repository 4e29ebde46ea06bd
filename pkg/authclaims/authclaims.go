// Package authclaims carries the resolved request principal through the
// request context. A Principal is request-scoped and never persisted.
package authclaims

import "context"

// AuthMethod identifies which credential source produced a Principal.
type AuthMethod string

const (
	MethodJWT              AuthMethod = "jwt"
	MethodForwardedHeaders AuthMethod = "forwarded-headers"
	MethodLocalFallback    AuthMethod = "local-fallback"
)

// Principal is the resolved identity of an inbound request together with the
// attributes the authorization gate needs. Resolution never rejects inactive
// users; IsActive is carried so the gate can.
type Principal struct {
	UserID     string
	Email      string
	IsAdmin    bool
	IsActive   bool
	AuthMethod AuthMethod
}

type ctxKey int

const principalCtxKey ctxKey = iota

// ContextWithPrincipal injects the resolved principal into the context.
func ContextWithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, principal)
}

// PrincipalFromContext extracts the principal from the context, if one was
// resolved for this request.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(principalCtxKey).(*Principal)
	return principal, ok
}
