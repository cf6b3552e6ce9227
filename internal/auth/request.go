package auth

import (
	"context"
	"net/http"
	"strings"

	"liveclass/pkg/types"
)

type contextKey string

const identityKey contextKey = "identity"

// TokenFromRequest extracts a bearer token in priority order: the explicit
// handshake auth payload, the Authorization header, the token query parameter.
func TokenFromRequest(explicit string, r *http.Request) string {
	if token := strings.TrimSpace(explicit); token != "" {
		return token
	}
	if r == nil {
		return ""
	}
	if token := BearerFromHeader(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// BearerFromHeader returns the token of an "Authorization: Bearer <token>" value.
func BearerFromHeader(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// WithIdentity stores the authenticated identity in ctx.
func WithIdentity(ctx context.Context, identity types.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFrom returns the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (types.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(types.Identity)
	return identity, ok
}
