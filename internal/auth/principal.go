package auth

import (
	"context"

	"github.com/wolfeidau/hakbot/internal/models"
)

type contextKey int

const (
	principalContextKey contextKey = iota
)

// WithPrincipal stores the authenticated principal in the context.
func WithPrincipal(ctx context.Context, principal models.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// PrincipalFromContext extracts the authenticated principal from the request context.
// Returns nil if no principal is present (unauthenticated request).
func PrincipalFromContext(ctx context.Context) models.Principal {
	principal, _ := ctx.Value(principalContextKey).(models.Principal)
	return principal
}

// PrincipalKind describes how a principal authenticated, for logs and responses.
func PrincipalKind(principal models.Principal) string {
	switch principal.(type) {
	case *models.DirectoryIdentity:
		return "directory_identity"
	case *models.Team:
		return "team"
	default:
		return "unknown"
	}
}
