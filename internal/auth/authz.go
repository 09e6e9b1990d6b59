package auth

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/hakbot/internal/models"
	"github.com/wolfeidau/hakbot/internal/telemetry"
)

// IsPrivileged reports whether the principal may perform privileged operations.
// An identity is privileged through membership of any privileged team; a team
// authenticated by access key is privileged through its own flag.
func IsPrivileged(principal models.Principal) bool {
	switch p := principal.(type) {
	case *models.DirectoryIdentity:
		return p.IsPrivileged()
	case *models.Team:
		return p.Privileged
	default:
		return false
	}
}

// RequirePrivileged returns ErrUnauthenticated without a principal and ErrDenied
// when the principal is not privileged.
func RequirePrivileged(ctx context.Context, principal models.Principal) error {
	if principal == nil {
		return ErrUnauthenticated
	}

	if !IsPrivileged(principal) {
		telemetry.GetMetrics().AuthDeniedTotal.Add(ctx, 1)
		log.Info().
			Str("principal", principal.Name()).
			Str("kind", PrincipalKind(principal)).
			Msg("Privileged access denied")
		return fmt.Errorf("%w: %s is not a member of a privileged team", ErrDenied, principal.Name())
	}

	return nil
}
