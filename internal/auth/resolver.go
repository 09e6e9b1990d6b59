package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfeidau/hakbot/internal/models"
	"github.com/wolfeidau/hakbot/internal/store"
)

// Resolver maps verified credentials to stored principals.
type Resolver struct {
	identities store.IdentityStore
	keys       store.AccessKeyStore
}

// NewResolver creates a resolver over the identity and access key stores.
func NewResolver(identities store.IdentityStore, keys store.AccessKeyStore) *Resolver {
	return &Resolver{identities: identities, keys: keys}
}

// ResolveBySubject looks up the directory identity named by a token subject.
// Memberships are loaded with the identity.
func (r *Resolver) ResolveBySubject(ctx context.Context, subject string) (*models.DirectoryIdentity, error) {
	identity, err := r.identities.GetIdentityByUsername(ctx, subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: subject %q", ErrUnknownPrincipal, subject)
		}
		return nil, fmt.Errorf("failed to resolve subject: %w", err)
	}
	return identity, nil
}

// ResolveByKey looks up the team owning an exact access key value.
func (r *Resolver) ResolveByKey(ctx context.Context, value string) (*models.Team, error) {
	team, err := r.keys.GetTeamByAccessKey(ctx, value)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: key %s", ErrUnknownPrincipal, models.MaskKey(value))
		}
		return nil, fmt.Errorf("failed to resolve access key: %w", err)
	}
	return team, nil
}
