package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wolfeidau/hakbot/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrNotFound = errors.New("not found")

	ErrTeamNotFound      = fmt.Errorf("team %w", ErrNotFound)
	ErrIdentityNotFound  = fmt.Errorf("identity %w", ErrNotFound)
	ErrAccessKeyNotFound = fmt.Errorf("access key %w", ErrNotFound)

	ErrTeamAlreadyExists      = errors.New("team already exists")
	ErrIdentityAlreadyExists  = errors.New("identity already exists")
	ErrAccessKeyAlreadyExists = errors.New("access key already exists")
)

// IdentityStore manages directory identities and their team memberships.
type IdentityStore interface {
	// GetIdentityByUsername retrieves an identity with its teams populated
	GetIdentityByUsername(ctx context.Context, username string) (*models.DirectoryIdentity, error)

	// GetIdentityByDN retrieves an identity by distinguished name
	GetIdentityByDN(ctx context.Context, dn string) (*models.DirectoryIdentity, error)

	// UpsertIdentity creates or updates an identity keyed by username and replaces
	// its memberships with identity.Teams. The stored identity is returned.
	UpsertIdentity(ctx context.Context, identity *models.DirectoryIdentity) (*models.DirectoryIdentity, error)

	// ListIdentities returns all identities
	ListIdentities(ctx context.Context) ([]*models.DirectoryIdentity, error)

	// DeleteIdentity removes an identity and its memberships
	DeleteIdentity(ctx context.Context, username string) error
}

// TeamStore manages teams.
type TeamStore interface {
	CreateTeam(ctx context.Context, team *models.Team) error

	// GetTeam retrieves a team with its access keys populated
	GetTeam(ctx context.Context, teamUUID uuid.UUID) (*models.Team, error)

	GetTeamByName(ctx context.Context, name string) (*models.Team, error)
	ListTeams(ctx context.Context) ([]*models.Team, error)

	// UpdateTeam updates the name and privileged flag
	UpdateTeam(ctx context.Context, team *models.Team) error

	// DeleteTeam removes the team's access keys and memberships, then the team,
	// as a single unit of work.
	DeleteTeam(ctx context.Context, teamUUID uuid.UUID) error

	// ListMembers returns the identities belonging to a team
	ListMembers(ctx context.Context, teamUUID uuid.UUID) ([]*models.DirectoryIdentity, error)
}

// AccessKeyStore manages pre-shared access keys. Implementations must serialize
// mutations so that ReplaceAccessKey behaves as a compare-and-swap.
type AccessKeyStore interface {
	// CreateAccessKey stores a new key. Returns ErrAccessKeyAlreadyExists on a value
	// collision and ErrTeamNotFound when the owning team does not exist.
	CreateAccessKey(ctx context.Context, key *models.AccessKey) error

	GetAccessKey(ctx context.Context, value string) (*models.AccessKey, error)

	// GetTeamByAccessKey resolves the owning team of an exact key value
	GetTeamByAccessKey(ctx context.Context, value string) (*models.Team, error)

	ListAccessKeys(ctx context.Context, teamUUID uuid.UUID) ([]*models.AccessKey, error)

	// ReplaceAccessKey atomically swaps oldValue for newValue, keeping the owning team.
	// Returns ErrAccessKeyNotFound if oldValue is no longer live.
	ReplaceAccessKey(ctx context.Context, oldValue, newValue string) (*models.AccessKey, error)

	DeleteAccessKey(ctx context.Context, value string) error

	// DeleteAccessKeysByTeam deletes every key owned by a team and returns the count
	DeleteAccessKeysByTeam(ctx context.Context, teamUUID uuid.UUID) (int, error)
}

// Store combines the identity, team and access key stores.
type Store interface {
	IdentityStore
	TeamStore
	AccessKeyStore
}
