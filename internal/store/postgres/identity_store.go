package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/hakbot/internal/models"
	"github.com/wolfeidau/hakbot/internal/store"
)

const identityColumns = `identity_id, username, dn, created_at, updated_at`

func scanIdentity(row pgx.Row) (*models.DirectoryIdentity, error) {
	var i models.DirectoryIdentity
	if err := row.Scan(&i.ID, &i.Username, &i.DN, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return nil, err
	}
	return &i, nil
}

// GetIdentityByUsername retrieves an identity and its teams by username.
func (s *Store) GetIdentityByUsername(ctx context.Context, username string) (*models.DirectoryIdentity, error) {
	query := `SELECT ` + identityColumns + ` FROM directory_identities WHERE username = $1`
	return s.getIdentity(ctx, query, username)
}

// GetIdentityByDN retrieves an identity and its teams by distinguished name.
func (s *Store) GetIdentityByDN(ctx context.Context, dn string) (*models.DirectoryIdentity, error) {
	query := `SELECT ` + identityColumns + ` FROM directory_identities WHERE dn = $1`
	return s.getIdentity(ctx, query, dn)
}

func (s *Store) getIdentity(ctx context.Context, query string, arg string) (*models.DirectoryIdentity, error) {
	identity, err := scanIdentity(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}

	identity.Teams, err = s.loadTeams(ctx, s.pool, identity.ID)
	if err != nil {
		return nil, err
	}

	return identity, nil
}

// UpsertIdentity creates or updates an identity keyed by username and replaces its
// memberships, all in one transaction.
func (s *Store) UpsertIdentity(ctx context.Context, identity *models.DirectoryIdentity) (*models.DirectoryIdentity, error) {
	var stored *models.DirectoryIdentity

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO directory_identities (username, dn, created_at, updated_at)
			VALUES ($1, $2, $3, $3)
			ON CONFLICT (username) DO UPDATE
			SET dn = EXCLUDED.dn, updated_at = EXCLUDED.updated_at
			RETURNING ` + identityColumns

		var err error
		stored, err = scanIdentity(tx.QueryRow(ctx, query, identity.Username, identity.DN, time.Now()))
		if err != nil {
			return fmt.Errorf("failed to upsert identity: %w", mapPostgresError(err))
		}

		if _, err := tx.Exec(ctx, `DELETE FROM identity_teams WHERE identity_id = $1`, stored.ID); err != nil {
			return fmt.Errorf("failed to clear memberships: %w", err)
		}

		for _, team := range identity.Teams {
			_, err := tx.Exec(ctx,
				`INSERT INTO identity_teams (identity_id, team_uuid) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				stored.ID, team.UUID)
			if err != nil {
				return fmt.Errorf("failed to add membership: %w", mapPostgresError(err))
			}
		}

		stored.Teams, err = s.loadTeams(ctx, tx, stored.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int64("identity_id", stored.ID).
		Str("username", stored.Username).
		Int("teams", len(stored.Teams)).
		Msg("Upserted directory identity")

	return stored, nil
}

// ListIdentities returns all identities ordered by ID.
func (s *Store) ListIdentities(ctx context.Context) ([]*models.DirectoryIdentity, error) {
	query := `SELECT ` + identityColumns + ` FROM directory_identities ORDER BY identity_id`
	return s.queryIdentities(ctx, query)
}

// DeleteIdentity removes an identity; memberships cascade.
func (s *Store) DeleteIdentity(ctx context.Context, username string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM directory_identities WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("failed to delete identity: %w", mapPostgresError(err))
	}

	if tag.RowsAffected() == 0 {
		return store.ErrIdentityNotFound
	}

	return nil
}

func (s *Store) queryIdentities(ctx context.Context, query string, args ...any) ([]*models.DirectoryIdentity, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query identities: %w", err)
	}

	identities, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.DirectoryIdentity, error) {
		return scanIdentity(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan identities: %w", err)
	}

	for _, identity := range identities {
		identity.Teams, err = s.loadTeams(ctx, s.pool, identity.ID)
		if err != nil {
			return nil, err
		}
	}

	return identities, nil
}

// loadTeams returns the teams an identity is a member of, without access keys.
func (s *Store) loadTeams(ctx context.Context, q querier, identityID int64) ([]*models.Team, error) {
	query := `
		SELECT t.team_uuid, t.name, t.privileged, t.created_at, t.updated_at
		FROM teams t
		JOIN identity_teams it ON it.team_uuid = t.team_uuid
		WHERE it.identity_id = $1
		ORDER BY t.name
	`

	rows, err := q.Query(ctx, query, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query identity teams: %w", err)
	}

	teams, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Team, error) {
		return scanTeam(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan identity teams: %w", err)
	}

	return teams, nil
}
