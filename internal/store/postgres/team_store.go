package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/hakbot/internal/models"
	"github.com/wolfeidau/hakbot/internal/store"
)

const teamColumns = `team_uuid, name, privileged, created_at, updated_at`

func scanTeam(row pgx.Row) (*models.Team, error) {
	var t models.Team
	if err := row.Scan(&t.UUID, &t.TeamName, &t.Privileged, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTeam creates a new team in the database.
func (s *Store) CreateTeam(ctx context.Context, team *models.Team) error {
	query := `
		INSERT INTO teams (` + teamColumns + `)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, query,
		team.UUID,
		team.TeamName,
		team.Privileged,
		team.CreatedAt,
		team.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create team: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("team_uuid", team.UUID.String()).
		Str("name", team.TeamName).
		Bool("privileged", team.Privileged).
		Msg("Created team")

	return nil
}

// GetTeam retrieves a team with its access keys.
func (s *Store) GetTeam(ctx context.Context, teamUUID uuid.UUID) (*models.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE team_uuid = $1`

	team, err := scanTeam(s.pool.QueryRow(ctx, query, teamUUID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to get team: %w", err)
	}

	team.AccessKeys, err = s.listAccessKeys(ctx, s.pool, teamUUID)
	if err != nil {
		return nil, err
	}

	return team, nil
}

// GetTeamByName retrieves a team by name, without access keys.
func (s *Store) GetTeamByName(ctx context.Context, name string) (*models.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE name = $1`

	team, err := scanTeam(s.pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to get team by name: %w", err)
	}

	return team, nil
}

// ListTeams returns all teams ordered by name.
func (s *Store) ListTeams(ctx context.Context) ([]*models.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams ORDER BY name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var teams []*models.Team
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, team)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating teams: %w", err)
	}

	return teams, nil
}

// UpdateTeam updates the name and privileged flag of an existing team.
func (s *Store) UpdateTeam(ctx context.Context, team *models.Team) error {
	query := `
		UPDATE teams
		SET name = $2, privileged = $3, updated_at = $4
		WHERE team_uuid = $1
	`

	tag, err := s.pool.Exec(ctx, query, team.UUID, team.TeamName, team.Privileged, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update team: %w", mapPostgresError(err))
	}

	if tag.RowsAffected() == 0 {
		return store.ErrTeamNotFound
	}

	return nil
}

// DeleteTeam deletes the team's access keys, then the team, in one transaction.
// Memberships are removed by the ON DELETE CASCADE on identity_teams.
func (s *Store) DeleteTeam(ctx context.Context, teamUUID uuid.UUID) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		// lock the team row so concurrent key creation waits for the delete
		var locked uuid.UUID
		err := tx.QueryRow(ctx, `SELECT team_uuid FROM teams WHERE team_uuid = $1 FOR UPDATE`, teamUUID).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrTeamNotFound
			}
			return fmt.Errorf("failed to lock team: %w", err)
		}

		keys, err := tx.Exec(ctx, `DELETE FROM access_keys WHERE team_uuid = $1`, teamUUID)
		if err != nil {
			return fmt.Errorf("failed to delete team access keys: %w", mapPostgresError(err))
		}

		if _, err := tx.Exec(ctx, `DELETE FROM teams WHERE team_uuid = $1`, teamUUID); err != nil {
			return fmt.Errorf("failed to delete team: %w", mapPostgresError(err))
		}

		log.Debug().
			Str("team_uuid", teamUUID.String()).
			Int64("access_keys", keys.RowsAffected()).
			Msg("Deleted team")

		return nil
	})
}

// ListMembers returns the identities belonging to a team.
func (s *Store) ListMembers(ctx context.Context, teamUUID uuid.UUID) ([]*models.DirectoryIdentity, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM teams WHERE team_uuid = $1)`, teamUUID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check team: %w", err)
	}
	if !exists {
		return nil, store.ErrTeamNotFound
	}

	query := `
		SELECT i.identity_id, i.username, i.dn, i.created_at, i.updated_at
		FROM directory_identities i
		JOIN identity_teams it ON it.identity_id = i.identity_id
		WHERE it.team_uuid = $1
		ORDER BY i.identity_id
	`

	return s.queryIdentities(ctx, query, teamUUID)
}
