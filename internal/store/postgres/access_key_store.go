package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/wolfeidau/hakbot/internal/models"
	"github.com/wolfeidau/hakbot/internal/store"
)

// CreateAccessKey inserts a new key. The foreign key on team_uuid rejects unknown teams.
func (s *Store) CreateAccessKey(ctx context.Context, key *models.AccessKey) error {
	query := `INSERT INTO access_keys (value, team_uuid, created_at) VALUES ($1, $2, $3)`

	if _, err := s.pool.Exec(ctx, query, key.Value, key.TeamUUID, key.CreatedAt); err != nil {
		err = mapPostgresError(err)
		if errors.Is(err, store.ErrAccessKeyAlreadyExists) || errors.Is(err, store.ErrTeamNotFound) {
			return err
		}
		return fmt.Errorf("failed to create access key: %w", err)
	}

	return nil
}

// GetAccessKey retrieves an access key by exact value.
func (s *Store) GetAccessKey(ctx context.Context, value string) (*models.AccessKey, error) {
	query := `SELECT value, team_uuid, created_at FROM access_keys WHERE value = $1`

	var k models.AccessKey
	err := s.pool.QueryRow(ctx, query, value).Scan(&k.Value, &k.TeamUUID, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAccessKeyNotFound
		}
		return nil, fmt.Errorf("failed to get access key: %w", err)
	}

	return &k, nil
}

// GetTeamByAccessKey resolves the team owning an exact key value.
func (s *Store) GetTeamByAccessKey(ctx context.Context, value string) (*models.Team, error) {
	query := `
		SELECT t.team_uuid, t.name, t.privileged, t.created_at, t.updated_at
		FROM teams t
		JOIN access_keys k ON k.team_uuid = t.team_uuid
		WHERE k.value = $1
	`

	team, err := scanTeam(s.pool.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAccessKeyNotFound
		}
		return nil, fmt.Errorf("failed to get team by access key: %w", err)
	}

	return team, nil
}

// ListAccessKeys returns a team's keys ordered by creation time.
func (s *Store) ListAccessKeys(ctx context.Context, teamUUID uuid.UUID) ([]*models.AccessKey, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM teams WHERE team_uuid = $1)`, teamUUID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check team: %w", err)
	}
	if !exists {
		return nil, store.ErrTeamNotFound
	}

	return s.listAccessKeys(ctx, s.pool, teamUUID)
}

// ReplaceAccessKey swaps the key value in a single conditional UPDATE. The row lock
// taken by the UPDATE serializes concurrent replacements: the loser re-evaluates the
// WHERE clause after the winner commits, matches nothing and gets ErrAccessKeyNotFound.
func (s *Store) ReplaceAccessKey(ctx context.Context, oldValue, newValue string) (*models.AccessKey, error) {
	query := `
		UPDATE access_keys
		SET value = $2, created_at = $3
		WHERE value = $1
		RETURNING value, team_uuid, created_at
	`

	var k models.AccessKey
	err := s.pool.QueryRow(ctx, query, oldValue, newValue, time.Now()).Scan(&k.Value, &k.TeamUUID, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAccessKeyNotFound
		}
		err = mapPostgresError(err)
		if errors.Is(err, store.ErrAccessKeyAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to replace access key: %w", err)
	}

	return &k, nil
}

// DeleteAccessKey deletes a key by value.
func (s *Store) DeleteAccessKey(ctx context.Context, value string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM access_keys WHERE value = $1`, value)
	if err != nil {
		return fmt.Errorf("failed to delete access key: %w", mapPostgresError(err))
	}

	if tag.RowsAffected() == 0 {
		return store.ErrAccessKeyNotFound
	}

	return nil
}

// DeleteAccessKeysByTeam deletes every key owned by a team.
func (s *Store) DeleteAccessKeysByTeam(ctx context.Context, teamUUID uuid.UUID) (int, error) {
	var deleted int64

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var locked uuid.UUID
		err := tx.QueryRow(ctx, `SELECT team_uuid FROM teams WHERE team_uuid = $1 FOR UPDATE`, teamUUID).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrTeamNotFound
			}
			return fmt.Errorf("failed to lock team: %w", err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM access_keys WHERE team_uuid = $1`, teamUUID)
		if err != nil {
			return fmt.Errorf("failed to delete access keys: %w", mapPostgresError(err))
		}

		deleted = tag.RowsAffected()
		return nil
	})

	return int(deleted), err
}

func (s *Store) listAccessKeys(ctx context.Context, q querier, teamUUID uuid.UUID) ([]*models.AccessKey, error) {
	query := `
		SELECT value, team_uuid, created_at
		FROM access_keys
		WHERE team_uuid = $1
		ORDER BY created_at, value
	`

	rows, err := q.Query(ctx, query, teamUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to list access keys: %w", err)
	}

	keys, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.AccessKey, error) {
		var k models.AccessKey
		err := row.Scan(&k.Value, &k.TeamUUID, &k.CreatedAt)
		return &k, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan access keys: %w", err)
	}

	return keys, nil
}
