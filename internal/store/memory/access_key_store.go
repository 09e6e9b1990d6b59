package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/hakbot/internal/models"
	"github.com/wolfeidau/hakbot/internal/store"
)

// CreateAccessKey stores a new access key for an existing team.
func (s *Store) CreateAccessKey(ctx context.Context, key *models.AccessKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.teams[key.TeamUUID]; !ok {
		return store.ErrTeamNotFound
	}
	if _, exists := s.keys[key.Value]; exists {
		return store.ErrAccessKeyAlreadyExists
	}

	s.keys[key.Value] = cloneKey(key)

	return nil
}

// GetAccessKey retrieves an access key by exact value.
func (s *Store) GetAccessKey(ctx context.Context, value string) (*models.AccessKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[value]
	if !ok {
		return nil, store.ErrAccessKeyNotFound
	}

	return cloneKey(key), nil
}

// GetTeamByAccessKey resolves the team owning an exact key value.
func (s *Store) GetTeamByAccessKey(ctx context.Context, value string) (*models.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[value]
	if !ok {
		return nil, store.ErrAccessKeyNotFound
	}

	team, ok := s.teams[key.TeamUUID]
	if !ok {
		// orphaned keys cannot exist while DeleteTeam holds the lock, treat as missing
		return nil, store.ErrAccessKeyNotFound
	}

	return cloneTeam(team), nil
}

// ListAccessKeys returns a team's keys ordered by creation time.
func (s *Store) ListAccessKeys(ctx context.Context, teamUUID uuid.UUID) ([]*models.AccessKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.teams[teamUUID]; !ok {
		return nil, store.ErrTeamNotFound
	}

	return s.keysForTeam(teamUUID), nil
}

// ReplaceAccessKey swaps oldValue for newValue under the write lock.
func (s *Store) ReplaceAccessKey(ctx context.Context, oldValue, newValue string) (*models.AccessKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.keys[oldValue]
	if !ok {
		return nil, store.ErrAccessKeyNotFound
	}
	if _, exists := s.keys[newValue]; exists {
		return nil, store.ErrAccessKeyAlreadyExists
	}

	replacement := &models.AccessKey{
		Value:     newValue,
		TeamUUID:  old.TeamUUID,
		CreatedAt: time.Now(),
	}

	delete(s.keys, oldValue)
	s.keys[newValue] = replacement

	return cloneKey(replacement), nil
}

// DeleteAccessKey deletes a key by value.
func (s *Store) DeleteAccessKey(ctx context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[value]; !ok {
		return store.ErrAccessKeyNotFound
	}

	delete(s.keys, value)

	return nil
}

// DeleteAccessKeysByTeam deletes every key owned by a team.
func (s *Store) DeleteAccessKeysByTeam(ctx context.Context, teamUUID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.teams[teamUUID]; !ok {
		return 0, store.ErrTeamNotFound
	}

	return s.deleteKeysForTeam(teamUUID), nil
}

// keysForTeam returns detached copies of a team's keys. Callers must hold mu.
func (s *Store) keysForTeam(teamUUID uuid.UUID) []*models.AccessKey {
	var result []*models.AccessKey
	for _, k := range s.keys {
		if k.TeamUUID == teamUUID {
			result = append(result, cloneKey(k))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Value < result[j].Value
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result
}

// deleteKeysForTeam removes a team's keys. Callers must hold the write lock.
func (s *Store) deleteKeysForTeam(teamUUID uuid.UUID) int {
	deleted := 0
	for value, k := range s.keys {
		if k.TeamUUID == teamUUID {
			delete(s.keys, value)
			deleted++
		}
	}
	return deleted
}
