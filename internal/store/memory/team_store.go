package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/hakbot/internal/models"
	"github.com/wolfeidau/hakbot/internal/store"
)

// CreateTeam creates a new team in memory.
func (s *Store) CreateTeam(ctx context.Context, team *models.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.teams[team.UUID]; exists {
		return store.ErrTeamAlreadyExists
	}
	if _, exists := s.teamsByName[team.TeamName]; exists {
		return store.ErrTeamAlreadyExists
	}

	s.teams[team.UUID] = cloneTeam(team)
	s.teamsByName[team.TeamName] = team.UUID

	return nil
}

// GetTeam retrieves a team with its access keys.
func (s *Store) GetTeam(ctx context.Context, teamUUID uuid.UUID) (*models.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	team, ok := s.teams[teamUUID]
	if !ok {
		return nil, store.ErrTeamNotFound
	}

	clone := cloneTeam(team)
	clone.AccessKeys = s.keysForTeam(teamUUID)

	return clone, nil
}

// GetTeamByName retrieves a team by name, without access keys.
func (s *Store) GetTeamByName(ctx context.Context, name string) (*models.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	teamUUID, ok := s.teamsByName[name]
	if !ok {
		return nil, store.ErrTeamNotFound
	}

	return cloneTeam(s.teams[teamUUID]), nil
}

// ListTeams returns all teams ordered by name.
func (s *Store) ListTeams(ctx context.Context) ([]*models.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Team, 0, len(s.teams))
	for _, t := range s.teams {
		result = append(result, cloneTeam(t))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TeamName < result[j].TeamName
	})

	return result, nil
}

// UpdateTeam updates the name and privileged flag of an existing team.
func (s *Store) UpdateTeam(ctx context.Context, team *models.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.teams[team.UUID]
	if !ok {
		return store.ErrTeamNotFound
	}

	if existing.TeamName != team.TeamName {
		if _, taken := s.teamsByName[team.TeamName]; taken {
			return store.ErrTeamAlreadyExists
		}
		delete(s.teamsByName, existing.TeamName)
		s.teamsByName[team.TeamName] = team.UUID
	}

	existing.TeamName = team.TeamName
	existing.Privileged = team.Privileged
	existing.UpdatedAt = time.Now()

	return nil
}

// DeleteTeam removes the team's keys and memberships, then the team itself, under one lock.
func (s *Store) DeleteTeam(ctx context.Context, teamUUID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	team, ok := s.teams[teamUUID]
	if !ok {
		return store.ErrTeamNotFound
	}

	s.deleteKeysForTeam(teamUUID)

	for _, rec := range s.identities {
		rec.teams = slices.DeleteFunc(rec.teams, func(id uuid.UUID) bool {
			return id == teamUUID
		})
	}

	delete(s.teamsByName, team.TeamName)
	delete(s.teams, teamUUID)

	return nil
}

// ListMembers returns the identities belonging to a team ordered by ID.
func (s *Store) ListMembers(ctx context.Context, teamUUID uuid.UUID) ([]*models.DirectoryIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.teams[teamUUID]; !ok {
		return nil, store.ErrTeamNotFound
	}

	var result []*models.DirectoryIdentity
	for _, rec := range s.identities {
		if slices.Contains(rec.teams, teamUUID) {
			result = append(result, s.loadIdentity(rec))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}
