package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/hakbot/internal/models"
	"github.com/wolfeidau/hakbot/internal/store"
)

// GetIdentityByUsername retrieves an identity and its teams by username.
func (s *Store) GetIdentityByUsername(ctx context.Context, username string) (*models.DirectoryIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, store.ErrIdentityNotFound
	}

	return s.loadIdentity(s.identities[id]), nil
}

// GetIdentityByDN retrieves an identity and its teams by distinguished name.
func (s *Store) GetIdentityByDN(ctx context.Context, dn string) (*models.DirectoryIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byDN[dn]
	if !ok {
		return nil, store.ErrIdentityNotFound
	}

	return s.loadIdentity(s.identities[id]), nil
}

// UpsertIdentity creates or updates an identity keyed by username and replaces its memberships.
func (s *Store) UpsertIdentity(ctx context.Context, identity *models.DirectoryIdentity) (*models.DirectoryIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	teams := make([]uuid.UUID, 0, len(identity.Teams))
	seen := make(map[uuid.UUID]struct{}, len(identity.Teams))
	for _, t := range identity.Teams {
		if _, ok := s.teams[t.UUID]; !ok {
			return nil, store.ErrTeamNotFound
		}
		// a membership is a set, matching the unique key in postgres
		if _, dup := seen[t.UUID]; dup {
			continue
		}
		seen[t.UUID] = struct{}{}
		teams = append(teams, t.UUID)
	}

	now := time.Now()

	id, exists := s.byUsername[identity.Username]
	if !exists {
		// DN must stay unique across identities
		if _, taken := s.byDN[identity.DN]; taken {
			return nil, store.ErrIdentityAlreadyExists
		}

		s.nextIdentity++
		id = s.nextIdentity
		s.identities[id] = &identityRecord{
			identity: models.DirectoryIdentity{
				ID:        id,
				Username:  identity.Username,
				DN:        identity.DN,
				CreatedAt: now,
				UpdatedAt: now,
			},
			teams: teams,
		}
		s.byUsername[identity.Username] = id
		s.byDN[identity.DN] = id

		return s.loadIdentity(s.identities[id]), nil
	}

	rec := s.identities[id]
	if rec.identity.DN != identity.DN {
		if other, taken := s.byDN[identity.DN]; taken && other != id {
			return nil, store.ErrIdentityAlreadyExists
		}
		delete(s.byDN, rec.identity.DN)
		rec.identity.DN = identity.DN
		s.byDN[identity.DN] = id
	}
	rec.identity.UpdatedAt = now
	rec.teams = teams

	return s.loadIdentity(rec), nil
}

// ListIdentities returns all identities ordered by ID.
func (s *Store) ListIdentities(ctx context.Context) ([]*models.DirectoryIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.DirectoryIdentity, 0, len(s.identities))
	for _, rec := range s.identities {
		result = append(result, s.loadIdentity(rec))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// DeleteIdentity removes an identity and its memberships.
func (s *Store) DeleteIdentity(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUsername[username]
	if !ok {
		return store.ErrIdentityNotFound
	}

	delete(s.byDN, s.identities[id].identity.DN)
	delete(s.byUsername, username)
	delete(s.identities, id)

	return nil
}
