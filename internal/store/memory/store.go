package memory

import (
	"sync"

	"github.com/google/uuid"
	"github.com/wolfeidau/hakbot/internal/models"
	"github.com/wolfeidau/hakbot/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store implements store.Store using in-memory storage.
// A single lock covers identities, teams and keys so that cascading deletes and
// key replacement are atomic. Data is lost on restart.
type Store struct {
	mu sync.RWMutex

	teams       map[uuid.UUID]*models.Team // team uuid -> Team (without keys)
	teamsByName map[string]uuid.UUID       // team name -> team uuid

	identities   map[int64]*identityRecord // id -> identity
	byUsername   map[string]int64          // username -> id
	byDN         map[string]int64          // dn -> id
	nextIdentity int64

	keys map[string]*models.AccessKey // value -> AccessKey
}

type identityRecord struct {
	identity models.DirectoryIdentity // Teams is always nil here
	teams    []uuid.UUID
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		teams:       make(map[uuid.UUID]*models.Team),
		teamsByName: make(map[string]uuid.UUID),
		identities:  make(map[int64]*identityRecord),
		byUsername:  make(map[string]int64),
		byDN:        make(map[string]int64),
		keys:        make(map[string]*models.AccessKey),
	}
}

// cloneTeam copies a team without its access keys. Callers must hold mu.
func cloneTeam(t *models.Team) *models.Team {
	clone := *t
	clone.AccessKeys = nil
	return &clone
}

func cloneKey(k *models.AccessKey) *models.AccessKey {
	clone := *k
	return &clone
}

// loadIdentity builds a detached identity with its teams. Callers must hold mu.
func (s *Store) loadIdentity(rec *identityRecord) *models.DirectoryIdentity {
	identity := rec.identity
	identity.Teams = make([]*models.Team, 0, len(rec.teams))
	for _, teamUUID := range rec.teams {
		if team, ok := s.teams[teamUUID]; ok {
			identity.Teams = append(identity.Teams, cloneTeam(team))
		}
	}
	return &identity
}
