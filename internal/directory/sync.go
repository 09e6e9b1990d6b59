package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/hakbot/internal/events"
	"github.com/wolfeidau/hakbot/internal/models"
	"github.com/wolfeidau/hakbot/internal/store"
	"github.com/wolfeidau/hakbot/internal/telemetry"
)

// Result summarises one synchronization pass.
type Result struct {
	Upserted     int
	Removed      int
	UnknownTeams []string
}

// Synchronizer upserts directory users into the identity store and replaces
// their team memberships. Team names the controller does not know are ignored.
type Synchronizer struct {
	source     Source
	identities store.IdentityStore
	teams      store.TeamStore
	prune      bool

	// serializes passes triggered by overlapping events
	mu sync.Mutex
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithPrune removes stored identities that are no longer in the directory.
func WithPrune(prune bool) SyncOption {
	return func(s *Synchronizer) {
		s.prune = prune
	}
}

// NewSynchronizer creates a synchronizer reading from source.
func NewSynchronizer(source Source, identities store.IdentityStore, teams store.TeamStore, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{source: source, identities: identities, teams: teams}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers the synchronizer for sync events on bus.
func (s *Synchronizer) Subscribe(bus *events.Bus) (func(), error) {
	return bus.Subscribe(events.KindSync, "directory", s.HandleEvent)
}

// HandleEvent runs a pass for each SyncEvent.
func (s *Synchronizer) HandleEvent(ctx context.Context, event events.Event) error {
	e, ok := event.(events.SyncEvent)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	result, err := s.Sync(ctx)
	if err != nil {
		telemetry.GetMetrics().SyncErrorsTotal.Add(ctx, 1)
		return fmt.Errorf("directory sync for firing %d: %w", e.Firing, err)
	}

	log.Info().
		Uint64("firing", e.Firing).
		Int("upserted", result.Upserted).
		Int("removed", result.Removed).
		Strs("unknown_teams", result.UnknownTeams).
		Msg("Directory sync complete")

	return nil
}

// Sync performs one pass. Individual entry failures are collected and returned
// together; the remaining entries are still processed.
func (s *Synchronizer) Sync(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	teamsByName := make(map[string]*models.Team)
	unknown := make(map[string]struct{})
	result := &Result{}
	var errs []error

	present := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		present[entry.Username] = struct{}{}

		teams, err := s.resolveTeams(ctx, entry.Teams, teamsByName, unknown)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		_, err = s.identities.UpsertIdentity(ctx, &models.DirectoryIdentity{
			Username: entry.Username,
			DN:       entry.DN,
			Teams:    teams,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to upsert %q: %w", entry.Username, err))
			continue
		}
		result.Upserted++
	}

	telemetry.GetMetrics().IdentitiesSyncedTotal.Add(ctx, int64(result.Upserted))

	if s.prune {
		removed, err := s.pruneMissing(ctx, present)
		result.Removed = removed
		if err != nil {
			errs = append(errs, err)
		}
	}

	for name := range unknown {
		result.UnknownTeams = append(result.UnknownTeams, name)
	}

	return result, errors.Join(errs...)
}

func (s *Synchronizer) resolveTeams(ctx context.Context, names []string, cache map[string]*models.Team, unknown map[string]struct{}) ([]*models.Team, error) {
	teams := make([]*models.Team, 0, len(names))
	for _, name := range names {
		if team, ok := cache[name]; ok {
			teams = append(teams, team)
			continue
		}
		if _, ok := unknown[name]; ok {
			continue
		}

		team, err := s.teams.GetTeamByName(ctx, name)
		if errors.Is(err, store.ErrNotFound) {
			log.Debug().Str("team", name).Msg("Directory references unknown team, ignoring")
			unknown[name] = struct{}{}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up team %q: %w", name, err)
		}

		cache[name] = team
		teams = append(teams, team)
	}
	return teams, nil
}

func (s *Synchronizer) pruneMissing(ctx context.Context, present map[string]struct{}) (int, error) {
	stored, err := s.identities.ListIdentities(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list identities: %w", err)
	}

	removed := 0
	for _, identity := range stored {
		if _, ok := present[identity.Username]; ok {
			continue
		}
		if err := s.identities.DeleteIdentity(ctx, identity.Username); err != nil && !errors.Is(err, store.ErrNotFound) {
			return removed, fmt.Errorf("failed to remove %q: %w", identity.Username, err)
		}
		removed++
		log.Info().Str("username", identity.Username).Msg("Removed identity no longer in directory")
	}
	return removed, nil
}
