// Package scheduler periodically publishes directory sync events.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/hakbot/internal/events"
	"github.com/wolfeidau/hakbot/internal/telemetry"
)

const (
	DefaultInitialDelay = time.Minute
	DefaultPeriod       = 6 * time.Hour
)

// State of the scheduler timeline.
type State int32

const (
	StateStopped State = iota
	StateScheduled
	StateFiring
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateFiring:
		return "firing"
	default:
		return "stopped"
	}
}

// Publisher is the part of the event bus the scheduler needs.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) (int, error)
}

// Config controls the firing timeline.
type Config struct {
	InitialDelay time.Duration
	Period       time.Duration
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
}

// Scheduler fires once after InitialDelay and then every Period, publishing a
// SyncEvent each time. Firings never overlap: one that comes due while the
// previous is still running is skipped, not queued.
type Scheduler struct {
	cfg       Config
	publisher Publisher
	cron      *cron.Cron

	running atomic.Bool
	firings atomic.Uint64

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a stopped scheduler.
func New(publisher Publisher, cfg Config) *Scheduler {
	cfg.ApplyDefaults()

	logger := newCronLogger()
	return &Scheduler{
		cfg:       cfg,
		publisher: publisher,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
	}
}

// Start anchors the timeline at now and begins scheduling. Calling it more
// than once, or after Shutdown, has no effect.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return
	}
	s.started = true

	first := time.Now().Add(s.cfg.InitialDelay)
	s.cron.Schedule(fixedRate{first: first, period: s.cfg.Period}, cron.FuncJob(s.fire))
	s.cron.Start()

	log.Info().
		Time("first_fire", first).
		Dur("period", s.cfg.Period).
		Msg("Sync scheduler started")
}

// Shutdown stops future firings. No event is published after Shutdown returns,
// so a publish already in progress is waited for before it returns. The
// returned context is done once the cron runner has fully stopped.
func (s *Scheduler) Shutdown() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.stopped = true
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.stopped = true
	log.Info().Msg("Sync scheduler shutting down")
	return s.cron.Stop()
}

// State reports where the scheduler is in its timeline.
func (s *Scheduler) State() State {
	if s.running.Load() {
		return StateFiring
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started && !s.stopped {
		return StateScheduled
	}
	return StateStopped
}

// Firings returns the number of firings that published an event.
func (s *Scheduler) Firings() uint64 {
	return s.firings.Load()
}

func (s *Scheduler) fire() {
	ctx := context.Background()
	m := telemetry.GetMetrics()

	if !s.running.CompareAndSwap(false, true) {
		m.SyncSkippedTotal.Add(ctx, 1)
		log.Warn().Msg("Previous sync firing still running, skipping")
		return
	}
	defer s.running.Store(false)

	// holding mu across publish keeps Shutdown from returning mid-publish
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	firing := s.firings.Add(1)
	event := events.SyncEvent{FiredAt: time.Now(), Firing: firing}

	n, err := s.publisher.Publish(ctx, event)
	if err != nil {
		log.Error().Err(err).Uint64("firing", firing).Msg("Failed to publish sync event")
		return
	}

	m.SyncPublishedTotal.Add(ctx, 1)
	log.Info().Uint64("firing", firing).Int("subscribers", n).Msg("Sync event published")
}
