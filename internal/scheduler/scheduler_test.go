package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wolfeidau/hakbot/internal/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingPublisher records published events, optionally taking delay per call,
// and tracks the maximum number of concurrent calls.
type recordingPublisher struct {
	delay time.Duration

	mu       sync.Mutex
	events   []events.SyncEvent
	inflight atomic.Int32
	maxSeen  atomic.Int32
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) (int, error) {
	n := p.inflight.Add(1)
	defer p.inflight.Add(-1)
	for {
		seen := p.maxSeen.Load()
		if n <= seen || p.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	time.Sleep(p.delay)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.(events.SyncEvent))
	return 1, nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func waitDone(t *testing.T, ctx context.Context) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}

func TestFixedRateSchedule(t *testing.T) {
	anchor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first := anchor.Add(time.Minute)
	s := fixedRate{first: first, period: time.Hour}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{name: "before first firing", now: anchor, want: first},
		{name: "at first firing", now: first, want: first.Add(time.Hour)},
		{name: "late handler completion keeps timeline", now: first.Add(59 * time.Minute), want: first.Add(time.Hour)},
		{name: "missed firings are not replayed", now: first.Add(3*time.Hour + time.Second), want: first.Add(4 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, s.Next(tt.now).Equal(tt.want))
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{InitialDelay: -time.Second}
	cfg.ApplyDefaults()
	require.Equal(t, DefaultInitialDelay, cfg.InitialDelay)
	require.Equal(t, DefaultPeriod, cfg.Period)

	cfg = Config{InitialDelay: time.Second, Period: time.Minute}
	cfg.ApplyDefaults()
	require.Equal(t, time.Second, cfg.InitialDelay)
	require.Equal(t, time.Minute, cfg.Period)
}

func TestScheduler_PublishesSyncEvents(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, Config{InitialDelay: 20 * time.Millisecond, Period: 30 * time.Millisecond})
	require.Equal(t, StateStopped, s.State())

	s.Start()
	require.Equal(t, StateScheduled, s.State())

	require.Eventually(t, func() bool { return pub.count() >= 3 }, 2*time.Second, 5*time.Millisecond)

	waitDone(t, s.Shutdown())
	require.Equal(t, StateStopped, s.State())

	pub.mu.Lock()
	defer pub.mu.Unlock()
	for i, e := range pub.events {
		require.Equal(t, uint64(i+1), e.Firing)
		if i > 0 {
			require.False(t, e.FiredAt.Before(pub.events[i-1].FiredAt))
		}
	}
}

func TestScheduler_SlowFiringIsSkippedNotQueued(t *testing.T) {
	const period = 20 * time.Millisecond
	pub := &recordingPublisher{delay: 3 * period}
	s := New(pub, Config{InitialDelay: period, Period: period})

	s.Start()
	time.Sleep(12 * period)
	waitDone(t, s.Shutdown())

	// roughly one firing every three periods gets through
	require.Positive(t, pub.count())
	require.Less(t, pub.count(), 11)
	require.Equal(t, int32(1), pub.maxSeen.Load())
}

func TestScheduler_NoPublishAfterShutdown(t *testing.T) {
	const period = 10 * time.Millisecond
	pub := &recordingPublisher{}
	s := New(pub, Config{InitialDelay: period, Period: period})

	s.Start()
	require.Eventually(t, func() bool { return pub.count() >= 1 }, time.Second, time.Millisecond)

	ctx := s.Shutdown()
	after := pub.count()
	waitDone(t, ctx)

	time.Sleep(5 * period)
	require.Equal(t, after, pub.count())
}

func TestScheduler_ShutdownWaitsForInFlightPublish(t *testing.T) {
	const delay = 100 * time.Millisecond
	pub := &recordingPublisher{delay: delay}
	s := New(pub, Config{InitialDelay: time.Millisecond, Period: time.Hour})

	s.Start()
	require.Eventually(t, func() bool { return pub.inflight.Load() == 1 }, time.Second, time.Millisecond)

	ctx := s.Shutdown()
	require.Equal(t, 1, pub.count())
	waitDone(t, ctx)
	require.Equal(t, 1, pub.count())
}

func TestScheduler_ShutdownBeforeStart(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, Config{InitialDelay: time.Millisecond, Period: time.Millisecond})

	waitDone(t, s.Shutdown())

	s.Start()
	require.Equal(t, StateStopped, s.State())
	time.Sleep(10 * time.Millisecond)
	require.Zero(t, pub.count())
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, Config{InitialDelay: time.Hour, Period: time.Hour})

	s.Start()
	s.Start()
	require.Equal(t, StateScheduled, s.State())
	require.Len(t, s.cron.Entries(), 1)

	waitDone(t, s.Shutdown())
	require.Zero(t, pub.count())
}

func TestScheduler_WithBus(t *testing.T) {
	bus := events.NewBus()
	received := make(chan events.SyncEvent, 4)
	_, err := bus.Subscribe(events.KindSync, "test", func(ctx context.Context, event events.Event) error {
		select {
		case received <- event.(events.SyncEvent):
		default:
		}
		return nil
	})
	require.NoError(t, err)

	s := New(bus, Config{InitialDelay: 10 * time.Millisecond, Period: time.Hour})
	s.Start()

	select {
	case e := <-received:
		require.Equal(t, uint64(1), e.Firing)
	case <-time.After(2 * time.Second):
		t.Fatal("sync event not received")
	}

	waitDone(t, s.Shutdown())
	require.NoError(t, bus.Close(context.Background()))
}
