package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type otherEvent struct{}

func (otherEvent) Kind() Kind { return "other" }

func TestBus_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	defer func() { require.NoError(t, bus.Close(ctx)) }()

	received := make(chan SyncEvent, 1)
	_, err := bus.Subscribe(KindSync, "test", func(ctx context.Context, event Event) error {
		received <- event.(SyncEvent)
		return nil
	})
	require.NoError(t, err)

	firedAt := time.Now()
	n, err := bus.Publish(ctx, SyncEvent{FiredAt: firedAt, Firing: 1})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	select {
	case got := <-received:
		require.Equal(t, uint64(1), got.Firing)
		require.True(t, got.FiredAt.Equal(firedAt))
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_RoutesByKind(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()

	var syncCalls atomic.Int32
	_, err := bus.Subscribe(KindSync, "sync", func(ctx context.Context, event Event) error {
		syncCalls.Add(1)
		return nil
	})
	require.NoError(t, err)

	n, err := bus.Publish(ctx, otherEvent{})
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.NoError(t, bus.Close(ctx))
	require.Equal(t, int32(0), syncCalls.Load())
}

func TestBus_PublisherDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(WithQueueSize(1))

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	_, err := bus.Subscribe(KindSync, "slow", func(ctx context.Context, event Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	require.NoError(t, err)

	// first event occupies the handler, second fills the queue, third is dropped
	n, err := bus.Publish(ctx, SyncEvent{Firing: 1})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	<-started

	n, err = bus.Publish(ctx, SyncEvent{Firing: 2})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = bus.Publish(ctx, SyncEvent{Firing: 3})
	require.NoError(t, err)
	require.Equal(t, 0, n)

	close(release)
	require.NoError(t, bus.Close(ctx))
}

func TestBus_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()

	var calls atomic.Int32
	unsubscribe, err := bus.Subscribe(KindSync, "test", func(ctx context.Context, event Event) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)

	unsubscribe()
	unsubscribe()

	n, err := bus.Publish(ctx, SyncEvent{})
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.NoError(t, bus.Close(ctx))
	require.Equal(t, int32(0), calls.Load())
}

func TestBus_HandlerFailuresAreContained(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()

	var mu sync.Mutex
	var seen []uint64
	_, err := bus.Subscribe(KindSync, "flaky", func(ctx context.Context, event Event) error {
		e := event.(SyncEvent)
		mu.Lock()
		seen = append(seen, e.Firing)
		mu.Unlock()
		switch e.Firing {
		case 1:
			return errors.New("boom")
		case 2:
			panic("kaboom")
		}
		return nil
	})
	require.NoError(t, err)

	for i := uint64(1); i <= 3; i++ {
		_, err := bus.Publish(ctx, SyncEvent{Firing: i})
		require.NoError(t, err)
	}

	require.NoError(t, bus.Close(ctx))
	require.Equal(t, []uint64{1, 2, 3}, seen)
}

func TestBus_Close(t *testing.T) {
	ctx := context.Background()

	t.Run("drains queued events", func(t *testing.T) {
		bus := NewBus()
		var calls atomic.Int32
		_, err := bus.Subscribe(KindSync, "test", func(ctx context.Context, event Event) error {
			time.Sleep(5 * time.Millisecond)
			calls.Add(1)
			return nil
		})
		require.NoError(t, err)

		for range 5 {
			_, err := bus.Publish(ctx, SyncEvent{})
			require.NoError(t, err)
		}

		require.NoError(t, bus.Close(ctx))
		require.Equal(t, int32(5), calls.Load())
	})

	t.Run("rejects use after close", func(t *testing.T) {
		bus := NewBus()
		require.NoError(t, bus.Close(ctx))
		require.NoError(t, bus.Close(ctx))

		_, err := bus.Publish(ctx, SyncEvent{})
		require.ErrorIs(t, err, ErrBusClosed)

		_, err = bus.Subscribe(KindSync, "late", func(ctx context.Context, event Event) error { return nil })
		require.ErrorIs(t, err, ErrBusClosed)
	})

	t.Run("deadline cancels handler context", func(t *testing.T) {
		bus := NewBus()
		started := make(chan struct{})
		_, err := bus.Subscribe(KindSync, "stuck", func(ctx context.Context, event Event) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
		require.NoError(t, err)

		_, err = bus.Publish(ctx, SyncEvent{})
		require.NoError(t, err)
		<-started

		closeCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, bus.Close(closeCtx), context.DeadlineExceeded)
	})
}
