package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/hakbot/internal/telemetry"
)

const defaultQueueSize = 16

// ErrBusClosed is returned when publishing to or subscribing on a closed bus.
var ErrBusClosed = errors.New("event bus closed")

// Handler consumes an event. Errors are logged and counted; they never reach the publisher.
type Handler func(ctx context.Context, event Event) error

type subscriber struct {
	name    string
	kind    Kind
	handler Handler
	queue   chan Event
	once    sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.queue) })
}

// Bus delivers events to subscribers asynchronously. Each subscriber has its own
// goroutine and bounded queue; a full queue drops the event for that subscriber
// rather than blocking the publisher.
type Bus struct {
	mu        sync.RWMutex
	subs      map[Kind][]*subscriber
	closed    bool
	queueSize int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithQueueSize sets the per-subscriber queue capacity.
func WithQueueSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		subs:      make(map[Kind][]*subscriber),
		queueSize: defaultQueueSize,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for events of kind and returns a function that
// removes the subscription. Events already queued are still delivered.
func (b *Bus) Subscribe(kind Kind, name string, handler Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &subscriber{
		name:    name,
		kind:    kind,
		handler: handler,
		queue:   make(chan Event, b.queueSize),
	}
	b.subs[kind] = append(b.subs[kind], sub)

	b.wg.Add(1)
	go b.run(sub)

	log.Debug().Str("kind", string(kind)).Str("subscriber", name).Msg("Subscribed to events")

	return func() { b.unsubscribe(sub) }, nil
}

func (b *Bus) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.kind]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.kind] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	sub.stop()
}

// Publish enqueues event for every subscriber of its kind and returns how many
// accepted it. It never blocks on a slow subscriber.
func (b *Bus) Publish(ctx context.Context, event Event) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, ErrBusClosed
	}

	delivered := 0
	for _, sub := range b.subs[event.Kind()] {
		select {
		case sub.queue <- event:
			delivered++
		default:
			telemetry.GetMetrics().EventsDroppedTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("kind", string(event.Kind())),
				attribute.String("subscriber", sub.name),
			))
			log.Error().
				Str("kind", string(event.Kind())).
				Str("subscriber", sub.name).
				Msg("Subscriber queue full, dropping event")
		}
	}

	return delivered, nil
}

func (b *Bus) run(sub *subscriber) {
	defer b.wg.Done()

	for event := range sub.queue {
		b.dispatch(sub, event)
	}
}

func (b *Bus) dispatch(sub *subscriber, event Event) {
	attrs := metric.WithAttributes(
		attribute.String("kind", string(event.Kind())),
		attribute.String("subscriber", sub.name),
	)
	start := time.Now()

	err := safeCall(b.ctx, sub.handler, event)

	m := telemetry.GetMetrics()
	m.HandlerDuration.Record(b.ctx, float64(time.Since(start).Milliseconds()), attrs)
	m.EventsDeliveredTotal.Add(b.ctx, 1, attrs)

	if err != nil {
		log.Error().
			Err(err).
			Str("kind", string(event.Kind())).
			Str("subscriber", sub.name).
			Msg("Event handler failed")
	}
}

// safeCall keeps a panicking handler from taking down its subscriber goroutine.
func safeCall(ctx context.Context, handler Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, event)
}

// Close stops accepting events, drains queued events and waits for subscribers
// to finish. If ctx expires first, handler contexts are cancelled and ctx's
// error is returned once the subscribers exit.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.stop()
		}
	}
	b.subs = nil
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		<-done
		return ctx.Err()
	}
}
