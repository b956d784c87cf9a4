// Package eventbus is the single dispatch point every pipeline component
// publishes to and subscribes from (spec.md §2 "Event Bus", §5 "Cross-
// component dispatch is through the Event Bus and never blocks the emitting
// worker").
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redefinecore/agent/internal/event"
)

// Subscriber receives a copy of every event published after it subscribes.
// Handle must not block for long: the bus calls it synchronously from its
// single broadcast worker so that delivery to one subscriber stays ordered
// relative to delivery of the next event, and a slow Handle delays every
// other subscriber.
type Subscriber interface {
	Handle(ctx context.Context, evt event.Event)
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, evt event.Event)

// Handle calls f.
func (f SubscriberFunc) Handle(ctx context.Context, evt event.Event) { f(ctx, evt) }

// Bus is the event dispatch contract used by every component. Components
// depend on this interface, not *DefaultBus, so that tests can substitute a
// synchronous fake.
type Bus interface {
	Publish(evt event.Event) error
	Subscribe(sub Subscriber) (id uint64, err error)
	Unsubscribe(id uint64) error
}

type subscription struct {
	id      uint64
	sub     Subscriber
	removed atomic.Bool
}

// DefaultBus is a single-writer, fan-out event bus: one broadcast worker
// goroutine drains a buffered channel and calls every live subscriber in
// turn, which keeps per-subscriber delivery order FIFO without requiring a
// lock held across subscriber calls.
type DefaultBus struct {
	log     *slog.Logger
	metrics *Metrics

	eventCh chan event.Event
	seq     atomic.Uint64

	mu          sync.RWMutex
	subscribers map[uint64]*subscription

	stopOnce sync.Once
	done     chan struct{}
	stopped  atomic.Bool
}

// Option configures a DefaultBus at construction time.
type Option func(*DefaultBus)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *DefaultBus) { b.log = log }
}

// WithBufferSize overrides the default dispatch channel capacity of 1000.
func WithBufferSize(n int) Option {
	return func(b *DefaultBus) { b.eventCh = make(chan event.Event, n) }
}

// New constructs a DefaultBus and starts its broadcast worker. Callers must
// call Stop to release the worker goroutine.
func New(metrics *Metrics, opts ...Option) *DefaultBus {
	b := &DefaultBus{
		log:         slog.Default(),
		metrics:     metrics,
		eventCh:     make(chan event.Event, 1000),
		subscribers: make(map[uint64]*subscription),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.broadcastWorker()
	return b
}

// Publish enqueues evt for delivery. It never blocks: if the dispatch
// channel is saturated the event is dropped, counted, and ErrChannelFull is
// returned so the caller can decide whether to emit a DroppedEvent of its
// own rather than retry (spec.md §5).
func (b *DefaultBus) Publish(evt event.Event) error {
	if b.stopped.Load() {
		return ErrBusStopped
	}
	select {
	case b.eventCh <- evt:
		if b.metrics != nil {
			b.metrics.eventsTotal.WithLabelValues(string(evt.Type)).Inc()
		}
		return nil
	default:
		if b.metrics != nil {
			b.metrics.dropped.Inc()
		}
		return ErrChannelFull
	}
}

// Subscribe registers sub to receive every subsequently published event and
// returns an id usable with Unsubscribe.
func (b *DefaultBus) Subscribe(sub Subscriber) (uint64, error) {
	if b.stopped.Load() {
		return 0, ErrBusStopped
	}
	id := b.seq.Add(1)
	b.mu.Lock()
	b.subscribers[id] = &subscription{id: id, sub: sub}
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.subscribersActive.Inc()
	}
	return id, nil
}

// Unsubscribe removes a subscriber by id.
func (b *DefaultBus) Unsubscribe(id uint64) error {
	b.mu.Lock()
	s, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if !ok {
		return ErrSubscriberClosed
	}
	s.removed.Store(true)
	if b.metrics != nil {
		b.metrics.subscribersActive.Dec()
	}
	return nil
}

// ActiveSubscribers reports the current subscriber count.
func (b *DefaultBus) ActiveSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stop rejects further publishes, lets the broadcast worker deliver the
// events already buffered, and waits for it to exit.
func (b *DefaultBus) Stop() {
	b.stopOnce.Do(func() {
		b.stopped.Store(true)
		close(b.eventCh)
	})
	<-b.done
}

func (b *DefaultBus) broadcastWorker() {
	defer close(b.done)
	ctx := context.Background()
	for evt := range b.eventCh {
		start := time.Now()
		b.broadcastEvent(ctx, evt)
		if b.metrics != nil {
			b.metrics.broadcastDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// broadcastEvent delivers evt to every live subscriber, one at a time, in
// map iteration order (not fixed). A panicking subscriber is logged and does not prevent
// delivery to the remaining subscribers or cause the worker to exit.
func (b *DefaultBus) broadcastEvent(ctx context.Context, evt event.Event) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if s.removed.Load() {
			continue
		}
		b.deliverOne(ctx, s, evt)
	}
}

func (b *DefaultBus) deliverOne(ctx context.Context, s *subscription, evt event.Event) {
	defer func() {
		if r := recover(); r != nil {
			if b.metrics != nil {
				b.metrics.dispatchErrors.WithLabelValues("panic").Inc()
			}
			b.log.Error("eventbus: subscriber panicked",
				slog.Uint64("subscriber_id", s.id),
				slog.String("event_type", string(evt.Type)),
				slog.Any("recover", r))
		}
	}()
	s.sub.Handle(ctx, evt)
}
