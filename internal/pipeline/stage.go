// Package pipeline provides the bounded, single-worker actor shell each
// independently-scheduled component runs inside: a component subscribes
// to the Event Bus for the event types it cares about, processes them one
// at a time off its own inbound queue, and is free to publish result
// events back onto the bus without ever blocking the bus's broadcast
// worker (spec.md §5 "one logical worker per component").
package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redefinecore/agent/internal/event"
	"github.com/redefinecore/agent/internal/eventbus"
)

// DefaultQueueCapacity is the bounded inbound queue size spec.md §5
// documents as the default for every component.
const DefaultQueueCapacity = 256

// Config describes one Stage: which event types it accepts and how it
// processes each one.
type Config struct {
	Name          string
	QueueCapacity int
	Accept        func(event.Type) bool
	Handle        func(ctx context.Context, evt event.Event)
}

// Stage is a bounded single-worker component wired onto an eventbus.Bus.
type Stage struct {
	name    string
	bus     eventbus.Bus
	subID   uint64
	queue   chan event.Event
	handle  func(ctx context.Context, evt event.Event)
	log     *slog.Logger
	metrics *Metrics

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewStage subscribes to bus and starts the stage's worker goroutine.
func NewStage(bus eventbus.Bus, cfg Config, log *slog.Logger, metrics *Metrics) (*Stage, error) {
	if log == nil {
		log = slog.Default()
	}
	cap := cfg.QueueCapacity
	if cap <= 0 {
		cap = DefaultQueueCapacity
	}
	s := &Stage{
		name:    cfg.Name,
		bus:     bus,
		queue:   make(chan event.Event, cap),
		handle:  cfg.Handle,
		log:     log,
		metrics: metrics,
		stopCh:  make(chan struct{}),
	}

	id, err := bus.Subscribe(eventbus.SubscriberFunc(func(_ context.Context, evt event.Event) {
		if cfg.Accept != nil && !cfg.Accept(evt.Type) {
			return
		}
		select {
		case s.queue <- evt:
		default:
			s.onBackpressure(evt)
		}
	}))
	if err != nil {
		return nil, err
	}
	s.subID = id

	s.wg.Add(1)
	go s.worker()
	return s, nil
}

func (s *Stage) onBackpressure(evt event.Event) {
	if s.metrics != nil {
		s.metrics.queueFull.WithLabelValues(s.name).Inc()
	}
	s.log.Warn("pipeline: stage queue full, dropping event", "stage", s.name, "event_type", string(evt.Type))
}

func (s *Stage) worker() {
	defer s.wg.Done()
	for {
		select {
		case evt := <-s.queue:
			s.handle(context.Background(), evt)
			if s.metrics != nil {
				s.metrics.processedTotal.WithLabelValues(s.name).Inc()
			}
		case <-s.stopCh:
			for {
				select {
				case evt := <-s.queue:
					s.handle(context.Background(), evt)
					if s.metrics != nil {
						s.metrics.processedTotal.WithLabelValues(s.name).Inc()
					}
				default:
					return
				}
			}
		}
	}
}

// Stop unsubscribes from the bus and waits for the worker to drain and
// exit.
func (s *Stage) Stop() {
	s.stopOnce.Do(func() {
		_ = s.bus.Unsubscribe(s.subID)
		close(s.stopCh)
	})
	s.wg.Wait()
}
