// Package redefine implements the Redefinition Coordinator: the single
// actor that drives one class's redefinition attempt from a Validated
// event through VM invocation, reconciliation, and — on failure — rollback
// (spec.md §4.4 "Redefinition Coordinator").
package redefine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/redefinecore/agent/internal/event"
	"github.com/redefinecore/agent/internal/eventbus"
	"github.com/redefinecore/agent/internal/model"
	"github.com/redefinecore/agent/internal/pipeline"
	"github.com/redefinecore/agent/internal/ports"
	"github.com/redefinecore/agent/internal/reconcile"
	"github.com/redefinecore/agent/internal/rollback"
)

// Coordinator owns the attempt state machine for every class. Exactly one
// attempt may be non-terminal per class at a time; Submit decides whether
// a concurrent change coalesces into that attempt or is rejected, per
// Config.Concurrency.
type Coordinator struct {
	cfg        Config
	vm         ports.VMPrimitive
	registry   *model.Registry
	reconciler *reconcile.Reconciler
	rollback   *rollback.Manager
	fields     reconcile.FieldAccessor
	bus        eventbus.Bus
	log        *slog.Logger
	metrics    *Metrics

	chainsMu sync.Mutex
	chains   map[string]*model.Chain

	pendingMu sync.Mutex
	pending   map[string]*model.RedefinitionAttempt
	coalesced map[string]event.ValidatedPayload

	attemptCh chan *attemptJob
	stage     *pipeline.Stage
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

type attemptJob struct {
	attempt *model.RedefinitionAttempt
	payload event.ValidatedPayload
	caused  *event.Event
}

// New constructs a Coordinator and starts its single worker goroutine.
// Callers must also subscribe it to the bus via NewComponent, or call
// Submit directly for out-of-band redefinitions.
func New(cfg Config, vm ports.VMPrimitive, registry *model.Registry, reconciler *reconcile.Reconciler, rollbackMgr *rollback.Manager, fields reconcile.FieldAccessor, bus eventbus.Bus, log *slog.Logger, metrics *Metrics) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = 64
	}
	c := &Coordinator{
		cfg:        cfg,
		vm:         vm,
		registry:   registry,
		reconciler: reconciler,
		rollback:   rollbackMgr,
		fields:     fields,
		bus:        bus,
		log:        log,
		metrics:    metrics,
		chains:     make(map[string]*model.Chain),
		pending:    make(map[string]*model.RedefinitionAttempt),
		coalesced:  make(map[string]event.ValidatedPayload),
		attemptCh:  make(chan *attemptJob, capacity),
		stopCh:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// NewComponent wires a Coordinator onto bus, consuming Validated events.
func NewComponent(cfg Config, bus eventbus.Bus, vm ports.VMPrimitive, registry *model.Registry, reconciler *reconcile.Reconciler, rollbackMgr *rollback.Manager, fields reconcile.FieldAccessor, log *slog.Logger, pipelineMetrics *pipeline.Metrics, coordinatorMetrics *Metrics) (*Coordinator, error) {
	c := New(cfg, vm, registry, reconciler, rollbackMgr, fields, bus, log, coordinatorMetrics)
	stage, err := pipeline.NewStage(bus, pipeline.Config{
		Name:   "redefinition_coordinator",
		Accept: func(t event.Type) bool { return t == event.TypeValidated },
		Handle: func(_ context.Context, evt event.Event) {
			payload, ok := evt.Payload.(event.ValidatedPayload)
			if !ok {
				return
			}
			if _, err := c.Submit(payload, &evt); err != nil {
				c.log.Warn("redefine: submit rejected", "class", payload.NewMetadata.Name, "error", err)
			}
		},
	}, log, pipelineMetrics)
	if err != nil {
		c.Stop()
		return nil, err
	}
	c.stage = stage
	return c, nil
}

// Submit accepts a validated change for processing. When an attempt for
// the same class is already in flight, the configured ConcurrencyPolicy
// decides whether the change coalesces into it or is rejected.
func (c *Coordinator) Submit(payload event.ValidatedPayload, causedBy *event.Event) (string, error) {
	className := payload.NewMetadata.Name

	c.pendingMu.Lock()
	if existing, ok := c.pending[className]; ok && !existing.State.Terminal() {
		if c.cfg.Concurrency == RejectInProgress {
			c.pendingMu.Unlock()
			return "", ErrAlreadyInProgress
		}
		c.coalesced[className] = payload
		id := existing.ID
		c.pendingMu.Unlock()
		return id, nil
	}

	attempt := &model.RedefinitionAttempt{
		ID:            uuid.NewString(),
		ClassName:     className,
		NewMetadata:   payload.NewMetadata,
		State:         model.StatePending,
		CorrelationID: correlationID(causedBy),
		StartedAt:     time.Now(),
	}
	if c.cfg.AttemptDeadline > 0 {
		attempt.Deadline = attempt.StartedAt.Add(c.cfg.AttemptDeadline)
	}
	c.pending[className] = attempt
	c.pendingMu.Unlock()

	job := &attemptJob{attempt: attempt, payload: payload, caused: causedBy}
	select {
	case c.attemptCh <- job:
		return attempt.ID, nil
	default:
		attempt.State = model.StateFailed
		attempt.FailureReason = "attempt queue full"
		c.publish(event.TypeRedefinitionFailed, event.RedefinitionFailedPayload{
			ClassName: className, AttemptID: attempt.ID, Category: event.FailureBackpressure,
		}, causedBy)
		return "", ErrQueueFull
	}
}

// Status returns the current in-flight (or last-seen) attempt for
// className, if any.
func (c *Coordinator) Status(className string) (*model.RedefinitionAttempt, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	a, ok := c.pending[className]
	return a, ok
}

// Stop unsubscribes from the bus if wired via NewComponent and stops the
// worker once its current attempt (if any) ends; attempts still queued are
// not executed.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		if c.stage != nil {
			c.stage.Stop()
		}
		close(c.stopCh)
	})
	c.wg.Wait()
}

func (c *Coordinator) run() {
	defer c.wg.Done()
	for {
		select {
		case job := <-c.attemptCh:
			c.execute(context.Background(), job)
		case <-c.stopCh:
			return
		}
	}
}

func correlationID(causedBy *event.Event) string {
	if causedBy == nil || causedBy.CorrelationID == nil {
		return ""
	}
	return causedBy.CorrelationID.String()
}

func (c *Coordinator) publish(typ event.Type, payload any, causedBy *event.Event) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(event.New(typ, payload, causedBy)); err != nil {
		c.log.Warn("redefine: publish failed", "type", typ, "error", err)
	}
}

func (c *Coordinator) chainFor(className string) *model.Chain {
	c.chainsMu.Lock()
	defer c.chainsMu.Unlock()
	ch, ok := c.chains[className]
	if !ok {
		max := c.cfg.ChainMaxLength
		if max <= 0 {
			max = 16
		}
		ch = model.NewChain(max)
		c.chains[className] = ch
	}
	return ch
}
