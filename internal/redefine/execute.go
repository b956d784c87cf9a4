package redefine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/redefinecore/agent/internal/event"
	"github.com/redefinecore/agent/internal/model"
	"github.com/redefinecore/agent/internal/ports"
	"github.com/redefinecore/agent/internal/reconcile"
	"github.com/redefinecore/agent/internal/resilience"
	"github.com/redefinecore/agent/internal/rollback"
	"github.com/redefinecore/agent/internal/validate"
)

// execute drives one attempt through Validating -> Snapshotting ->
// Redefining -> Reconciling -> a terminal state, publishing every event
// spec.md §6 requires along the way.
func (c *Coordinator) execute(ctx context.Context, job *attemptJob) {
	attempt := job.attempt
	className := attempt.ClassName
	start := time.Now()

	if c.metrics != nil {
		c.metrics.attemptsTotal.WithLabelValues(className).Inc()
		defer func() {
			c.metrics.attemptSeconds.WithLabelValues(className).Observe(time.Since(start).Seconds())
		}()
	}

	attempt.Transition(model.StateValidating)

	loaded := c.registry.Get(className)
	handle, found, err := c.vm.FindLoaded(ctx, className)
	if err != nil || !found || loaded == nil {
		c.fail(attempt, event.FailureNotLoaded, "class not loaded in VM", job.caused)
		c.finish(attempt)
		return
	}
	if reasons := validate.Check(attempt.NewMetadata, loaded); len(reasons) > 0 {
		c.fail(attempt, event.FailureVmRejected, string(reasons[0].Kind), job.caused)
		c.finish(attempt)
		return
	}

	attempt.Transition(model.StateSnapshotting)
	bytecode, metadata, _ := loaded.Snapshot()
	instances, snapErr := c.captureInstances(ctx, handle)
	if snapErr != nil {
		c.fail(attempt, event.FailureInternal, snapErr.Error(), job.caused)
		c.finish(attempt)
		return
	}

	snapshot := &model.Snapshot{
		ID:        uuid.NewString(),
		ClassName: className,
		Bytecode:  bytecode,
		Metadata:  metadata,
		Instances: instances,
		Timestamp: time.Now(),
	}
	attempt.PreImage = snapshot
	chain := c.chainFor(className)
	chain.Push(snapshot)

	if attempt.Expired(time.Now()) {
		chain.PopHead()
		c.fail(attempt, event.FailureTimeout, "attempt deadline exceeded before redefine", job.caused)
		c.finish(attempt)
		return
	}

	attempt.Transition(model.StateRedefining)
	c.publish(event.TypeRedefinitionStarted, event.RedefinitionStartedPayload{ClassName: className, AttemptID: attempt.ID}, job.caused)

	outcome, redefErr := c.vm.Redefine(ctx, []ports.RedefineUnit{{Handle: handle, Bytecode: job.payload.NewBytecode}})
	if redefErr != nil {
		category := classifyVMError(redefErr)
		c.fail(attempt, category, redefErr.Error(), job.caused)
		if category != event.FailureInternal {
			chain.PopHead()
		} else if c.cfg.RollbackOnInternalError {
			c.attemptRollback(ctx, attempt, snapshot, handle, job)
		}
		c.finish(attempt)
		return
	}

	switch outcome.Kind {
	case ports.RedefineRejected:
		chain.PopHead()
		c.fail(attempt, event.FailureVmRejected, outcome.Detail, job.caused)
		c.finish(attempt)
		return
	case ports.RedefineNotLoaded:
		chain.PopHead()
		c.fail(attempt, event.FailureNotLoaded, outcome.Detail, job.caused)
		c.finish(attempt)
		return
	case ports.RedefineInternalError:
		c.fail(attempt, event.FailureInternal, outcome.Detail, job.caused)
		if c.cfg.RollbackOnInternalError {
			c.attemptRollback(ctx, attempt, snapshot, handle, job)
		}
		c.finish(attempt)
		return
	}

	newGen := loaded.Apply(job.payload.NewBytecode, job.payload.NewMetadata)
	attempt.Transition(model.StateReconciling)

	strategy := reconcile.ParseStrategy(c.cfg.DefaultStrategy)
	reconcileOutcome := c.reconciler.Reconcile(ctx, className, strategy, snapshot, handle, newGen)

	attempt.Transition(model.StateSucceeded)
	c.publish(event.TypeRedefinitionSucceeded, event.RedefinitionSucceededPayload{
		ClassName:     className,
		AttemptID:     attempt.ID,
		AffectedCount: reconcileOutcome.Updated,
		Duration:      time.Since(start),
		NewGeneration: newGen,
	}, job.caused)

	if reconcileOutcome.Succeeded() {
		c.publish(event.TypeInstancesUpdated, event.InstancesUpdatedPayload{
			ClassName: className, Count: reconcileOutcome.Updated, Strategy: string(reconcileOutcome.Strategy),
		}, job.caused)
		c.finish(attempt)
		return
	}

	c.publish(event.TypeInstanceUpdateFailed, event.InstanceUpdateFailedPayload{
		ClassName: className, PartialSuccess: reconcileOutcome.Updated, FirstError: reconcileOutcome.FirstError,
	}, job.caused)
	c.attemptRollback(ctx, attempt, snapshot, handle, job)
	c.finish(attempt)
}

func (c *Coordinator) fail(attempt *model.RedefinitionAttempt, category event.FailureCategory, detail string, causedBy *event.Event) {
	attempt.FailureReason = detail
	attempt.Transition(model.StateFailed)
	if c.metrics != nil {
		c.metrics.failuresTotal.WithLabelValues(string(category)).Inc()
	}
	c.publish(event.TypeRedefinitionFailed, event.RedefinitionFailedPayload{
		ClassName: attempt.ClassName, AttemptID: attempt.ID, Category: category, Detail: detail,
	}, causedBy)
}

func (c *Coordinator) attemptRollback(ctx context.Context, attempt *model.RedefinitionAttempt, snapshot *model.Snapshot, handle ports.LoadedClassHandle, job *attemptJob) {
	if c.rollback == nil || !attempt.Transition(model.StateRollingBack) {
		return
	}
	out := c.rollback.Rollback(ctx, rollback.Target{
		ClassName:       attempt.ClassName,
		Snapshot:        snapshot,
		Handle:          handle,
		AttemptBytecode: job.payload.NewBytecode,
	}, job.caused)
	result := "failed"
	if out.RolledBack {
		result = "succeeded"
	}
	if c.metrics != nil {
		c.metrics.rollbacksTotal.WithLabelValues(result).Inc()
	}
	if out.RolledBack {
		attempt.Transition(model.StateRolledBack)
		return
	}
	attempt.Transition(model.StateRollbackFail)
}

// finish allows any change coalesced while attempt was in flight to run
// as a fresh attempt now that this one has reached a terminal state.
func (c *Coordinator) finish(attempt *model.RedefinitionAttempt) {
	c.pendingMu.Lock()
	payload, ok := c.coalesced[attempt.ClassName]
	if ok {
		delete(c.coalesced, attempt.ClassName)
	}
	c.pendingMu.Unlock()
	if ok {
		if _, err := c.Submit(payload, nil); err != nil {
			c.log.Warn("redefine: coalesced resubmit failed", "class", attempt.ClassName, "error", err)
		}
	}
}

func (c *Coordinator) captureInstances(ctx context.Context, handle ports.LoadedClassHandle) (map[model.InstanceKey]model.InstanceState, error) {
	instances, err := c.vm.EnumerateInstances(ctx, handle)
	if err != nil {
		return nil, err
	}
	out := make(map[model.InstanceKey]model.InstanceState, len(instances))
	for _, inst := range instances {
		typeName, identityHash := inst.Key()
		key := model.InstanceKey{TypeName: typeName, IdentityHash: identityHash}
		var fields []model.FieldValue
		if c.fields != nil && c.fields.Available(ctx, typeName) {
			live, ferr := c.fields.ReadFields(ctx, inst)
			if ferr == nil {
				for name, val := range live {
					if ref, ok := val.(ports.InstanceHandle); ok {
						refType, refHash := ref.Key()
						fields = append(fields, model.FieldValue{
							Name: name, Kind: model.FieldValueReference,
							Ref: model.InstanceKey{TypeName: refType, IdentityHash: refHash},
						})
						continue
					}
					fields = append(fields, model.FieldValue{Name: name, Kind: model.FieldValueScalar, Scalar: val})
				}
			}
		}
		out[key] = model.InstanceState{Key: key, Fields: fields}
	}
	return out, nil
}

// classifyVMError maps a transport/infra-level error from the VM call
// into the failure taxonomy spec.md §7 defines for resource exhaustion,
// distinct from the VM's own RedefineOutcomeKind categories.
func classifyVMError(err error) event.FailureCategory {
	switch resilience.Classify(err) {
	case resilience.CategoryTimeout, resilience.CategoryContext:
		return event.FailureTimeout
	case resilience.CategoryNetwork:
		return event.FailureVmUnavailable
	default:
		return event.FailureInternal
	}
}
