package rollback

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/redefinecore/agent/internal/event"
	"github.com/redefinecore/agent/internal/eventbus"
	"github.com/redefinecore/agent/internal/model"
	"github.com/redefinecore/agent/internal/ports"
	"github.com/redefinecore/agent/internal/reconcile"
	"github.com/redefinecore/agent/internal/resilience"
)

// transientErrorChecker retries only timeout/network-classified errors: a
// rejected or malformed redefinition call would fail identically on retry.
type transientErrorChecker struct{}

func (transientErrorChecker) IsRetryable(err error) bool {
	switch resilience.Classify(err) {
	case resilience.CategoryTimeout, resilience.CategoryNetwork:
		return true
	default:
		return false
	}
}

// Target names the class, snapshot, and live handle a rollback call acts
// against. AttemptBytecode is the bytecode the failed attempt tried to
// install, used to distinguish "normal undo" from a genuine conflict.
type Target struct {
	ClassName       string
	Snapshot        *model.Snapshot
	Handle          ports.LoadedClassHandle
	AttemptBytecode []byte
}

// Outcome is the result of one Rollback call.
type Outcome struct {
	RolledBack         bool
	RestoredCode       bool
	RestoredData       bool
	Partial            bool
	ManualIntervention bool
	Reason             event.RollbackFailureReason
}

// Manager restores a class's bytecode and live instance state to a prior
// snapshot, applying the configured conflict-resolution strategy when the
// current state has diverged from that snapshot (spec.md §4.6).
type Manager struct {
	vm         ports.VMPrimitive
	registry   *model.Registry
	reconciler *reconcile.Reconciler
	fields     reconcile.FieldAccessor

	bytecodeStrategy ConflictStrategy
	instanceStrategy ConflictStrategy

	bus eventbus.Bus
	log *slog.Logger
}

// New constructs a Manager. fields may be nil, in which case instance-level
// conflict detection always reports no conflict and ReflectiveRestore via
// reconciler still runs (it owns its own nil-accessor handling).
func New(vm ports.VMPrimitive, registry *model.Registry, reconciler *reconcile.Reconciler, fields reconcile.FieldAccessor, bytecodeStrategy, instanceStrategy ConflictStrategy, bus eventbus.Bus, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		vm:               vm,
		registry:         registry,
		reconciler:       reconciler,
		fields:           fields,
		bytecodeStrategy: bytecodeStrategy,
		instanceStrategy: instanceStrategy,
		bus:              bus,
		log:              log,
	}
}

// Rollback restores t.Snapshot's bytecode and instance state for t.ClassName,
// applying each target's conflict-resolution strategy independently. Staged
// atomicity: bytecode is restored first; instance restore is attempted only
// when the bytecode stage did not abort (spec.md §4.6 "staged atomicity").
func (m *Manager) Rollback(ctx context.Context, t Target, causedBy *event.Event) Outcome {
	loaded := m.registry.Get(t.ClassName)
	if loaded == nil {
		return Outcome{Reason: event.RollbackReasonConflict}
	}

	currentBytecode, _, _ := loaded.Snapshot()
	bytecodeConflict := !bytes.Equal(currentBytecode, t.Snapshot.Bytecode) && !bytes.Equal(currentBytecode, t.AttemptBytecode)

	codeRestored, abort, manual := m.resolveBytecode(ctx, loaded, t, bytecodeConflict)
	if manual {
		m.publishManualIntervention(t.ClassName, t.Snapshot.ID, causedBy)
		return Outcome{ManualIntervention: true}
	}
	if abort {
		m.publish(event.TypeRollbackFailed, event.RollbackFailedPayload{ClassName: t.ClassName, Reason: event.RollbackReasonConflict}, causedBy)
		return Outcome{Reason: event.RollbackReasonConflict}
	}

	instanceConflict := m.anyFieldDiverged(ctx, t.Handle, t.Snapshot)
	dataRestored, instFailed, instManual := m.resolveInstances(ctx, t, instanceConflict)
	if instManual {
		m.publishManualIntervention(t.ClassName, t.Snapshot.ID, causedBy)
		return Outcome{RestoredCode: codeRestored, ManualIntervention: true}
	}
	if instFailed {
		out := Outcome{RestoredCode: codeRestored, Partial: codeRestored, Reason: event.RollbackReasonPartial}
		m.publish(event.TypeRollbackFailed, event.RollbackFailedPayload{ClassName: t.ClassName, Reason: event.RollbackReasonPartial, Partial: codeRestored}, causedBy)
		return out
	}

	t.Snapshot.MarkConsumed()
	m.publish(event.TypeRolledBack, event.RolledBackPayload{ClassName: t.ClassName, SnapshotID: t.Snapshot.ID, RestoredCode: codeRestored, RestoredData: dataRestored}, causedBy)
	return Outcome{RolledBack: true, RestoredCode: codeRestored, RestoredData: dataRestored}
}

// Cascade rolls back through chain in reverse order (most recent first)
// starting at its head, stopping once target has been restored or the
// chain root is reached (spec.md §4.6). className and handle identify the
// live class the chain belongs to; attemptBytecode is passed through to
// each Rollback call as the bytecode the triggering attempt installed.
func (m *Manager) Cascade(ctx context.Context, className string, chain *model.Chain, target *model.Snapshot, handle ports.LoadedClassHandle, attemptBytecode []byte, causedBy *event.Event) []Outcome {
	var outcomes []Outcome
	for s := chain.Head(); s != nil; s = s.Previous {
		out := m.Rollback(ctx, Target{
			ClassName:       className,
			Snapshot:        s,
			Handle:          handle,
			AttemptBytecode: attemptBytecode,
		}, causedBy)
		outcomes = append(outcomes, out)
		if !out.RolledBack {
			break
		}
		if target != nil && s.ID == target.ID {
			break
		}
	}
	return outcomes
}

// resolveBytecode installs t.Snapshot.Bytecode against loaded, honoring the
// configured bytecode conflict strategy when conflict is true. When there
// is no conflict the snapshot is installed unconditionally: that is the
// ordinary undo path, not a contested decision.
func (m *Manager) resolveBytecode(ctx context.Context, loaded *model.LoadedClass, t Target, conflict bool) (restored, abort, manual bool) {
	strategy := m.bytecodeStrategy
	if !conflict {
		strategy = ForceRollback
	}

	switch strategy {
	case AbortOnConflict:
		return false, true, false
	case ManualResolution:
		return false, false, true
	case PreferCurrent:
		return false, false, false
	default: // MergeChanges, PreferRollback, ForceRollback: bytecode is monolithic, install the pre-image.
		var outcome ports.RedefineOutcome
		err := resilience.Do(ctx, resilience.DefaultRetryPolicy(), transientErrorChecker{}, func(ctx context.Context) error {
			var callErr error
			outcome, callErr = m.vm.Redefine(ctx, []ports.RedefineUnit{{Handle: t.Handle, Bytecode: t.Snapshot.Bytecode}})
			return callErr
		})
		if err != nil || outcome.Kind != ports.RedefineOK {
			m.log.Error("rollback bytecode redefine failed", "class", t.ClassName, "error", err)
			return false, false, false
		}
		loaded.Apply(t.Snapshot.Bytecode, t.Snapshot.Metadata)
		return true, false, false
	}
}

// resolveInstances restores live instance field state from t.Snapshot via
// reconciler.Restore, honoring the configured instance conflict strategy.
func (m *Manager) resolveInstances(ctx context.Context, t Target, conflict bool) (restored, failed, manual bool) {
	strategy := m.instanceStrategy
	if !conflict {
		strategy = ForceRollback
	}

	switch strategy {
	case AbortOnConflict:
		return false, true, false
	case ManualResolution:
		return false, false, true
	case PreferCurrent:
		return false, false, false
	case MergeChanges:
		return m.mergeInstances(ctx, t)
	default: // PreferRollback, ForceRollback: overwrite unconditionally.
		updated, failedCount, firstErr := m.reconciler.Restore(ctx, t.Handle, t.Snapshot)
		if failedCount > 0 {
			m.log.Error("rollback instance restore failed", "class", t.ClassName, "failed", failedCount, "error", firstErr)
			return updated > 0, true, false
		}
		return true, false, false
	}
}

// mergeInstances restores only the fields whose live value still matches
// the snapshot's pre-image, leaving fields that diverged since the
// snapshot untouched (spec.md §4.6 "MergeChanges").
func (m *Manager) mergeInstances(ctx context.Context, t Target) (restored, failed, manual bool) {
	if m.fields == nil {
		updated, failedCount, _ := m.reconciler.Restore(ctx, t.Handle, t.Snapshot)
		return updated > 0, failedCount > 0, false
	}

	instances, err := m.vm.EnumerateInstances(ctx, t.Handle)
	if err != nil {
		return false, true, false
	}

	anyFailed := false
	anyRestored := false
	for _, inst := range instances {
		typeName, identityHash := inst.Key()
		key := model.InstanceKey{TypeName: typeName, IdentityHash: identityHash}
		state, ok := t.Snapshot.Instances[key]
		if !ok {
			continue
		}
		current, err := m.fields.ReadFields(ctx, inst)
		if err != nil {
			anyFailed = true
			continue
		}
		merged := make(map[string]any, len(state.Fields))
		for _, fv := range state.Fields {
			if fv.Kind != model.FieldValueScalar {
				continue
			}
			if live, ok := current[fv.Name]; ok && fmt.Sprint(live) != fmt.Sprint(fv.Scalar) {
				continue // diverged since snapshot, leave as-is
			}
			merged[fv.Name] = fv.Scalar
		}
		if len(merged) == 0 {
			continue
		}
		if err := m.fields.WriteFields(ctx, inst, merged); err != nil {
			anyFailed = true
			continue
		}
		anyRestored = true
	}
	return anyRestored, anyFailed, false
}

// anyFieldDiverged reports whether any live instance's current field
// values differ from the snapshot's recorded values, which marks the
// snapshot as conflicted rather than a clean undo target.
func (m *Manager) anyFieldDiverged(ctx context.Context, handle ports.LoadedClassHandle, snapshot *model.Snapshot) bool {
	if m.fields == nil {
		return false
	}
	instances, err := m.vm.EnumerateInstances(ctx, handle)
	if err != nil {
		return false
	}
	for _, inst := range instances {
		typeName, identityHash := inst.Key()
		key := model.InstanceKey{TypeName: typeName, IdentityHash: identityHash}
		state, ok := snapshot.Instances[key]
		if !ok {
			continue
		}
		current, err := m.fields.ReadFields(ctx, inst)
		if err != nil {
			continue
		}
		for _, fv := range state.Fields {
			if fv.Kind != model.FieldValueScalar {
				continue
			}
			if live, ok := current[fv.Name]; ok && fmt.Sprint(live) != fmt.Sprint(fv.Scalar) {
				return true
			}
		}
	}
	return false
}

func (m *Manager) publish(typ event.Type, payload any, causedBy *event.Event) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(event.New(typ, payload, causedBy))
}

func (m *Manager) publishManualIntervention(className, snapshotID string, causedBy *event.Event) {
	m.publish(event.TypeManualInterventionRequired, event.ManualInterventionRequiredPayload{ClassName: className, SnapshotID: snapshotID}, causedBy)
}
