package reconcile

import (
	"context"
	"sync"

	"github.com/redefinecore/agent/internal/model"
	"github.com/redefinecore/agent/internal/ports"
)

// Outcome is the aggregate result of one reconcile call.
type Outcome struct {
	Updated    int
	Failed     int
	FirstError string
	Strategy   Strategy
}

// Succeeded reports whether zero per-instance failures occurred.
func (o Outcome) Succeeded() bool { return o.Failed == 0 }

// Reconciler holds the framework-support hooks needed to carry out each
// strategy and the per-class idempotence guard (spec.md §4.5
// "Idempotence").
type Reconciler struct {
	vm      ports.VMPrimitive
	fields  FieldAccessor
	proxy   ProxyRefresher
	factory FactoryResetter

	mu   sync.Mutex
	done map[string]uint64
}

// New constructs a Reconciler. Any hook may be nil if that strategy is
// unsupported by the host environment.
func New(vm ports.VMPrimitive, fields FieldAccessor, proxy ProxyRefresher, factory FactoryResetter) *Reconciler {
	return &Reconciler{vm: vm, fields: fields, proxy: proxy, factory: factory, done: make(map[string]uint64)}
}

// Reconcile brings every live instance of className into consistency with
// its just-redefined shape, using strategy (or a resolved strategy when
// strategy is Automatic). generation identifies the redefinition this
// call reconciles against; a repeat call for a generation already
// reconciled is a no-op.
func (r *Reconciler) Reconcile(ctx context.Context, className string, strategy Strategy, snapshot *model.Snapshot, handle ports.LoadedClassHandle, generation uint64) Outcome {
	r.mu.Lock()
	if last, ok := r.done[className]; ok && last == generation {
		r.mu.Unlock()
		return Outcome{Strategy: strategy}
	}
	r.mu.Unlock()

	resolved := strategy
	if strategy == StrategyAutomatic {
		resolved = r.resolveAutomatic(ctx, className)
	}

	instances, err := r.vm.EnumerateInstances(ctx, handle)
	if err != nil {
		return Outcome{Failed: 1, FirstError: err.Error(), Strategy: resolved}
	}

	var out Outcome
	out.Strategy = resolved
	switch resolved {
	case StrategyNoUpdate:
		out.Updated = len(instances)
	case StrategyReflectiveRestore:
		out.Updated, out.Failed, out.FirstError = r.reflectiveRestore(ctx, instances, snapshot)
	case StrategyProxyRefresh:
		if r.proxy == nil {
			out.Failed, out.FirstError = len(instances), "no proxy refresher configured"
			break
		}
		for _, inst := range instances {
			if err := r.proxy.Refresh(ctx, inst); err != nil {
				out.Failed++
				if out.FirstError == "" {
					out.FirstError = err.Error()
				}
				continue
			}
			out.Updated++
		}
	case StrategyFactoryReset:
		if r.factory == nil {
			out.Failed, out.FirstError = len(instances), "no factory resetter configured"
			break
		}
		for _, inst := range instances {
			if err := r.factory.Recreate(ctx, inst); err != nil {
				out.Failed++
				if out.FirstError == "" {
					out.FirstError = err.Error()
				}
				continue
			}
			out.Updated++
		}
	}

	r.mu.Lock()
	r.done[className] = generation
	r.mu.Unlock()
	return out
}

// Restore applies ReflectiveRestore against snapshot unconditionally,
// bypassing strategy resolution and the idempotence guard. The Rollback
// Manager uses this to restore instance state from a pre-image (spec.md
// §4.6: "applies ReflectiveRestore against the preserved instance state").
func (r *Reconciler) Restore(ctx context.Context, handle ports.LoadedClassHandle, snapshot *model.Snapshot) (updated, failed int, firstErr string) {
	instances, err := r.vm.EnumerateInstances(ctx, handle)
	if err != nil {
		return 0, 1, err.Error()
	}
	return r.reflectiveRestore(ctx, instances, snapshot)
}

func (r *Reconciler) resolveAutomatic(ctx context.Context, className string) Strategy {
	if r.fields != nil && r.fields.Available(ctx, className) {
		return StrategyReflectiveRestore
	}
	if r.proxy != nil && r.proxy.Available(ctx, className) {
		return StrategyProxyRefresh
	}
	if r.factory != nil && r.factory.Available(ctx, className) {
		return StrategyFactoryReset
	}
	return StrategyNoUpdate
}

func (r *Reconciler) reflectiveRestore(ctx context.Context, instances []ports.InstanceHandle, snapshot *model.Snapshot) (updated, failed int, firstErr string) {
	if r.fields == nil {
		return 0, len(instances), "no field accessor configured"
	}

	keyToHandle := make(map[model.InstanceKey]ports.InstanceHandle, len(instances))
	for _, inst := range instances {
		typeName, identityHash := inst.Key()
		keyToHandle[model.InstanceKey{TypeName: typeName, IdentityHash: identityHash}] = inst
	}

	for _, inst := range instances {
		typeName, identityHash := inst.Key()
		key := model.InstanceKey{TypeName: typeName, IdentityHash: identityHash}
		state, ok := snapshot.Instances[key]
		if !ok {
			updated++
			continue
		}
		fields := make(map[string]any, len(state.Fields))
		for _, fv := range state.Fields {
			if fv.Kind == model.FieldValueScalar {
				fields[fv.Name] = fv.Scalar
				continue
			}
			fields[fv.Name] = keyToHandle[fv.Ref]
		}
		if err := r.fields.WriteFields(ctx, inst, fields); err != nil {
			failed++
			if firstErr == "" {
				firstErr = err.Error()
			}
			continue
		}
		updated++
	}
	return updated, failed, firstErr
}
