package rollback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redefinecore/agent/internal/event"
	"github.com/redefinecore/agent/internal/model"
	"github.com/redefinecore/agent/internal/ports"
	"github.com/redefinecore/agent/internal/reconcile"
)

type fakeHandle struct{ name string }

func (h fakeHandle) ClassName() string { return h.name }

type fakeInstance struct {
	typeName     string
	identityHash uint64
}

func (i fakeInstance) Key() (string, uint64) { return i.typeName, i.identityHash }

type fakeVM struct {
	instances   []ports.InstanceHandle
	redefineErr error
	redefineOut ports.RedefineOutcome
}

func (f *fakeVM) SupportsRedefine() bool                               { return true }
func (f *fakeVM) SupportsRetransform() bool                            { return true }
func (f *fakeVM) IsModifiable(ports.LoadedClassHandle) bool            { return true }
func (f *fakeVM) EnumerateLoadedClasses(context.Context) ([]ports.LoadedClassHandle, error) {
	return nil, nil
}
func (f *fakeVM) FindLoaded(context.Context, string) (ports.LoadedClassHandle, bool, error) {
	return nil, false, nil
}
func (f *fakeVM) Redefine(context.Context, []ports.RedefineUnit) (ports.RedefineOutcome, error) {
	if f.redefineErr != nil {
		return ports.RedefineOutcome{}, f.redefineErr
	}
	if f.redefineOut.Kind == 0 && f.redefineOut.Detail == "" {
		return ports.RedefineOutcome{Kind: ports.RedefineOK}, nil
	}
	return f.redefineOut, nil
}
func (f *fakeVM) EnumerateInstances(context.Context, ports.LoadedClassHandle) ([]ports.InstanceHandle, error) {
	return f.instances, nil
}
func (f *fakeVM) InstanceSize(context.Context, ports.InstanceHandle) (int64, error) { return 0, nil }

type fakeFields struct {
	current map[uint64]map[string]any
	writes  map[uint64]map[string]any
}

func (f *fakeFields) Available(context.Context, string) bool { return true }
func (f *fakeFields) ReadFields(_ context.Context, inst ports.InstanceHandle) (map[string]any, error) {
	_, hash := inst.Key()
	return f.current[hash], nil
}
func (f *fakeFields) WriteFields(_ context.Context, inst ports.InstanceHandle, fields map[string]any) error {
	_, hash := inst.Key()
	if f.writes == nil {
		f.writes = make(map[uint64]map[string]any)
	}
	f.writes[hash] = fields
	return nil
}

func newManager(vm *fakeVM, fields reconcile.FieldAccessor, bytecodeStrategy, instanceStrategy ConflictStrategy) *Manager {
	registry := model.NewRegistry()
	loaded := &model.LoadedClass{Name: "Widget", Bytecode: []byte("old"), Generation: 1}
	registry.Register(loaded)
	r := reconcile.New(vm, fields, nil, nil)
	return New(vm, registry, r, fields, bytecodeStrategy, instanceStrategy, nil, nil)
}

func TestRollbackRestoresBytecodeAndInstancesWithNoConflict(t *testing.T) {
	inst := fakeInstance{typeName: "Widget", identityHash: 1}
	vm := &fakeVM{instances: []ports.InstanceHandle{inst}}
	fields := &fakeFields{current: map[uint64]map[string]any{1: {"count": 0}}}
	m := newManager(vm, fields, ForceRollback, AbortOnConflict)

	snapshot := &model.Snapshot{
		ID: "snap-1", ClassName: "Widget", Bytecode: []byte("old"),
		Instances: map[model.InstanceKey]model.InstanceState{
			{TypeName: "Widget", IdentityHash: 1}: {Fields: []model.FieldValue{{Name: "count", Kind: model.FieldValueScalar, Scalar: 0}}},
		},
	}

	out := m.Rollback(context.Background(), Target{ClassName: "Widget", Snapshot: snapshot, Handle: fakeHandle{"Widget"}, AttemptBytecode: []byte("new")}, nil)
	assert.True(t, out.RolledBack)
	assert.True(t, out.RestoredCode)
	assert.True(t, out.RestoredData)
	assert.Equal(t, 0, fields.writes[1]["count"])
}

func TestRollbackAbortsOnBytecodeConflict(t *testing.T) {
	vm := &fakeVM{}
	m := newManager(vm, nil, AbortOnConflict, AbortOnConflict)
	snapshot := &model.Snapshot{ID: "snap-1", ClassName: "Widget", Bytecode: []byte("prior")}

	out := m.Rollback(context.Background(), Target{ClassName: "Widget", Snapshot: snapshot, Handle: fakeHandle{"Widget"}, AttemptBytecode: []byte("new")}, nil)
	require.False(t, out.RolledBack)
	assert.Equal(t, event.RollbackReasonConflict, out.Reason)
}

func TestRollbackManualResolutionOnBytecodeConflict(t *testing.T) {
	vm := &fakeVM{}
	registry := model.NewRegistry()
	loaded := &model.LoadedClass{Name: "Widget", Bytecode: []byte("unrelated")}
	registry.Register(loaded)
	m := New(vm, registry, reconcile.New(vm, nil, nil, nil), nil, ManualResolution, AbortOnConflict, nil, nil)

	snapshot := &model.Snapshot{ID: "snap-1", ClassName: "Widget", Bytecode: []byte("old")}
	out := m.Rollback(context.Background(), Target{ClassName: "Widget", Snapshot: snapshot, Handle: fakeHandle{"Widget"}, AttemptBytecode: []byte("new")}, nil)
	assert.True(t, out.ManualIntervention)
}

func TestRollbackPreferCurrentKeepsBytecode(t *testing.T) {
	vm := &fakeVM{}
	registry := model.NewRegistry()
	loaded := &model.LoadedClass{Name: "Widget", Bytecode: []byte("unrelated")}
	registry.Register(loaded)
	m := New(vm, registry, reconcile.New(vm, nil, nil, nil), nil, PreferCurrent, PreferCurrent, nil, nil)

	snapshot := &model.Snapshot{ID: "snap-1", ClassName: "Widget", Bytecode: []byte("old")}
	out := m.Rollback(context.Background(), Target{ClassName: "Widget", Snapshot: snapshot, Handle: fakeHandle{"Widget"}, AttemptBytecode: []byte("new")}, nil)
	assert.True(t, out.RolledBack)
	assert.False(t, out.RestoredCode)
	assert.Equal(t, []byte("unrelated"), loaded.Bytecode)
}

type failingFields struct{}

func (failingFields) Available(context.Context, string) bool { return true }
func (failingFields) ReadFields(context.Context, ports.InstanceHandle) (map[string]any, error) {
	return nil, nil
}
func (failingFields) WriteFields(context.Context, ports.InstanceHandle, map[string]any) error {
	return errors.New("write rejected")
}

func TestRollbackReportsPartialWhenInstanceRestoreFails(t *testing.T) {
	inst := fakeInstance{typeName: "Widget", identityHash: 1}
	vm := &fakeVM{instances: []ports.InstanceHandle{inst}}
	registry := model.NewRegistry()
	registry.Register(&model.LoadedClass{Name: "Widget", Bytecode: []byte("old")})
	fields := failingFields{}
	m := New(vm, registry, reconcile.New(vm, fields, nil, nil), fields, ForceRollback, ForceRollback, nil, nil)

	snapshot := &model.Snapshot{
		ID: "snap-1", ClassName: "Widget", Bytecode: []byte("old"),
		Instances: map[model.InstanceKey]model.InstanceState{
			{TypeName: "Widget", IdentityHash: 1}: {Fields: []model.FieldValue{{Name: "count", Kind: model.FieldValueScalar, Scalar: 0}}},
		},
	}

	out := m.Rollback(context.Background(), Target{ClassName: "Widget", Snapshot: snapshot, Handle: fakeHandle{"Widget"}, AttemptBytecode: []byte("new")}, nil)
	assert.True(t, out.Partial)
	assert.Equal(t, event.RollbackReasonPartial, out.Reason)
}

func TestRollbackMergeChangesPreservesDivergedFields(t *testing.T) {
	inst := fakeInstance{typeName: "Widget", identityHash: 1}
	vm := &fakeVM{instances: []ports.InstanceHandle{inst}}
	fields := &fakeFields{current: map[uint64]map[string]any{1: {"count": 99, "name": "widget"}}}
	m := newManager(vm, fields, ForceRollback, MergeChanges)

	snapshot := &model.Snapshot{
		ID: "snap-1", ClassName: "Widget", Bytecode: []byte("old"),
		Instances: map[model.InstanceKey]model.InstanceState{
			{TypeName: "Widget", IdentityHash: 1}: {Fields: []model.FieldValue{
				{Name: "count", Kind: model.FieldValueScalar, Scalar: 0},
				{Name: "name", Kind: model.FieldValueScalar, Scalar: "widget"},
			}},
		},
	}

	out := m.Rollback(context.Background(), Target{ClassName: "Widget", Snapshot: snapshot, Handle: fakeHandle{"Widget"}, AttemptBytecode: []byte("new")}, nil)
	assert.True(t, out.RolledBack)
	// count diverged (99 != 0) since the snapshot, so it is left alone; name matched so it is restored.
	_, countWritten := fields.writes[1]["count"]
	assert.False(t, countWritten)
	assert.Equal(t, "widget", fields.writes[1]["name"])
}

func TestCascadeWalksChainToRootWhenNoTarget(t *testing.T) {
	vm := &fakeVM{}
	registry := model.NewRegistry()
	loaded := &model.LoadedClass{Name: "Widget", Bytecode: []byte("v3")}
	registry.Register(loaded)
	m := New(vm, registry, reconcile.New(vm, nil, nil, nil), nil, ForceRollback, ForceRollback, nil, nil)

	chain := model.NewChain(16)
	chain.Push(&model.Snapshot{ID: "s1", ClassName: "Widget", Bytecode: []byte("v0")})
	chain.Push(&model.Snapshot{ID: "s2", ClassName: "Widget", Bytecode: []byte("v1")})
	chain.Push(&model.Snapshot{ID: "s3", ClassName: "Widget", Bytecode: []byte("v2")})

	outcomes := m.Cascade(context.Background(), "Widget", chain, nil, fakeHandle{"Widget"}, []byte("v3"), nil)
	require.Len(t, outcomes, 3)
	for _, out := range outcomes {
		assert.True(t, out.RolledBack)
	}
	assert.Equal(t, []byte("v0"), loaded.Bytecode)
}

func TestCascadeStopsAtTarget(t *testing.T) {
	vm := &fakeVM{}
	registry := model.NewRegistry()
	loaded := &model.LoadedClass{Name: "Widget", Bytecode: []byte("v3")}
	registry.Register(loaded)
	m := New(vm, registry, reconcile.New(vm, nil, nil, nil), nil, ForceRollback, ForceRollback, nil, nil)

	chain := model.NewChain(16)
	chain.Push(&model.Snapshot{ID: "s1", ClassName: "Widget", Bytecode: []byte("v0")})
	target := &model.Snapshot{ID: "s2", ClassName: "Widget", Bytecode: []byte("v1")}
	chain.Push(target)
	chain.Push(&model.Snapshot{ID: "s3", ClassName: "Widget", Bytecode: []byte("v2")})

	outcomes := m.Cascade(context.Background(), "Widget", chain, target, fakeHandle{"Widget"}, []byte("v3"), nil)
	require.Len(t, outcomes, 2)
	assert.Equal(t, []byte("v1"), loaded.Bytecode)
}

