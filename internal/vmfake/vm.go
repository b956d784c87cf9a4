// Package vmfake is an in-memory stand-in for a host VM's redefinition
// primitive, used to wire and exercise the agent outside a real managed
// runtime (spec.md §6 "VMPrimitive").
package vmfake

import (
	"context"
	"sync"

	"github.com/redefinecore/agent/internal/ports"
)

// Handle identifies a class loaded in the fake VM.
type Handle struct {
	name string
}

// ClassName implements ports.LoadedClassHandle.
func (h Handle) ClassName() string { return h.name }

// Instance is a live object of some loaded class, addressed by a stable
// (type, identity) pair so it survives redefinition.
type Instance struct {
	typeName     string
	identityHash uint64
	fields       map[string]any
}

// Key implements ports.InstanceHandle.
func (i *Instance) Key() (string, uint64) { return i.typeName, i.identityHash }

type classEntry struct {
	handle    Handle
	bytecode  []byte
	instances []*Instance
}

// VM is a single-process, in-memory implementation of ports.VMPrimitive
// and reconcile.FieldAccessor: redefining a class just swaps the stored
// bytecode, and instance fields live in a plain map rather than behind
// real reflection.
type VM struct {
	mu       sync.Mutex
	classes  map[string]*classEntry
	nextHash uint64
}

// New constructs an empty fake VM.
func New() *VM {
	return &VM{classes: make(map[string]*classEntry)}
}

// LoadClass registers className as loaded with the given bytecode,
// returning its handle. Calling it again for the same class replaces the
// bytecode without touching existing instances.
func (vm *VM) LoadClass(className string, bytecode []byte) ports.LoadedClassHandle {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	entry, ok := vm.classes[className]
	if !ok {
		entry = &classEntry{handle: Handle{name: className}}
		vm.classes[className] = entry
	}
	entry.bytecode = bytecode
	return entry.handle
}

// NewInstance creates a live instance of className with the given initial
// field values, returning its handle.
func (vm *VM) NewInstance(className string, fields map[string]any) ports.InstanceHandle {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	entry, ok := vm.classes[className]
	if !ok {
		entry = &classEntry{handle: Handle{name: className}}
		vm.classes[className] = entry
	}
	vm.nextHash++
	inst := &Instance{typeName: className, identityHash: vm.nextHash, fields: copyFields(fields)}
	entry.instances = append(entry.instances, inst)
	return inst
}

// SupportsRedefine implements ports.VMPrimitive.
func (vm *VM) SupportsRedefine() bool { return true }

// SupportsRetransform implements ports.VMPrimitive.
func (vm *VM) SupportsRetransform() bool { return false }

// IsModifiable implements ports.VMPrimitive; every loaded class is
// modifiable in the fake.
func (vm *VM) IsModifiable(ports.LoadedClassHandle) bool { return true }

// EnumerateLoadedClasses implements ports.VMPrimitive.
func (vm *VM) EnumerateLoadedClasses(context.Context) ([]ports.LoadedClassHandle, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	out := make([]ports.LoadedClassHandle, 0, len(vm.classes))
	for _, e := range vm.classes {
		out = append(out, e.handle)
	}
	return out, nil
}

// FindLoaded implements ports.VMPrimitive.
func (vm *VM) FindLoaded(_ context.Context, className string) (ports.LoadedClassHandle, bool, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	entry, ok := vm.classes[className]
	if !ok {
		return nil, false, nil
	}
	return entry.handle, true, nil
}

// Redefine implements ports.VMPrimitive, installing each unit's bytecode
// atomically. A unit naming a class not currently loaded yields
// RedefineNotLoaded for the whole call.
func (vm *VM) Redefine(_ context.Context, units []ports.RedefineUnit) (ports.RedefineOutcome, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for _, u := range units {
		if _, ok := vm.classes[u.Handle.ClassName()]; !ok {
			return ports.RedefineOutcome{Kind: ports.RedefineNotLoaded, ClassName: u.Handle.ClassName()}, nil
		}
	}
	for _, u := range units {
		vm.classes[u.Handle.ClassName()].bytecode = u.Bytecode
	}
	return ports.RedefineOutcome{Kind: ports.RedefineOK}, nil
}

// EnumerateInstances implements ports.VMPrimitive.
func (vm *VM) EnumerateInstances(_ context.Context, handle ports.LoadedClassHandle) ([]ports.InstanceHandle, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	entry, ok := vm.classes[handle.ClassName()]
	if !ok {
		return nil, nil
	}
	out := make([]ports.InstanceHandle, len(entry.instances))
	for i, inst := range entry.instances {
		out[i] = inst
	}
	return out, nil
}

// InstanceSize implements ports.VMPrimitive; the fake reports a
// field-count proxy rather than a real byte size.
func (vm *VM) InstanceSize(_ context.Context, instance ports.InstanceHandle) (int64, error) {
	inst, ok := instance.(*Instance)
	if !ok {
		return 0, nil
	}
	return int64(len(inst.fields)) * 8, nil
}

// Available implements reconcile.FieldAccessor: every class is reflectable
// in the fake.
func (vm *VM) Available(context.Context, string) bool { return true }

// ReadFields implements reconcile.FieldAccessor.
func (vm *VM) ReadFields(_ context.Context, instance ports.InstanceHandle) (map[string]any, error) {
	inst, ok := instance.(*Instance)
	if !ok {
		return nil, nil
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return copyFields(inst.fields), nil
}

// WriteFields implements reconcile.FieldAccessor.
func (vm *VM) WriteFields(_ context.Context, instance ports.InstanceHandle, fields map[string]any) error {
	inst, ok := instance.(*Instance)
	if !ok {
		return nil
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for k, v := range fields {
		inst.fields[k] = v
	}
	return nil
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
