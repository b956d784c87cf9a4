package model

import "sync"

// LoadedClass is the core's weak view of the VM's currently-loaded class.
// The VM owns the class; this struct is refreshed on each successful
// redefinition and read by many. It is mutated through Apply, which takes
// the struct's own lock; the Coordinator and the Rollback Manager call
// Apply from the Coordinator's single worker and do not take Registry.Lock.
type LoadedClass struct {
	mu         sync.RWMutex
	Name       string
	Bytecode   []byte
	Metadata   ClassMetadata
	Generation uint64
}

// Snapshot returns a value copy of the loaded class's current state,
// safe to read concurrently with in-flight mutation.
func (c *LoadedClass) Snapshot() (bytecode []byte, meta ClassMetadata, generation uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]byte, len(c.Bytecode))
	copy(out, c.Bytecode)
	return out, c.Metadata, c.Generation
}

// Apply installs new bytecode/metadata and increments the generation
// counter. Called by the Coordinator after a successful VM redefinition,
// or by the Rollback Manager when restoring a pre-image.
func (c *LoadedClass) Apply(bytecode []byte, meta ClassMetadata) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Bytecode = bytecode
	c.Metadata = meta
	c.Generation++
	return c.Generation
}

// Registry tracks LoadedClass values and hands out a per-class mutex via
// Lock. No component in this module takes that mutex; redefinitions are
// serialized by the Coordinator's single worker.
type Registry struct {
	mu      sync.Mutex
	classes map[string]*LoadedClass
	locks   map[string]*sync.Mutex
}

// NewRegistry constructs an empty class registry.
func NewRegistry() *Registry {
	return &Registry{
		classes: make(map[string]*LoadedClass),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Register installs or replaces a LoadedClass by name.
func (r *Registry) Register(lc *LoadedClass) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes[lc.Name] = lc
}

// Get returns the LoadedClass for name, or nil if not loaded.
func (r *Registry) Get(name string) *LoadedClass {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.classes[name]
}

// Lock returns the per-class mutex for name, creating it on first use.
func (r *Registry) Lock(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	return l
}
