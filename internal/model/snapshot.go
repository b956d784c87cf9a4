package model

import "time"

// InstanceKey identifies a live instance stably across a snapshot/restore
// cycle even when instance field-maps form cyclic object graphs: instances
// are referenced by (type name, identity hash) rather than by pointer, so a
// restore can reconstruct the graph in two passes (allocate/look-up, then
// wire references). See spec.md §9 "Cyclic object graphs in snapshots".
type InstanceKey struct {
	TypeName     string
	IdentityHash uint64
}

// FieldValue is a single field's preserved value. Kind distinguishes a
// plain scalar from a reference to another snapshotted instance, which is
// stored as an InstanceKey rather than an embedded value.
type FieldValue struct {
	Name   string
	Kind   FieldValueKind
	Scalar any
	Ref    InstanceKey
}

// FieldValueKind tags a FieldValue's payload.
type FieldValueKind int

const (
	// FieldValueScalar marks Scalar as the payload.
	FieldValueScalar FieldValueKind = iota
	// FieldValueReference marks Ref as the payload.
	FieldValueReference
)

// InstanceState is one instance's preserved field state.
type InstanceState struct {
	Key    InstanceKey
	Fields []FieldValue
}

// Snapshot is the pre-image captured immediately before a redefinition
// attempt: the class's old bytecode plus a copy of each live instance's
// field state. Snapshots are immutable once constructed and chained,
// most-recent first, per class.
type Snapshot struct {
	ID          string
	ClassName   string
	Bytecode    []byte
	Metadata    ClassMetadata
	Instances   map[InstanceKey]InstanceState
	Timestamp   time.Time
	Previous    *Snapshot
	Validated   bool
	consumed    bool
}

// MarkConsumed flags the snapshot as retained-for-forensics-only after a
// rollback has restored it (spec.md §4.6 "Chain bookkeeping").
func (s *Snapshot) MarkConsumed() { s.consumed = true }

// Consumed reports whether the snapshot has been marked consumed.
func (s *Snapshot) Consumed() bool { return s.consumed }

// Chain is a bounded, oldest-first-evicting snapshot chain for one class.
type Chain struct {
	maxLength int
	head      *Snapshot
	length    int
}

// NewChain constructs a chain bounded to maxLength snapshots.
func NewChain(maxLength int) *Chain {
	if maxLength <= 0 {
		maxLength = 16
	}
	return &Chain{maxLength: maxLength}
}

// Push appends a new snapshot as the chain head, evicting the oldest
// snapshot if the chain is already at capacity. Never panics on overflow
// (spec.md §8 "Snapshot chain at maximum length... never throws").
func (c *Chain) Push(s *Snapshot) {
	s.Previous = c.head
	c.head = s
	c.length++
	if c.length > c.maxLength {
		c.truncateOldest()
	}
}

// truncateOldest walks to the tail and detaches it, keeping the chain
// acyclic and bounded.
func (c *Chain) truncateOldest() {
	if c.head == nil {
		return
	}
	nodes := make([]*Snapshot, 0, c.length)
	for n := c.head; n != nil; n = n.Previous {
		nodes = append(nodes, n)
	}
	if len(nodes) <= c.maxLength {
		return
	}
	cut := nodes[c.maxLength-1]
	cut.Previous = nil
	c.length = c.maxLength
}

// PopHead discards the current head snapshot without consuming it,
// used when a redefinition attempt is rejected or the target class was
// not loaded: no VM mutation occurred, so the tentative pre-image is
// removed rather than retained as forensic history (spec.md §4.4).
func (c *Chain) PopHead() {
	if c.head == nil {
		return
	}
	c.head = c.head.Previous
	c.length--
}

// Head returns the most recent snapshot, the rollback target.
func (c *Chain) Head() *Snapshot {
	return c.head
}

// Len reports the number of snapshots currently retained.
func (c *Chain) Len() int {
	return c.length
}

// Promote replaces the chain head with s, used after a successful rollback
// makes the restored snapshot the new head (spec.md §4.6).
func (c *Chain) Promote(s *Snapshot) {
	s.Previous = c.head
	c.head = s
}
