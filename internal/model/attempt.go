package model

import "time"

// AttemptState is a RedefinitionAttempt's position in the state machine
// described in spec.md §4.4. At most one non-terminal state may exist per
// class name at any instant.
type AttemptState string

const (
	StatePending      AttemptState = "Pending"
	StateValidating   AttemptState = "Validating"
	StateSnapshotting AttemptState = "Snapshotting"
	StateRedefining   AttemptState = "Redefining"
	StateReconciling  AttemptState = "Reconciling"
	StateSucceeded    AttemptState = "Succeeded"
	StateFailed       AttemptState = "Failed"
	StateRollingBack  AttemptState = "RollingBack"
	StateRolledBack   AttemptState = "RolledBack"
	StateRollbackFail AttemptState = "RollbackFailed"
)

// Terminal reports whether state has no further transitions.
func (s AttemptState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateRolledBack, StateRollbackFail:
		return true
	default:
		return false
	}
}

// RedefinitionAttempt is the running state of a single redefinition of one
// class, from the moment an ArtifactChanged event is accepted for
// processing through to a terminal outcome.
type RedefinitionAttempt struct {
	ID            string
	ClassName     string
	Artifact      ClassArtifact
	NewMetadata   ClassMetadata
	PreImage      *Snapshot
	State         AttemptState
	CorrelationID string
	StartedAt     time.Time
	Deadline      time.Time
	FailureReason string
}

// Expired reports whether the attempt's wall-clock deadline has passed.
func (a *RedefinitionAttempt) Expired(now time.Time) bool {
	return !a.Deadline.IsZero() && now.After(a.Deadline)
}

// transitions enumerates the state machine's legal edges so that an
// illegal transition is refused by Transition. The refusal is only its
// false return value: no CriticalInternalError event is published for it,
// and the Coordinator does not check that value. Both Failed and Succeeded may still move to
// RollingBack: a reconcile failure after a successful redefinition is
// rolled back just like a failed redefinition is. RolledBack and
// RollbackFailed have no outgoing edges and are absent from this table, so
// any transition attempted from them fails via the lookup miss below.
var transitions = map[AttemptState]map[AttemptState]bool{
	StatePending:      {StateValidating: true, StateFailed: true},
	StateValidating:   {StateSnapshotting: true, StateFailed: true},
	StateSnapshotting: {StateRedefining: true, StateFailed: true},
	StateRedefining:   {StateReconciling: true, StateSucceeded: true, StateFailed: true},
	StateReconciling:  {StateSucceeded: true, StateFailed: true},
	StateFailed:       {StateRollingBack: true},
	StateSucceeded:    {StateRollingBack: true},
	StateRollingBack:  {StateRolledBack: true, StateRollbackFail: true},
}

// Transition moves the attempt to next if the edge is legal, returning
// false (and leaving the attempt untouched) otherwise.
func (a *RedefinitionAttempt) Transition(next AttemptState) bool {
	allowed, ok := transitions[a.State]
	if !ok || !allowed[next] {
		return false
	}
	a.State = next
	return true
}
