package event

import (
	"time"

	"github.com/redefinecore/agent/internal/model"
)

// ArtifactChangedPayload carries a debounced filesystem change.
type ArtifactChangedPayload struct {
	Artifact        model.ClassArtifact
	LikelyMeaningful bool
}

// DroppedEventPayload records a raw notification dropped by backpressure.
type DroppedEventPayload struct {
	Path   string
	Reason string
}

// WatchDegradedPayload reports a filesystem error during ingestion.
type WatchDegradedPayload struct {
	Path string
	Err  string
}

// MetadataExtractedPayload carries successfully parsed class metadata.
type MetadataExtractedPayload struct {
	Artifact model.ClassArtifact
	Metadata model.ClassMetadata
	CacheHit bool
}

// ExtractionFailureReason enumerates why extraction failed (spec.md §4.2).
type ExtractionFailureReason string

const (
	ReasonTruncated       ExtractionFailureReason = "Truncated"
	ReasonUnsupportedForm ExtractionFailureReason = "UnsupportedFormat"
	ReasonMalformed       ExtractionFailureReason = "Malformed"
	ReasonTooLarge        ExtractionFailureReason = "TooLarge"
)

// ExtractionFailedPayload reports a failed metadata extraction.
type ExtractionFailedPayload struct {
	Artifact model.ClassArtifact
	Reason   ExtractionFailureReason
}

// ValidatedPayload carries both metadata values and the new bytecode for
// handoff to the Redefinition Coordinator.
type ValidatedPayload struct {
	OldMetadata model.ClassMetadata
	NewMetadata model.ClassMetadata
	NewBytecode []byte
}

// RejectionReasonKind enumerates the redefinability rejection reasons
// (spec.md §4.3).
type RejectionReasonKind string

const (
	ReasonClassNameMismatch     RejectionReasonKind = "ClassNameMismatch"
	ReasonSupertypeChanged      RejectionReasonKind = "SupertypeChanged"
	ReasonInterfaceSetChanged   RejectionReasonKind = "InterfaceSetChanged"
	ReasonFieldAdded            RejectionReasonKind = "FieldAdded"
	ReasonFieldRemoved          RejectionReasonKind = "FieldRemoved"
	ReasonFieldTypeChanged      RejectionReasonKind = "FieldTypeChanged"
	ReasonMethodAdded           RejectionReasonKind = "MethodAdded"
	ReasonMethodRemoved         RejectionReasonKind = "MethodRemoved"
	ReasonMethodSignatureChange RejectionReasonKind = "MethodSignatureChanged"
	ReasonNotLoaded             RejectionReasonKind = "NotLoaded"
)

// RejectionReason pairs a rejection kind with the offending field/method
// name, where applicable.
type RejectionReason struct {
	Kind   RejectionReasonKind
	Detail string
}

// ValidationRejectedPayload carries all rejection reasons found.
type ValidationRejectedPayload struct {
	ClassName string
	Reasons   []RejectionReason
}

// RedefinitionStartedPayload marks the start of a VM redefinition call.
type RedefinitionStartedPayload struct {
	ClassName string
	AttemptID string
}

// RedefinitionSucceededPayload reports a completed VM redefinition.
type RedefinitionSucceededPayload struct {
	ClassName       string
	AttemptID       string
	AffectedCount   int
	Duration        time.Duration
	NewGeneration   uint64
}

// FailureCategory enumerates VM-reported redefinition failure categories
// (spec.md §4.4) plus the resource-error categories from §7.
type FailureCategory string

const (
	FailureVmRejected   FailureCategory = "VmRejected"
	FailureNotLoaded    FailureCategory = "NotLoaded"
	FailureInternal     FailureCategory = "Internal"
	FailureTimeout      FailureCategory = "Timeout"
	FailureBackpressure FailureCategory = "Backpressure"
	FailureVmUnavailable FailureCategory = "VmUnavailable"
)

// RedefinitionFailedPayload reports a failed VM redefinition attempt.
type RedefinitionFailedPayload struct {
	ClassName string
	AttemptID string
	Category  FailureCategory
	Detail    string
}

// InstancesUpdatedPayload reports a fully successful reconciliation.
type InstancesUpdatedPayload struct {
	ClassName string
	Count     int
	Strategy  string
}

// InstanceUpdateFailedPayload reports a best-effort reconciliation with at
// least one per-instance failure.
type InstanceUpdateFailedPayload struct {
	ClassName      string
	PartialSuccess int
	FirstError     string
}

// RolledBackPayload reports a completed rollback.
type RolledBackPayload struct {
	ClassName    string
	SnapshotID   string
	RestoredCode bool
	RestoredData bool
}

// RollbackFailureReason enumerates why a rollback could not complete.
type RollbackFailureReason string

const (
	RollbackReasonConflict RollbackFailureReason = "Conflict"
	RollbackReasonPartial  RollbackFailureReason = "Partial"
)

// RollbackFailedPayload reports a failed or partial rollback.
type RollbackFailedPayload struct {
	ClassName string
	Reason    RollbackFailureReason
	Partial   bool
}

// ManualInterventionRequiredPayload is emitted by the ManualResolution
// conflict-resolution strategy.
type ManualInterventionRequiredPayload struct {
	ClassName  string
	SnapshotID string
}

// SinkDegradedPayload reports sustained EventSink delivery failure.
type SinkDegradedPayload struct {
	DroppedCount int
	LastError    string
}

// CriticalInternalErrorPayload reports an internal invariant violation
// (e.g. an illegal state transition or a cyclic snapshot chain).
type CriticalInternalErrorPayload struct {
	Component string
	Detail    string
}
