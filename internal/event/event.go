// Package event defines the pipeline's currency: a stable envelope and
// enumerated type set carried by the Event Bus between components
// (spec.md §3 Event, §6 "Event payloads").
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type is the stable, enumerated set of event payload kinds the core may
// emit: spec.md §6's set plus CriticalInternalError. It is never extended
// ad hoc.
type Type string

const (
	TypeArtifactChanged           Type = "ArtifactChanged"
	TypeDroppedEvent              Type = "DroppedEvent"
	TypeWatchDegraded             Type = "WatchDegraded"
	TypeMetadataExtracted         Type = "MetadataExtracted"
	TypeExtractionFailed          Type = "ExtractionFailed"
	TypeValidated                 Type = "Validated"
	TypeValidationRejected        Type = "ValidationRejected"
	TypeRedefinitionStarted       Type = "RedefinitionStarted"
	TypeRedefinitionSucceeded     Type = "RedefinitionSucceeded"
	TypeRedefinitionFailed        Type = "RedefinitionFailed"
	TypeInstancesUpdated          Type = "InstancesUpdated"
	TypeInstanceUpdateFailed      Type = "InstanceUpdateFailed"
	TypeRolledBack                Type = "RolledBack"
	TypeRollbackFailed            Type = "RollbackFailed"
	TypeManualInterventionRequired Type = "ManualInterventionRequired"
	TypeSinkDegraded              Type = "SinkDegraded"
	TypeCriticalInternalError     Type = "CriticalInternalError"
)

// Event is the pipeline's envelope. Payload carries the type-specific
// detail by value (e.g. ArtifactChangedPayload); causation/correlation ids are
// nil for events with no upstream cause (e.g. the very first
// ArtifactChanged in an attempt has a correlation id but no causation id).
type Event struct {
	ID            uuid.UUID
	Type          Type
	Timestamp     time.Time
	CausationID   *uuid.UUID
	CorrelationID *uuid.UUID
	Payload       any
}

// New constructs an event with a fresh id and the current time.
func New(typ Type, payload any, causedBy *Event) Event {
	e := Event{
		ID:        uuid.New(),
		Type:      typ,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	if causedBy != nil {
		id := causedBy.ID
		e.CausationID = &id
		e.CorrelationID = causedBy.CorrelationID
	}
	return e
}

// WithCorrelation sets the event's correlation id, returning the event for
// chaining. Used to start a new correlation group (e.g. the first event of
// a redefinition attempt).
func (e Event) WithCorrelation(id uuid.UUID) Event {
	e.CorrelationID = &id
	return e
}
