package validate

import (
	"context"
	"log/slog"

	"github.com/redefinecore/agent/internal/event"
	"github.com/redefinecore/agent/internal/eventbus"
	"github.com/redefinecore/agent/internal/model"
	"github.com/redefinecore/agent/internal/pipeline"
)

// Component wires Check onto the Event Bus: it consumes MetadataExtracted
// events, looks up the currently loaded class, and publishes Validated or
// ValidationRejected.
type Component struct {
	stage *pipeline.Stage
}

// NewComponent subscribes the validator to bus and starts its worker.
func NewComponent(bus eventbus.Bus, registry *model.Registry, log *slog.Logger, metrics *pipeline.Metrics) (*Component, error) {
	stage, err := pipeline.NewStage(bus, pipeline.Config{
		Name:   "compatibility_validator",
		Accept: func(t event.Type) bool { return t == event.TypeMetadataExtracted },
		Handle: func(_ context.Context, evt event.Event) {
			handle(bus, registry, log, evt)
		},
	}, log, metrics)
	if err != nil {
		return nil, err
	}
	return &Component{stage: stage}, nil
}

func handle(bus eventbus.Bus, registry *model.Registry, log *slog.Logger, evt event.Event) {
	payload, ok := evt.Payload.(event.MetadataExtractedPayload)
	if !ok {
		return
	}
	loaded := registry.Get(payload.Metadata.Name)
	reasons := Check(payload.Metadata, loaded)
	if len(reasons) > 0 {
		out := event.New(event.TypeValidationRejected, event.ValidationRejectedPayload{
			ClassName: payload.Metadata.Name,
			Reasons:   reasons,
		}, &evt)
		if err := bus.Publish(out); err != nil && log != nil {
			log.Warn("validate: failed to publish ValidationRejected", "error", err)
		}
		return
	}

	_, oldMeta, _ := loaded.Snapshot()
	out := event.New(event.TypeValidated, event.ValidatedPayload{
		OldMetadata: oldMeta,
		NewMetadata: payload.Metadata,
		NewBytecode: payload.Artifact.Bytes,
	}, &evt)
	if err := bus.Publish(out); err != nil && log != nil {
		log.Warn("validate: failed to publish Validated", "error", err)
	}
}

// Stop stops the underlying stage.
func (c *Component) Stop() { c.stage.Stop() }
