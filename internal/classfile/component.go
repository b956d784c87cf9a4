package classfile

import (
	"context"
	"log/slog"

	"github.com/redefinecore/agent/internal/event"
	"github.com/redefinecore/agent/internal/eventbus"
	"github.com/redefinecore/agent/internal/pipeline"
)

// Component wires an Extractor onto the Event Bus: it consumes
// ArtifactChanged events and publishes MetadataExtracted or
// ExtractionFailed.
type Component struct {
	stage *pipeline.Stage
}

// NewComponent subscribes extractor to bus and starts its worker.
func NewComponent(bus eventbus.Bus, extractor *Extractor, log *slog.Logger, metrics *pipeline.Metrics) (*Component, error) {
	stage, err := pipeline.NewStage(bus, pipeline.Config{
		Name:   "metadata_extractor",
		Accept: func(t event.Type) bool { return t == event.TypeArtifactChanged },
		Handle: func(_ context.Context, evt event.Event) {
			handle(bus, extractor, log, evt)
		},
	}, log, metrics)
	if err != nil {
		return nil, err
	}
	return &Component{stage: stage}, nil
}

func handle(bus eventbus.Bus, extractor *Extractor, log *slog.Logger, evt event.Event) {
	payload, ok := evt.Payload.(event.ArtifactChangedPayload)
	if !ok {
		return
	}
	meta, cacheHit, extErr := extractor.Extract(payload.Artifact)
	if extErr != nil {
		out := event.New(event.TypeExtractionFailed, event.ExtractionFailedPayload{
			Artifact: payload.Artifact,
			Reason:   extErr.Reason,
		}, &evt)
		if err := bus.Publish(out); err != nil && log != nil {
			log.Warn("classfile: failed to publish ExtractionFailed", "error", err)
		}
		return
	}
	out := event.New(event.TypeMetadataExtracted, event.MetadataExtractedPayload{
		Artifact: payload.Artifact,
		Metadata: meta,
		CacheHit: cacheHit,
	}, &evt)
	if err := bus.Publish(out); err != nil && log != nil {
		log.Warn("classfile: failed to publish MetadataExtracted", "error", err)
	}
}

// Stop stops the underlying stage.
func (c *Component) Stop() { c.stage.Stop() }
