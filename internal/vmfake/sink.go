package vmfake

import (
	"context"
	"log/slog"

	"github.com/redefinecore/agent/internal/event"
)

// LogSink is a ports.EventSink that writes every event to a structured
// logger, used when no external delivery target is configured.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink constructs a LogSink, defaulting to slog.Default().
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

// Accept implements ports.EventSink.
func (s *LogSink) Accept(_ context.Context, evt event.Event) error {
	s.log.Info("event", "type", string(evt.Type), "id", evt.ID.String())
	return nil
}

// AcceptBatch implements ports.EventSink.
func (s *LogSink) AcceptBatch(ctx context.Context, evts []event.Event) error {
	for _, evt := range evts {
		if err := s.Accept(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}
