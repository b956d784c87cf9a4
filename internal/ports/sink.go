package ports

import (
	"context"

	"github.com/redefinecore/agent/internal/event"
)

// EventSink is the single outbound port the core emits events through. A
// sink is strictly a consumer: the core never reads back from it. On error
// the caller (cmd/agent) logs a warning and moves on: the event is not
// buffered or retried, and no SinkDegraded notice is emitted.
type EventSink interface {
	Accept(ctx context.Context, evt event.Event) error
	AcceptBatch(ctx context.Context, evts []event.Event) error
}
