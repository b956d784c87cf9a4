package eventbus

import "errors"

var (
	// ErrChannelFull is returned when the bus's internal dispatch channel is
	// saturated and an event cannot be accepted without blocking the caller.
	ErrChannelFull = errors.New("eventbus: dispatch channel full")
	// ErrSubscriberClosed is returned by Unsubscribe for an unknown id.
	ErrSubscriberClosed = errors.New("eventbus: subscriber closed")
	// ErrBusStopped is returned by Publish once Stop has completed.
	ErrBusStopped = errors.New("eventbus: bus stopped")
)
