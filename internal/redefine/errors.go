package redefine

import "errors"

// ErrAlreadyInProgress is returned by Submit when an attempt for the same
// class is already in flight and the configured concurrency policy is
// RejectInProgress.
var ErrAlreadyInProgress = errors.New("redefine: attempt already in progress for this class")

// ErrQueueFull is returned by Submit when the Coordinator's inbound queue
// is saturated.
var ErrQueueFull = errors.New("redefine: attempt queue full")
