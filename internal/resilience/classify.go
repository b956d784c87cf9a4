package resilience

import (
	"context"
	"errors"
	"net"
)

// Category is a stable, loggable classification of an external-call
// failure, independent of the underlying Go error type.
type Category string

const (
	CategoryTimeout Category = "Timeout"
	CategoryNetwork Category = "Network"
	CategoryContext Category = "Context"
	CategoryUnknown Category = "Unknown"
)

// Classify maps err to a stable category. It recognizes context
// cancellation/deadline errors and net.Error values (Timeout when the
// error reports a timeout, Network otherwise); anything else is Unknown.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CategoryContext
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}
	return CategoryUnknown
}
