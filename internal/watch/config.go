package watch

import "time"

// Config tunes a Session's debounce and burst behavior (spec.md §4.1, §6
// "watch.debounce.window-ms", "watch.burst.threshold").
type Config struct {
	// DebounceWindow (W) is both the window over which notifications are
	// counted for burst detection and the silence that ends a burst, after
	// which one event is emitted. A below-threshold change is emitted at
	// once, without waiting for silence.
	DebounceWindow time.Duration
	// BurstThreshold (N) is the notification count within DebounceWindow
	// at or above which the session waits for quiesce instead of emitting
	// immediately.
	BurstThreshold int
	// PausedQueueCapacity bounds how many raw notifications accumulate
	// while the session is Paused before the oldest is dropped.
	PausedQueueCapacity int
	// MeaningfulByteThreshold sets the likely-meaningful size heuristic.
	MeaningfulByteThreshold int64
	// RingCapacity bounds the per-path change history used for burst
	// counting.
	RingCapacity int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		DebounceWindow:          250 * time.Millisecond,
		BurstThreshold:          5,
		PausedQueueCapacity:     1024,
		MeaningfulByteThreshold: 100,
		RingCapacity:            8,
	}
}
