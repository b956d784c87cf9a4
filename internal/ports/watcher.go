package ports

// ChangeKind enumerates the raw filesystem notification kinds a watcher
// delivers to its callback (spec.md §6).
type ChangeKind int

const (
	ChangeCreated ChangeKind = iota
	ChangeModified
	ChangeDeleted
)

// RawNotification is one unprocessed filesystem event, prior to any
// debouncing or burst analysis.
type RawNotification struct {
	Path string
	Kind ChangeKind
}

// NotificationFunc receives every raw notification a watched directory
// produces. It is called synchronously by the watcher's delivery goroutine
// and must not block.
type NotificationFunc func(RawNotification)

// WatchID identifies one registered directory watch, returned by Watch and
// consumed by Unwatch.
type WatchID uint64

// FilesystemWatcher is the abstract contract for the underlying filesystem
// notification mechanism (an fsnotify.Watcher in production, a fake in
// tests).
type FilesystemWatcher interface {
	// Watch registers directory for notification delivery to fn. glob
	// filters which filenames are reported; an empty glob matches all
	// files.
	Watch(directory string, recursive bool, glob string, fn NotificationFunc) (WatchID, error)
	// Unwatch deregisters a prior Watch call. It is a no-op for an unknown
	// id.
	Unwatch(id WatchID) error
	// Close releases any underlying OS resources.
	Close() error
}
