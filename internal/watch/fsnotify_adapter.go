package watch

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/redefinecore/agent/internal/ports"
)

// FsnotifyWatcher adapts *fsnotify.Watcher to ports.FilesystemWatcher. One
// underlying fsnotify.Watcher is shared across every registered directory;
// a single dispatch goroutine routes each raw event to the callback(s)
// registered for directories it falls under.
type FsnotifyWatcher struct {
	log *slog.Logger
	w   *fsnotify.Watcher
	seq atomic.Uint64

	mu        sync.Mutex
	registrations map[ports.WatchID]*registration
	closed    bool
	done      chan struct{}
}

type registration struct {
	directory string
	recursive bool
	glob      string
	fn        ports.NotificationFunc
}

// NewFsnotifyWatcher constructs an FsnotifyWatcher backed by a fresh
// fsnotify.Watcher and starts its dispatch goroutine.
func NewFsnotifyWatcher(log *slog.Logger) (*FsnotifyWatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &FsnotifyWatcher{
		log:           log,
		w:             w,
		registrations: make(map[ports.WatchID]*registration),
		done:          make(chan struct{}),
	}
	go fw.dispatch()
	return fw, nil
}

// Watch registers directory (and, if recursive, its subdirectories present
// at call time) with the shared fsnotify.Watcher.
func (fw *FsnotifyWatcher) Watch(directory string, recursive bool, glob string, fn ports.NotificationFunc) (ports.WatchID, error) {
	dirs := []string{directory}
	if recursive {
		sub, err := subdirectories(directory)
		if err != nil {
			return 0, err
		}
		dirs = append(dirs, sub...)
	}
	for _, d := range dirs {
		if err := fw.w.Add(d); err != nil {
			return 0, err
		}
	}
	id := ports.WatchID(fw.seq.Add(1))
	fw.mu.Lock()
	fw.registrations[id] = &registration{directory: directory, recursive: recursive, glob: glob, fn: fn}
	fw.mu.Unlock()
	return id, nil
}

// Unwatch deregisters id. The underlying fsnotify path watch is left in
// place since other registrations may share it; only dispatch is stopped.
func (fw *FsnotifyWatcher) Unwatch(id ports.WatchID) error {
	fw.mu.Lock()
	delete(fw.registrations, id)
	fw.mu.Unlock()
	return nil
}

// Close stops the dispatch goroutine and releases the fsnotify.Watcher.
func (fw *FsnotifyWatcher) Close() error {
	fw.mu.Lock()
	if fw.closed {
		fw.mu.Unlock()
		return nil
	}
	fw.closed = true
	fw.mu.Unlock()
	err := fw.w.Close()
	<-fw.done
	return err
}

func (fw *FsnotifyWatcher) dispatch() {
	defer close(fw.done)
	for {
		select {
		case ev, ok := <-fw.w.Events:
			if !ok {
				return
			}
			fw.route(ev)
		case err, ok := <-fw.w.Errors:
			if !ok {
				return
			}
			fw.log.Warn("watch: fsnotify error", "error", err)
		}
	}
}

func (fw *FsnotifyWatcher) route(ev fsnotify.Event) {
	kind, ok := translateOp(ev.Op)
	if !ok {
		return
	}
	fw.mu.Lock()
	targets := make([]*registration, 0, len(fw.registrations))
	for _, r := range fw.registrations {
		if strings.HasPrefix(ev.Name, r.directory) {
			targets = append(targets, r)
		}
	}
	fw.mu.Unlock()

	for _, r := range targets {
		if r.glob != "" {
			matched, err := filepath.Match(r.glob, filepath.Base(ev.Name))
			if err != nil || !matched {
				continue
			}
		}
		r.fn(ports.RawNotification{Path: ev.Name, Kind: kind})
	}
}

func translateOp(op fsnotify.Op) (ports.ChangeKind, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return ports.ChangeCreated, true
	case op&fsnotify.Write != 0:
		return ports.ChangeModified, true
	case op&fsnotify.Remove != 0, op&fsnotify.Rename != 0:
		return ports.ChangeDeleted, true
	default:
		return 0, false
	}
}
