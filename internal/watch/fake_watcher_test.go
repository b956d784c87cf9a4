package watch

import (
	"sync"
	"sync/atomic"

	"github.com/redefinecore/agent/internal/ports"
)

// fakeWatcher is an in-memory ports.FilesystemWatcher for tests: Watch
// records the callback and Fire delivers a notification directly, with no
// real filesystem involvement.
type fakeWatcher struct {
	mu   sync.Mutex
	seq  atomic.Uint64
	regs map[ports.WatchID]ports.NotificationFunc
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{regs: make(map[ports.WatchID]ports.NotificationFunc)}
}

func (f *fakeWatcher) Watch(_ string, _ bool, _ string, fn ports.NotificationFunc) (ports.WatchID, error) {
	id := ports.WatchID(f.seq.Add(1))
	f.mu.Lock()
	f.regs[id] = fn
	f.mu.Unlock()
	return id, nil
}

func (f *fakeWatcher) Unwatch(id ports.WatchID) error {
	f.mu.Lock()
	delete(f.regs, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeWatcher) Close() error { return nil }

func (f *fakeWatcher) Fire(n ports.RawNotification) {
	f.mu.Lock()
	fns := make([]ports.NotificationFunc, 0, len(f.regs))
	for _, fn := range f.regs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}
