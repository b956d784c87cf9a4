package watch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redefinecore/agent/internal/event"
	"github.com/redefinecore/agent/internal/eventbus"
	"github.com/redefinecore/agent/internal/model"
	"github.com/redefinecore/agent/internal/ports"
)

type fakeBus struct {
	mu     sync.Mutex
	events []event.Event
}

func (b *fakeBus) Publish(evt event.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
	return nil
}
func (b *fakeBus) Subscribe(eventbus.Subscriber) (uint64, error) { return 0, nil }
func (b *fakeBus) Unsubscribe(uint64) error                      { return nil }

func (b *fakeBus) snapshot() []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]event.Event, len(b.events))
	copy(out, b.events)
	return out
}

func (b *fakeBus) countOf(t event.Type) int {
	n := 0
	for _, e := range b.snapshot() {
		if e.Type == t {
			n++
		}
	}
	return n
}

func waitForCount(t *testing.T, bus *fakeBus, typ event.Type, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if bus.countOf(typ) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events of type %s, got %d", n, typ, bus.countOf(typ))
}

func testConfig() Config {
	c := DefaultConfig()
	c.DebounceWindow = 30 * time.Millisecond
	return c
}

func TestSessionRegisterInvalidPath(t *testing.T) {
	s := New("s1", newFakeWatcher(), &fakeBus{}, testConfig(), nil)
	defer s.Terminate()
	err := s.Register("/no/such/dir", "", true)
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestSessionEmitsArtifactChangedOnModify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Foo.class")
	require.NoError(t, os.WriteFile(path, []byte("hello world, this is a payload"), 0o644))

	fw := newFakeWatcher()
	bus := &fakeBus{}
	s := New("s1", fw, bus, testConfig(), nil)
	defer s.Terminate()
	require.NoError(t, s.Register(dir, "", true))

	fw.Fire(ports.RawNotification{Path: path, Kind: ports.ChangeModified})
	waitForCount(t, bus, event.TypeArtifactChanged, 1)

	payload := bus.snapshot()[0].Payload.(event.ArtifactChangedPayload)
	assert.Equal(t, path, payload.Artifact.Path)
}

func TestSessionDedupesIdenticalModify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Foo.class")
	require.NoError(t, os.WriteFile(path, []byte("same content"), 0o644))

	fw := newFakeWatcher()
	bus := &fakeBus{}
	s := New("s1", fw, bus, testConfig(), nil)
	defer s.Terminate()
	require.NoError(t, s.Register(dir, "", true))

	fw.Fire(ports.RawNotification{Path: path, Kind: ports.ChangeModified})
	waitForCount(t, bus, event.TypeArtifactChanged, 1)

	// Same mtime/size -> dropped by the debounce rule.
	fw.Fire(ports.RawNotification{Path: path, Kind: ports.ChangeModified})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, bus.countOf(event.TypeArtifactChanged))
}

func TestSessionBurstCollapsesToOneEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Foo.class")

	fw := newFakeWatcher()
	bus := &fakeBus{}
	cfg := testConfig()
	cfg.BurstThreshold = 3
	s := New("s1", fw, bus, cfg, nil)
	defer s.Terminate()
	require.NoError(t, s.Register(dir, "", true))

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte(time.Now().Format(time.RFC3339Nano)+string(rune('a'+i))), 0o644))
		fw.Fire(ports.RawNotification{Path: path, Kind: ports.ChangeModified})
		time.Sleep(2 * time.Millisecond)
	}

	time.Sleep(cfg.DebounceWindow + 100*time.Millisecond)
	assert.Equal(t, 1, bus.countOf(event.TypeArtifactChanged))
}

func TestSessionPauseQueuesAndResumeDrains(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Foo.class")
	require.NoError(t, os.WriteFile(path, []byte("payload content here"), 0o644))

	fw := newFakeWatcher()
	bus := &fakeBus{}
	s := New("s1", fw, bus, testConfig(), nil)
	defer s.Terminate()
	require.NoError(t, s.Register(dir, "", true))

	s.Pause()
	fw.Fire(ports.RawNotification{Path: path, Kind: ports.ChangeModified})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, bus.countOf(event.TypeArtifactChanged))

	s.Resume()
	waitForCount(t, bus, event.TypeArtifactChanged, 1)
}

func TestSessionDeletedNotificationIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Gone.class")

	fw := newFakeWatcher()
	bus := &fakeBus{}
	s := New("s1", fw, bus, testConfig(), nil)
	defer s.Terminate()
	require.NoError(t, s.Register(dir, "", true))

	fw.Fire(ports.RawNotification{Path: path, Kind: ports.ChangeDeleted})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, bus.countOf(event.TypeArtifactChanged))
}

func TestSessionTerminateStopsWorker(t *testing.T) {
	s := New("s1", newFakeWatcher(), &fakeBus{}, testConfig(), nil)
	s.Terminate()
	assert.Equal(t, model.SessionTerminated, s.State())
}
