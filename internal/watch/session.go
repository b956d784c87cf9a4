// Package watch turns raw filesystem notifications into deduplicated
// ArtifactChanged events (spec.md §4.1).
package watch

import (
	"crypto/sha256"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/redefinecore/agent/internal/event"
	"github.com/redefinecore/agent/internal/eventbus"
	"github.com/redefinecore/agent/internal/model"
	"github.com/redefinecore/agent/internal/ports"
)

// ErrInvalidPath is returned by Register when the directory does not exist
// or is not readable.
var ErrInvalidPath = errors.New("watch: invalid directory")

type pathState struct {
	mu             sync.Mutex
	ring           *model.Ring
	limiter        *rate.Limiter
	hasLastSeen    bool
	lastMtime      time.Time
	lastSize       int64
	hasLastEmitted bool
	lastEmitDigest [32]byte
	timer          *time.Timer
}

// Session owns one or more watched directories and converts the raw
// notifications they produce into ArtifactChanged events on the bus.
type Session struct {
	id      string
	watcher ports.FilesystemWatcher
	bus     eventbus.Bus
	cfg     Config
	log     *slog.Logger

	mu         sync.Mutex
	state      model.SessionState
	watchIDs   map[string]ports.WatchID
	paths      map[string]*pathState
	pausedRaw  []ports.RawNotification

	rawCh  chan ports.RawNotification
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Session bound to one watcher and event bus.
func New(id string, watcher ports.FilesystemWatcher, bus eventbus.Bus, cfg Config, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		id:       id,
		watcher:  watcher,
		bus:      bus,
		cfg:      cfg,
		log:      log,
		state:    model.SessionActive,
		watchIDs: make(map[string]ports.WatchID),
		paths:    make(map[string]*pathState),
		rawCh:    make(chan ports.RawNotification, 4096),
		stopCh:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// Register begins watching directory and returns ErrInvalidPath if it does
// not exist or is not a directory.
func (s *Session) Register(directory, glob string, recursive bool) error {
	info, err := os.Stat(directory)
	if err != nil || !info.IsDir() {
		return ErrInvalidPath
	}
	id, err := s.watcher.Watch(directory, recursive, glob, s.onRaw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.watchIDs[directory] = id
	s.mu.Unlock()
	return nil
}

// Unregister stops watching a previously registered directory. Idempotent.
func (s *Session) Unregister(directory string) error {
	s.mu.Lock()
	id, ok := s.watchIDs[directory]
	if ok {
		delete(s.watchIDs, directory)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.watcher.Unwatch(id)
}

// Pause moves the session to Paused: raw notifications accumulate in a
// bounded queue instead of being processed.
func (s *Session) Pause() {
	s.mu.Lock()
	s.state = model.SessionPaused
	s.mu.Unlock()
}

// Resume moves the session back to Active and drains any queue accumulated
// while Paused.
func (s *Session) Resume() {
	s.mu.Lock()
	s.state = model.SessionActive
	queued := s.pausedRaw
	s.pausedRaw = nil
	s.mu.Unlock()
	for _, raw := range queued {
		s.handleRaw(raw)
	}
}

// State reports the session's current lifecycle state.
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Terminate transitions Active/Paused → Terminating → Terminated and stops
// the worker goroutine.
func (s *Session) Terminate() {
	s.mu.Lock()
	s.state = model.SessionTerminating
	s.mu.Unlock()
	close(s.stopCh)
	s.wg.Wait()
	s.mu.Lock()
	s.state = model.SessionTerminated
	s.mu.Unlock()
}

// onRaw is the FilesystemWatcher callback; it must not block, so it hands
// off to the worker via a buffered channel, dropping oldest-first on
// overflow per the Paused-state policy (spec.md §4.1).
func (s *Session) onRaw(raw ports.RawNotification) {
	select {
	case s.rawCh <- raw:
	default:
		s.dropOldest(raw)
	}
}

func (s *Session) dropOldest(incoming ports.RawNotification) {
	select {
	case dropped := <-s.rawCh:
		s.publishDropped(dropped.Path, "queue full")
		s.rawCh <- incoming
	default:
		s.rawCh <- incoming
	}
}

func (s *Session) worker() {
	defer s.wg.Done()
	for {
		select {
		case raw := <-s.rawCh:
			s.handleRaw(raw)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Session) handleRaw(raw ports.RawNotification) {
	if s.State() == model.SessionPaused {
		s.mu.Lock()
		if len(s.pausedRaw) >= s.cfg.PausedQueueCapacity {
			dropped := s.pausedRaw[0]
			s.pausedRaw = s.pausedRaw[1:]
			s.mu.Unlock()
			s.publishDropped(dropped.Path, "paused queue full")
			s.mu.Lock()
		}
		s.pausedRaw = append(s.pausedRaw, raw)
		s.mu.Unlock()
		return
	}
	if raw.Kind == ports.ChangeDeleted {
		return
	}

	info, err := os.Stat(raw.Path)
	if err != nil {
		s.publishDegraded(raw.Path, err)
		return
	}
	data, err := os.ReadFile(raw.Path)
	if err != nil {
		s.publishDegraded(raw.Path, err)
		return
	}
	digest := sha256.Sum256(data)

	ps := s.stateFor(raw.Path)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.hasLastSeen && ps.lastMtime.Equal(info.ModTime()) && ps.lastSize == info.Size() {
		return
	}
	ps.hasLastSeen = true
	ps.lastMtime = info.ModTime()
	ps.lastSize = info.Size()

	if ps.hasLastEmitted && ps.lastEmitDigest == digest {
		return
	}

	now := time.Now()
	ps.ring.Push(model.ChangeRecord{At: now, Size: info.Size(), Digest: digest})

	artifact := model.ClassArtifact{
		Path:       raw.Path,
		ModifiedAt: info.ModTime(),
		Size:       info.Size(),
		Digest:     digest,
		Bytes:      data,
	}

	// A path that has exhausted its token bucket is bursting even if the
	// ring's own count hasn't yet crossed the threshold, so either signal
	// routes the notification to the quiesce path instead of emitting.
	withinBudget := ps.limiter.AllowN(now, 1)
	if ps.ring.CountWithin(now, s.cfg.DebounceWindow) < s.cfg.BurstThreshold && withinBudget {
		s.emit(artifact, ps)
		return
	}

	if ps.timer != nil {
		ps.timer.Stop()
	}
	path := raw.Path
	ps.timer = time.AfterFunc(s.cfg.DebounceWindow, func() {
		s.emitQuiesced(path, ps)
	})
}

// emitQuiesced re-reads the file once a burst has quiesced and emits a
// single ArtifactChanged for the latest content.
func (s *Session) emitQuiesced(path string, ps *pathState) {
	info, err := os.Stat(path)
	if err != nil {
		s.publishDegraded(path, err)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		s.publishDegraded(path, err)
		return
	}
	digest := sha256.Sum256(data)

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.hasLastEmitted && ps.lastEmitDigest == digest {
		return
	}
	artifact := model.ClassArtifact{
		Path:       path,
		ModifiedAt: info.ModTime(),
		Size:       info.Size(),
		Digest:     digest,
		Bytes:      data,
	}
	s.emitLocked(artifact, ps)
}

// emit records the artifact as emitted and publishes the event. Caller
// holds ps.mu.
func (s *Session) emit(artifact model.ClassArtifact, ps *pathState) {
	s.emitLocked(artifact, ps)
}

func (s *Session) emitLocked(artifact model.ClassArtifact, ps *pathState) {
	likelyMeaningful := artifact.Size > s.cfg.MeaningfulByteThreshold ||
		!ps.hasLastEmitted || ps.lastEmitDigest != artifact.Digest
	ps.hasLastEmitted = true
	ps.lastEmitDigest = artifact.Digest

	evt := event.New(event.TypeArtifactChanged, event.ArtifactChangedPayload{
		Artifact:         artifact,
		LikelyMeaningful: likelyMeaningful,
	}, nil).WithCorrelation(uuid.New())
	if err := s.bus.Publish(evt); err != nil {
		s.log.Warn("watch: failed to publish ArtifactChanged", "path", artifact.Path, "error", err)
	}
}

func (s *Session) publishDropped(path, reason string) {
	evt := event.New(event.TypeDroppedEvent, event.DroppedEventPayload{Path: path, Reason: reason}, nil)
	_ = s.bus.Publish(evt)
}

func (s *Session) publishDegraded(path string, err error) {
	evt := event.New(event.TypeWatchDegraded, event.WatchDegradedPayload{Path: path, Err: err.Error()}, nil)
	_ = s.bus.Publish(evt)
}

func (s *Session) stateFor(path string) *pathState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.paths[path]
	if !ok {
		burst := s.cfg.BurstThreshold
		window := s.cfg.DebounceWindow
		if window <= 0 {
			window = 250 * time.Millisecond
		}
		ps = &pathState{
			ring:    model.NewRing(s.cfg.RingCapacity),
			limiter: rate.NewLimiter(rate.Limit(float64(burst)/window.Seconds()), burst),
		}
		s.paths[path] = ps
	}
	return ps
}
