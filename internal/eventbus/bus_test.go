package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redefinecore/agent/internal/event"
)

type recordingSubscriber struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recordingSubscriber) Handle(_ context.Context, evt event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingSubscriber) snapshot() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Event, len(r.events))
	copy(out, r.events)
	return out
}

func newTestBus(t *testing.T) *DefaultBus {
	t.Helper()
	reg := prometheus.NewRegistry()
	b := New(NewMetrics(reg))
	t.Cleanup(b.Stop)
	return b
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Fail(t, "condition never became true")
}

func TestBusPublishDeliversToSubscriber(t *testing.T) {
	b := newTestBus(t)
	sub := &recordingSubscriber{}
	id, err := b.Subscribe(sub)
	require.NoError(t, err)
	assert.NotZero(t, id)

	evt := event.New(event.TypeArtifactChanged, nil, nil)
	require.NoError(t, b.Publish(evt))

	waitFor(t, func() bool { return len(sub.snapshot()) == 1 })
	assert.Equal(t, evt.ID, sub.snapshot()[0].ID)
}

func TestBusPreservesFIFOOrderPerSubscriber(t *testing.T) {
	b := newTestBus(t)
	sub := &recordingSubscriber{}
	_, err := b.Subscribe(sub)
	require.NoError(t, err)

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, b.Publish(event.New(event.TypeArtifactChanged, i, nil)))
	}

	waitFor(t, func() bool { return len(sub.snapshot()) == n })
	got := sub.snapshot()
	for i := 0; i < n; i++ {
		assert.Equal(t, i, got[i].Payload)
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t)
	sub := &recordingSubscriber{}
	id, err := b.Subscribe(sub)
	require.NoError(t, err)
	require.NoError(t, b.Unsubscribe(id))

	require.NoError(t, b.Publish(event.New(event.TypeArtifactChanged, nil, nil)))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sub.snapshot())
}

func TestBusUnsubscribeUnknownID(t *testing.T) {
	b := newTestBus(t)
	assert.ErrorIs(t, b.Unsubscribe(999), ErrSubscriberClosed)
}

func TestBusPublishAfterStopFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := New(NewMetrics(reg))
	b.Stop()
	assert.ErrorIs(t, b.Publish(event.New(event.TypeArtifactChanged, nil, nil)), ErrBusStopped)
}

func TestBusPublishDropsWhenChannelFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := New(NewMetrics(reg), WithBufferSize(1))
	t.Cleanup(b.Stop)

	// Block the worker with a slow subscriber so the channel fills up.
	block := make(chan struct{})
	b.Subscribe(SubscriberFunc(func(_ context.Context, _ event.Event) {
		<-block
	}))

	require.NoError(t, b.Publish(event.New(event.TypeArtifactChanged, nil, nil)))
	require.NoError(t, b.Publish(event.New(event.TypeArtifactChanged, nil, nil)))
	err := b.Publish(event.New(event.TypeArtifactChanged, nil, nil))
	close(block)
	assert.ErrorIs(t, err, ErrChannelFull)
}

func TestBusSubscriberPanicDoesNotStopDelivery(t *testing.T) {
	b := newTestBus(t)
	b.Subscribe(SubscriberFunc(func(_ context.Context, _ event.Event) {
		panic("boom")
	}))
	sub := &recordingSubscriber{}
	b.Subscribe(sub)

	require.NoError(t, b.Publish(event.New(event.TypeArtifactChanged, nil, nil)))
	waitFor(t, func() bool { return len(sub.snapshot()) == 1 })
}

func TestBusActiveSubscribers(t *testing.T) {
	b := newTestBus(t)
	assert.Equal(t, 0, b.ActiveSubscribers())
	id, err := b.Subscribe(&recordingSubscriber{})
	require.NoError(t, err)
	assert.Equal(t, 1, b.ActiveSubscribers())
	require.NoError(t, b.Unsubscribe(id))
	assert.Equal(t, 0, b.ActiveSubscribers())
}
