package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapdos-labs/shieldcast/engine"
	"github.com/zapdos-labs/shieldcast/frame"
)

// idleSource never produces a frame; it just blocks until cancelled, like
// a broadcaster whose track has gone quiet.
type idleSource struct{}

func (idleSource) Next(ctx context.Context) (*frame.Frame, error) {
	<-ctx.Done()
	return nil, frame.ErrSourceClosed
}

type noopSink struct{}

func (noopSink) Publish(ctx context.Context, f *frame.Frame) error { return nil }

type noopInference struct{}

func (noopInference) Verify(ctx context.Context, batch frame.Batch) ([]frame.FrameResult, error) {
	return nil, nil
}

func newTestObserver() *observer {
	return &observer{
		sendChan:  make(chan Message, 4),
		closeChan: make(chan struct{}),
	}
}

func TestRelayTranslatesEventsToMessages(t *testing.T) {
	h := &Hub{}
	events := make(chan engine.Event, 2)
	obs := newTestObserver()

	events <- engine.Event{Kind: engine.EventFrameSubmitted, RoomID: "room-1", Sequence: 7}
	close(events)

	h.relay("room-1", events, obs)

	select {
	case msg := <-obs.sendChan:
		assert.Equal(t, "room-1", msg.RoomID)
		assert.Equal(t, uint64(7), msg.Sequence)
		assert.Equal(t, engine.EventFrameSubmitted.String(), msg.Kind)
	default:
		t.Fatal("expected a translated message on sendChan")
	}
}

func TestRelayStopsOnSessionClosed(t *testing.T) {
	h := &Hub{}
	events := make(chan engine.Event, 1)
	obs := newTestObserver()

	events <- engine.Event{Kind: engine.EventSessionClosed, RoomID: "room-2"}

	done := make(chan struct{})
	go func() {
		h.relay("room-2", events, obs)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay must return once it sees EventSessionClosed")
	}
}

func TestRelayCarriesDetectionError(t *testing.T) {
	h := &Hub{}
	events := make(chan engine.Event, 1)
	obs := newTestObserver()

	events <- engine.Event{Kind: engine.EventDetectionsReady, RoomID: "room-3", Err: errors.New("verify failed")}
	close(events)

	h.relay("room-3", events, obs)

	msg := <-obs.sendChan
	assert.Equal(t, "verify failed", msg.Error)
}

func TestBroadcastPushesToEveryRegisteredObserver(t *testing.T) {
	h := NewHub(nil, nil)
	obs1 := newTestObserver()
	obs2 := newTestObserver()
	h.register("room-4", obs1)
	h.register("room-4", obs2)

	h.Broadcast("room-4", true)

	for _, obs := range []*observer{obs1, obs2} {
		select {
		case msg := <-obs.sendChan:
			assert.Equal(t, "overload", msg.Kind)
			assert.True(t, msg.Overload)
		default:
			t.Fatal("expected every registered observer to receive the broadcast")
		}
	}
}

func TestRegisterAddsObserverToItsRoomOnly(t *testing.T) {
	h := NewHub(nil, nil)
	obs := newTestObserver()
	h.register("room-5", obs)

	h.mu.RLock()
	_, inRoom5 := h.observers["room-5"][obs]
	_, inOtherRoom := h.observers["room-6"]
	h.mu.RUnlock()

	assert.True(t, inRoom5)
	assert.False(t, inOtherRoom)
}

func TestRunOverloadSweepBroadcastsEveryAttachedRoom(t *testing.T) {
	cfg := frame.DefaultConfig()
	cfg.IdleTimeout = 20 * time.Millisecond

	manager := engine.NewManager(cfg)
	defer manager.Shutdown()

	_, err := manager.Attach("room-7", idleSource{}, noopSink{}, noopInference{})
	require.NoError(t, err)

	h := NewHub(manager, nil)
	obs := newTestObserver()
	h.register("room-7", obs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.RunOverloadSweep(ctx, 5*time.Millisecond)
		close(done)
	}()

	select {
	case msg := <-obs.sendChan:
		assert.Equal(t, "overload", msg.Kind)
		assert.Equal(t, "room-7", msg.RoomID)
	case <-time.After(time.Second):
		t.Fatal("expected an overload broadcast from the sweep")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunOverloadSweep must return once its context is cancelled")
	}
}
