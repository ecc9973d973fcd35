// Package telemetry pushes per-room pipeline events to connected observer
// clients over a websocket, each message cbor-encoded.
package telemetry

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"

	"github.com/zapdos-labs/shieldcast/engine"
)

// pingInterval is how often the hub pings idle connections to detect a
// dead client before its next real event.
const pingInterval = 30 * time.Second

// Message is one wire-framed telemetry push.
type Message struct {
	Kind      string `cbor:"kind"`
	RoomID    string `cbor:"room_id"`
	Sequence  uint64 `cbor:"sequence,omitempty"`
	BatchID   string `cbor:"batch_id,omitempty"`
	BatchSize int    `cbor:"batch_size,omitempty"`
	Detected  int    `cbor:"detected,omitempty"`
	Error     string `cbor:"error,omitempty"`
	Overload  bool   `cbor:"overload,omitempty"`
}

type observer struct {
	conn      *websocket.Conn
	sendChan  chan Message
	closeChan chan struct{}
	closeOnce sync.Once
}

func (o *observer) close() {
	o.closeOnce.Do(func() { close(o.closeChan) })
}

// Hub fans a Session's Events out to every websocket observer watching its
// room. One Hub serves every room; observers register with the room they
// want to watch.
type Hub struct {
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	observers map[string]map[*observer]struct{} // roomID -> observers
	manager   *engine.Manager
	log       *log.Logger
}

// NewHub constructs a Hub that reads room Sessions from manager.
func NewHub(manager *engine.Manager, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		observers: make(map[string]map[*observer]struct{}),
		manager:   manager,
		log:       logger,
	}
}

// ServeRoom upgrades req to a websocket and streams telemetry for roomID
// until the session ends or the client disconnects.
func (h *Hub) ServeRoom(w http.ResponseWriter, req *http.Request, roomID string) {
	session := h.manager.Get(roomID)
	if session == nil {
		http.Error(w, "room not attached", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.log.Printf("[Hub] upgrade failed for room %s: %v", roomID, err)
		return
	}

	obs := &observer{
		conn:      conn,
		sendChan:  make(chan Message, 128),
		closeChan: make(chan struct{}),
	}
	h.register(roomID, obs)
	defer h.unregister(roomID, obs)

	events, cancelSub := session.Subscribe()
	defer cancelSub()

	go h.pump(obs)
	h.relay(roomID, events, obs)
}

// register adds obs to roomID's observer set.
func (h *Hub) register(roomID string, obs *observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.observers[roomID]
	if !ok {
		set = make(map[*observer]struct{})
		h.observers[roomID] = set
	}
	set[obs] = struct{}{}
}

func (h *Hub) unregister(roomID string, obs *observer) {
	obs.close()
	obs.conn.Close()

	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.observers[roomID]; ok {
		delete(set, obs)
		if len(set) == 0 {
			delete(h.observers, roomID)
		}
	}
}

// pump drains obs.sendChan onto the websocket connection, pinging on
// pingInterval so a dead client is noticed even during a quiet room.
func (h *Hub) pump(obs *observer) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-obs.closeChan:
			return
		case <-ticker.C:
			if err := obs.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				obs.close()
				return
			}
		case msg := <-obs.sendChan:
			data, err := cbor.Marshal(msg)
			if err != nil {
				continue
			}
			if err := obs.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				obs.close()
				return
			}
		}
	}
}

// relay translates engine.Events for roomID into Messages on obs until the
// subscription closes or obs disconnects.
func (h *Hub) relay(roomID string, events <-chan engine.Event, obs *observer) {
	for {
		select {
		case <-obs.closeChan:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			msg := Message{
				Kind:      e.Kind.String(),
				RoomID:    roomID,
				Sequence:  e.Sequence,
				BatchID:   e.BatchID,
				BatchSize: e.BatchSize,
				Detected:  e.Detected,
			}
			if e.Err != nil {
				msg.Error = e.Err.Error()
			}
			select {
			case obs.sendChan <- msg:
			default:
				h.log.Printf("[Hub] observer channel full for room %s, dropping event", roomID)
			}
			if e.Kind == engine.EventSessionClosed {
				return
			}
		}
	}
}

// RunOverloadSweep polls every attached room's Session on interval and
// broadcasts its current overload state. Lane 1 only flips overloaded
// inside recordLatency, which runs per-frame and has no Event of its own;
// this sweep is what surfaces that state to observers who are not lucky
// enough to be watching the exact frame it tripped on. It blocks until ctx
// is cancelled.
func (h *Hub) RunOverloadSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, roomID := range h.manager.Rooms() {
				session := h.manager.Get(roomID)
				if session == nil {
					continue
				}
				h.Broadcast(roomID, session.Overloaded())
			}
		}
	}
}

// Broadcast pushes an out-of-band overload notice to every observer of
// roomID, used by RunOverloadSweep when Lane 1 trips overload independently
// of any single Event.
func (h *Hub) Broadcast(roomID string, overload bool) {
	h.mu.RLock()
	set := h.observers[roomID]
	obs := make([]*observer, 0, len(set))
	for o := range set {
		obs = append(obs, o)
	}
	h.mu.RUnlock()

	msg := Message{Kind: "overload", RoomID: roomID, Overload: overload}
	for _, o := range obs {
		select {
		case o.sendChan <- msg:
		default:
		}
	}
}
