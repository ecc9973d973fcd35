package engine

import (
	"fmt"
	"log"
	"sync"

	"github.com/zapdos-labs/shieldcast/frame"
)

// Manager owns one Session per room and serializes creation/teardown
// against concurrent room join/leave events.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cfg      *frame.Config
	log      *log.Logger
}

// NewManager constructs a Manager sharing one Config across every Session
// it creates.
func NewManager(cfg *frame.Config) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		log:      cfg.Log(),
	}
}

// Attach starts a Session for roomID, or returns the already-running one.
// Attach is idempotent per roomID: a second call for a room already
// attached returns the existing Session and does not construct a new
// pipeline.
func (m *Manager) Attach(roomID string, source frame.Source, sink frame.Sink, inferenceService frame.InferenceService) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[roomID]; ok {
		return s, nil
	}

	s, err := NewSession(roomID, m.cfg, source, sink, inferenceService)
	if err != nil {
		return nil, fmt.Errorf("attach room %s: %w", roomID, err)
	}
	m.sessions[roomID] = s
	m.log.Printf("[Manager] room %s attached", roomID)
	return s, nil
}

// Detach stops and removes roomID's Session, if one is running. Detach is
// idempotent: detaching a room with no Session is a no-op.
func (m *Manager) Detach(roomID string) {
	m.mu.Lock()
	s, ok := m.sessions[roomID]
	if ok {
		delete(m.sessions, roomID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	s.Close()
	m.log.Printf("[Manager] room %s detached", roomID)
}

// Get returns the running Session for roomID, or nil.
func (m *Manager) Get(roomID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[roomID]
}

// Rooms returns a snapshot of currently attached room IDs.
func (m *Manager) Rooms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

// Shutdown detaches every room, blocking until each Session's lanes have
// stopped.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Detach(id)
	}
}
