package session

import (
	"sync"
	"time"
)

// Working is the in-memory working-session state the Turn Engine holds for
// the duration of a turn: the persisted Record plus the per-session
// elevated-tool-policy toggle. It does not cache message history —
// the Turn Engine re-fetches the window it needs from the Store each turn
// so history stays consistent across process restarts.
type Working struct {
	Record

	mu          sync.RWMutex
	elevated    bool
	elevatedAt  time.Time
}

// NewWorking wraps a persisted Record as a working session.
func NewWorking(rec Record) *Working {
	return &Working{Record: rec}
}

// Elevate grants the elevated tool-policy tier for the remainder of this
// session. Elevation is a one-way, in-memory toggle: it is never persisted
// and never downgraded automatically, matching the "per-session" scope the
// spec assigns to elevation.
func (w *Working) Elevate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.elevated = true
	w.elevatedAt = time.Now().UTC()
}

// IsElevated reports whether this session has been elevated.
func (w *Working) IsElevated() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.elevated
}

// ElevatedAt returns when elevation occurred, or the zero time if it hasn't.
func (w *Working) ElevatedAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.elevatedAt
}

// Manager holds one Working per session id, so concurrent turns against the
// same session id share the same elevation state while turns against
// different sessions never contend.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Working
}

// NewManager creates an empty working-session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Working)}
}

// Get returns the cached Working for id, creating one from rec if absent.
func (m *Manager) Get(rec Record) *Working {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.sessions[rec.ID]; ok {
		w.mu.Lock()
		w.Record = rec
		w.mu.Unlock()
		return w
	}
	w := NewWorking(rec)
	m.sessions[rec.ID] = w
	return w
}

// Forget drops the cached working state for a deleted session.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}
