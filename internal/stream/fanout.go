package stream

import (
	"sync"

	. "github.com/chatgate/chatgate/internal/logging"
	"github.com/chatgate/chatgate/internal/turn"
)

// Fanout multiplexes one turn's events to any number of observers (a WS
// connection, an SSE response writer) without ever letting a slow observer
// stall the turn: each observer gets a bounded buffer, and a full buffer
// drops the event rather than blocking the emit call: streaming must not
// become a back-pressure path into the turn loop.
type Fanout struct {
	mu        sync.Mutex
	observers map[int]chan turn.Event
	nextID    int
}

// NewFanout creates an empty fan-out.
func NewFanout() *Fanout {
	return &Fanout{observers: make(map[int]chan turn.Event)}
}

// Subscribe registers a new observer with the given buffer size and returns
// its channel plus an unsubscribe function.
func (f *Fanout) Subscribe(buffer int) (<-chan turn.Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan turn.Event, buffer)
	f.observers[id] = ch

	unsubscribe := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if existing, ok := f.observers[id]; ok {
			close(existing)
			delete(f.observers, id)
		}
	}
	return ch, unsubscribe
}

// Emit implements turn.Emit: it delivers ev to every current observer,
// dropping it for any observer whose buffer is full.
func (f *Fanout) Emit(ev turn.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, ch := range f.observers {
		select {
		case ch <- ev:
		default:
			L_warn("stream: observer buffer full, dropping event", "observer", id, "kind", ev.Kind)
		}
	}
}

// Close unsubscribes and closes every observer's channel, used when a turn
// completes and no further events will be emitted.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.observers {
		close(ch)
		delete(f.observers, id)
	}
}
