package control

import (
	"sync"

	"github.com/relaymesh/relayd/internal/event"
)

// sessionState tracks where a session is in its lifecycle.
type sessionState int

const (
	statePendingAuth sessionState = iota
	stateOpen
	stateClosed
)

// frameSink is the transport half of a session: it writes one outbound
// frame (a reply line or an escaped block) and can be closed. TCP and
// WebSocket transports each provide one.
type frameSink interface {
	WriteFrame(data []byte) error
	Close() error
}

// Session is one attached management session. It owns an interest mask and
// a buffered outbound sink; writes that cannot be buffered detach the
// session rather than block the producer.
type Session struct {
	id   uint64
	sink frameSink
	send chan []byte

	mu    sync.Mutex
	state sessionState
	mask  event.Mask

	closeOnce sync.Once

	// onDetach is invoked once when the session leaves the registry,
	// whether from QUIT, transport error, or a full send buffer.
	onDetach func(*Session)
}

func newSession(id uint64, sink frameSink, buffer int, needsAuth bool, onDetach func(*Session)) *Session {
	st := stateOpen
	if needsAuth {
		st = statePendingAuth
	}
	s := &Session{
		id:       id,
		sink:     sink,
		send:     make(chan []byte, buffer),
		state:    st,
		onDetach: onDetach,
	}
	go s.writePump()
	return s
}

// writePump serializes all outbound frames onto the transport.
func (s *Session) writePump() {
	defer s.sink.Close()
	for msg := range s.send {
		if err := s.sink.WriteFrame(msg); err != nil {
			logger.Debugf("session %d write failed: %v", s.id, err)
			s.Detach()
			return
		}
	}
}

// ID returns the session's stable identifier.
func (s *Session) ID() uint64 {
	return s.id
}

// EventMask returns the session's current interest mask.
func (s *Session) EventMask() event.Mask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mask
}

// SetEventMask replaces the session's interest mask.
func (s *Session) SetEventMask(m event.Mask) {
	s.mu.Lock()
	s.mask = m
	s.mu.Unlock()
}

// Open reports whether the session has authenticated and not yet closed.
func (s *Session) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateOpen
}

// authenticated promotes a pending session to open. Returns false if the
// session is already closed.
func (s *Session) authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return false
	}
	s.state = stateOpen
	return true
}

func (s *Session) needsAuth() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == statePendingAuth
}

// Deliver queues one outbound frame. A session that cannot keep up is
// detached; its pending frames are discarded with the transport.
//
// The send happens under s.mu, the same lock Detach holds while closing
// the channel, so a concurrent detach cannot turn this into a send on a
// closed channel.
func (s *Session) Deliver(payload []byte) {
	full := false
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return
	}
	select {
	case s.send <- payload:
	default:
		full = true
	}
	s.mu.Unlock()

	if full {
		logger.Warningf("session %d cannot keep up, detaching", s.id)
		s.Detach()
	}
}

// Detach closes the session and removes it from its registry. Safe to
// call multiple times and from any goroutine.
func (s *Session) Detach() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = stateClosed
		close(s.send)
		s.mu.Unlock()
		if s.onDetach != nil {
			s.onDetach(s)
		}
	})
}

// Sessions is the registry of attached sessions. It produces the
// subscriber snapshots consumed by the interest registry and the flusher.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[*Session]bool
	nextID   uint64
}

// NewSessions returns an empty session registry.
func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[*Session]bool)}
}

func (r *Sessions) add(sink frameSink, buffer int, needsAuth bool, onDetach func(*Session)) *Session {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	s := newSession(id, sink, buffer, needsAuth, onDetach)
	r.sessions[s] = true
	r.mu.Unlock()
	return s
}

func (r *Sessions) remove(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s)
	r.mu.Unlock()
}

// Subscribers returns a snapshot of all attached sessions.
func (r *Sessions) Subscribers() []event.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := make([]event.Subscriber, 0, len(r.sessions))
	for s := range r.sessions {
		subs = append(subs, s)
	}
	return subs
}

// Count returns the number of attached sessions.
func (r *Sessions) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
