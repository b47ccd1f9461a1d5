package orconn

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("relayd.orconn")

// Conn is one tracked relay connection.
type Conn struct {
	ID     uint64
	Target string
	State  State
}

// Tracker is the bookkeeping table of relay connections. Transitions are
// published through the Publisher; the tracker itself carries no control
// channel knowledge.
type Tracker struct {
	mu     sync.Mutex
	conns  map[uint64]*Conn
	nextID uint64
	pub    *Publisher
}

// NewTracker returns an empty tracker publishing transitions to pub.
func NewTracker(pub *Publisher) *Tracker {
	return &Tracker{
		conns: make(map[uint64]*Conn),
		pub:   pub,
	}
}

// Launch registers a new connection attempt to target and returns its ID.
func (t *Tracker) Launch(target string) uint64 {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.conns[id] = &Conn{ID: id, Target: target, State: StateLaunched}
	t.mu.Unlock()

	t.pub.Publish(StateChange{ID: id, Target: target, State: StateLaunched})
	return id
}

// SetState records a transition for connection id. Failed and closed
// connections leave the table. Unknown IDs are ignored with a warning.
func (t *Tracker) SetState(id uint64, state State, reason Reason, ncircs int) {
	t.mu.Lock()
	conn, ok := t.conns[id]
	if !ok {
		t.mu.Unlock()
		logger.Warningf("state change for unknown connection %d", id)
		return
	}
	conn.State = state
	target := conn.Target
	if state == StateFailed || state == StateClosed {
		delete(t.conns, id)
	}
	t.mu.Unlock()

	t.pub.Publish(StateChange{
		ID:        id,
		Target:    target,
		State:     state,
		Reason:    reason,
		NCircuits: ncircs,
	})
}

// StatusLines renders one "target state" line per live connection, for
// the orconn-status introspection query. Lines are sorted by connection
// ID so output is stable.
func (t *Tracker) StatusLines() string {
	t.mu.Lock()
	conns := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, &Conn{ID: c.ID, Target: c.Target, State: c.State})
	}
	t.mu.Unlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].ID < conns[j].ID })
	lines := make([]string, 0, len(conns))
	for _, c := range conns {
		lines = append(lines, fmt.Sprintf("%s %s", c.Target, c.State))
	}
	return strings.Join(lines, "\r\n")
}
