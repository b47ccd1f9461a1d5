package orconn

import (
	"fmt"

	"github.com/relaymesh/relayd/internal/event"
)

// EventEmitter is the observer that turns connection transitions into
// ORCONN control events. Formatting is skipped entirely when no session
// is subscribed.
type EventEmitter struct {
	queue    *event.Queue
	registry *event.Registry
}

// NewEventEmitter returns an emitter enqueuing onto q, filtered by reg.
func NewEventEmitter(q *event.Queue, reg *event.Registry) *EventEmitter {
	return &EventEmitter{queue: q, registry: reg}
}

// OnStateChange implements Observer.
func (e *EventEmitter) OnStateChange(msg StateChange) {
	if !e.registry.Interesting(event.KindORConnStatus) {
		return
	}

	reason := ""
	if msg.Reason != ReasonNone {
		reason = " REASON=" + msg.Reason.String()
	}
	ncircs := ""
	if msg.NCircuits > 0 && (msg.State == StateFailed || msg.State == StateClosed) {
		ncircs = fmt.Sprintf(" NCIRCS=%d", msg.NCircuits)
	}

	line := fmt.Sprintf("650 ORCONN %s %s%s%s ID=%d\r\n",
		msg.Target, msg.State, reason, ncircs, msg.ID)
	e.queue.Enqueue(event.KindORConnStatus, []byte(line))
}
