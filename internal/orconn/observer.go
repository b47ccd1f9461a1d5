// Package orconn tracks relay connections and surfaces their state
// transitions, both to same-process observers and to the control channel
// as ORCONN events.
package orconn

// State is the lifecycle state of a relay connection.
type State int

const (
	StateNew State = iota
	StateLaunched
	StateConnected
	StateFailed
	StateClosed
)

var stateNames = map[State]string{
	StateNew:       "NEW",
	StateLaunched:  "LAUNCHED",
	StateConnected: "CONNECTED",
	StateFailed:    "FAILED",
	StateClosed:    "CLOSED",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// Reason explains why a connection failed or closed.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonDone
	ReasonConnectRefused
	ReasonTimeout
	ReasonNoRoute
	ReasonIOError
	ReasonResourceLimit
	ReasonMisc
)

var reasonNames = map[Reason]string{
	ReasonDone:           "DONE",
	ReasonConnectRefused: "CONNECTREFUSED",
	ReasonTimeout:        "TIMEOUT",
	ReasonNoRoute:        "NOROUTE",
	ReasonIOError:        "IOERROR",
	ReasonResourceLimit:  "RESOURCELIMIT",
	ReasonMisc:           "MISC",
}

func (r Reason) String() string {
	if n, ok := reasonNames[r]; ok {
		return n
	}
	return ""
}

// StateChange describes one connection transition.
type StateChange struct {
	ID        uint64
	Target    string
	State     State
	Reason    Reason
	NCircuits int
}

// Observer receives state changes synchronously on the publishing
// goroutine.
type Observer interface {
	OnStateChange(msg StateChange)
}

// Publisher is an ordered set of observers notified synchronously on each
// publish. It is owned by the connection-tracking goroutine and provides
// no locking; subscribe during init, publish during operation.
type Publisher struct {
	observers []Observer
}

// Subscribe appends o unless the identical observer is already
// registered.
func (p *Publisher) Subscribe(o Observer) {
	for _, existing := range p.observers {
		if existing == o {
			return
		}
	}
	p.observers = append(p.observers, o)
}

// Publish invokes every registered observer in subscription order. Nil
// entries are skipped rather than invoked.
func (p *Publisher) Publish(msg StateChange) {
	for _, o := range p.observers {
		if o == nil {
			continue
		}
		o.OnStateChange(msg)
	}
}
