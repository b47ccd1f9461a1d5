package event

import (
	"sync"

	"github.com/juju/loggo/v2"
	"github.com/petermattis/goid"
)

var logger = loggo.GetLogger("relayd.event")

// Record is one pending event: a kind tag and a pre-formatted,
// codec-escaped wire payload. Records are created by Enqueue and released
// exactly once by the flusher.
type Record struct {
	Kind    Kind
	Payload []byte
}

// Subscriber is the queue's view of an attached management session: an
// interest mask, an open/closed state, and an outbound byte sink.
type Subscriber interface {
	EventMask() Mask
	Open() bool
	Deliver(payload []byte)
}

// SubscriberSource produces a snapshot of the currently attached sessions.
type SubscriberSource interface {
	Subscribers() []Subscriber
}

// reentryGuard tracks, per goroutine, whether that goroutine is already
// inside an enqueue or flush. Producing an event can itself log or
// otherwise re-enter the enqueue path; the guard turns such recursion into
// a cheap drop instead of deadlock or queue corruption.
type reentryGuard struct {
	cells sync.Map // goroutine id -> *int, touched only by its own goroutine
}

func (g *reentryGuard) cell() *int {
	id := goid.Get()
	if v, ok := g.cells.Load(id); ok {
		return v.(*int)
	}
	v, _ := g.cells.LoadOrStore(id, new(int))
	return v.(*int)
}

// Held reports whether the calling goroutine is inside a guarded section.
func (g *reentryGuard) Held() bool {
	return *g.cell() > 0
}

func (g *reentryGuard) raise() {
	*g.cell()++
}

func (g *reentryGuard) lower() {
	c := g.cell()
	*c--
	if *c == 0 {
		g.cells.Delete(goid.Get())
	}
}

// Queue is the deferred event queue: producers on any goroutine enqueue
// pre-formatted records, and a single flush goroutine fans each record out
// to every interested session. Queueing rather than delivering inline
// breaks the call-graph dependency from event producers to the transport
// layer.
type Queue struct {
	registry *Registry
	sessions SubscriberSource

	mu    sync.Mutex
	fifo  []Record
	armed bool

	wake chan struct{}
	done chan struct{}

	guard reentryGuard

	// preFlush, when set, runs at the start of every flush pass before
	// the guard is raised. The log bridge uses it to replay entries that
	// were deferred because they were produced under the guard.
	preFlush func()
}

// NewQueue returns a queue whose flush goroutine delivers to the sessions
// produced by src. Enqueue filters against reg's global interest mask.
func NewQueue(reg *Registry, src SubscriberSource) *Queue {
	q := &Queue{
		registry: reg,
		sessions: src,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go q.run()
	return q
}

// SetPreFlush installs the hook run at the start of each flush pass.
// Must be called before any events are enqueued.
func (q *Queue) SetPreFlush(fn func()) {
	q.preFlush = fn
}

// GuardHeld reports whether the calling goroutine currently holds the
// queue's reentrancy guard.
func (q *Queue) GuardHeld() bool {
	return q.guard.Held()
}

// Enqueue appends a record for later fan-out. The payload is dropped
// without error when no session is interested in kind, when the calling
// goroutine is already inside an enqueue or flush, or when the queue has
// been torn down. Callable from any goroutine.
func (q *Queue) Enqueue(kind Kind, payload []byte) {
	// Best-effort filter; a subscription change between this check and
	// the append is tolerated and re-filtered at delivery time.
	if !q.registry.Interesting(kind) {
		return
	}
	if q.guard.Held() {
		return
	}
	q.guard.raise()
	defer q.guard.lower()

	q.mu.Lock()
	if q.done == nil {
		q.mu.Unlock()
		return
	}
	q.fifo = append(q.fifo, Record{Kind: kind, Payload: payload})
	arm := !q.armed
	if arm {
		q.armed = true
	}
	q.mu.Unlock()

	if arm {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
}

func (q *Queue) run() {
	done := q.done
	for {
		select {
		case <-q.wake:
			q.flush()
		case <-done:
			return
		}
	}
}

// flush delivers every queued record to every open session whose mask
// matches, in acceptance order, then releases the batch.
func (q *Queue) flush() {
	if q.preFlush != nil {
		q.preFlush()
	}

	q.guard.raise()
	defer q.guard.lower()

	q.mu.Lock()
	q.armed = false
	batch := q.fifo
	q.fifo = nil
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	subs := q.sessions.Subscribers()
	open := subs[:0]
	for _, s := range subs {
		if s.Open() {
			open = append(open, s)
		}
	}

	for i := range batch {
		rec := &batch[i]
		for _, s := range open {
			if s.EventMask().Contains(rec.Kind) {
				s.Deliver(rec.Payload)
			}
		}
		rec.Payload = nil
	}
}

// DrainAndFree empties the queue, cancels any armed flush, and stops the
// flush goroutine. Records not yet flushed are dropped. For use at
// process shutdown only.
func (q *Queue) DrainAndFree() {
	q.mu.Lock()
	q.fifo = nil
	q.armed = false
	done := q.done
	q.done = nil
	q.mu.Unlock()

	if done != nil {
		close(done)
	}
}
