package orconn

import (
	"testing"
	"time"

	"github.com/relaymesh/relayd/internal/event"
)

// recorder collects state changes in publish order.
type recorder struct {
	changes []StateChange
}

func (r *recorder) OnStateChange(msg StateChange) {
	r.changes = append(r.changes, msg)
}

func TestPublisherOrderAndDedup(t *testing.T) {
	var pub Publisher
	a, b := &recorder{}, &recorder{}
	pub.Subscribe(a)
	pub.Subscribe(b)
	pub.Subscribe(a) // duplicate, ignored

	pub.Publish(StateChange{ID: 1, State: StateLaunched})

	if len(a.changes) != 1 || len(b.changes) != 1 {
		t.Fatalf("deliveries a=%d b=%d, want 1 each", len(a.changes), len(b.changes))
	}
}

func TestPublisherSkipsNilObserver(t *testing.T) {
	pub := Publisher{observers: []Observer{nil, &recorder{}}}
	pub.Publish(StateChange{ID: 1}) // must not panic
}

func TestTrackerLifecycle(t *testing.T) {
	var pub Publisher
	rec := &recorder{}
	pub.Subscribe(rec)
	tr := NewTracker(&pub)

	id1 := tr.Launch("relay-a:9001")
	id2 := tr.Launch("relay-b:9001")
	if id1 == id2 {
		t.Fatalf("duplicate connection IDs: %d", id1)
	}

	tr.SetState(id1, StateConnected, ReasonNone, 0)
	tr.SetState(id2, StateFailed, ReasonConnectRefused, 0)

	want := []StateChange{
		{ID: id1, Target: "relay-a:9001", State: StateLaunched},
		{ID: id2, Target: "relay-b:9001", State: StateLaunched},
		{ID: id1, Target: "relay-a:9001", State: StateConnected},
		{ID: id2, Target: "relay-b:9001", State: StateFailed, Reason: ReasonConnectRefused},
	}
	if len(rec.changes) != len(want) {
		t.Fatalf("got %d changes, want %d", len(rec.changes), len(want))
	}
	for i, w := range want {
		if rec.changes[i] != w {
			t.Errorf("change %d = %+v, want %+v", i, rec.changes[i], w)
		}
	}

	// The failed connection left the table.
	if got := tr.StatusLines(); got != "relay-a:9001 CONNECTED" {
		t.Errorf("StatusLines() = %q", got)
	}
}

func TestTrackerIgnoresUnknownID(t *testing.T) {
	var pub Publisher
	rec := &recorder{}
	pub.Subscribe(rec)
	tr := NewTracker(&pub)

	tr.SetState(42, StateClosed, ReasonDone, 0)
	if len(rec.changes) != 0 {
		t.Errorf("unknown ID published %d changes", len(rec.changes))
	}
}

func TestStatusLinesSortedByID(t *testing.T) {
	var pub Publisher
	tr := NewTracker(&pub)

	tr.Launch("relay-a:9001")
	tr.Launch("relay-b:9001")
	tr.Launch("relay-c:9001")

	want := "relay-a:9001 LAUNCHED\r\nrelay-b:9001 LAUNCHED\r\nrelay-c:9001 LAUNCHED"
	if got := tr.StatusLines(); got != want {
		t.Errorf("StatusLines() = %q, want %q", got, want)
	}
}

// sink is a Subscriber collecting delivered payloads on a channel.
type sink struct {
	mask     event.Mask
	payloads chan string
}

func (s *sink) EventMask() event.Mask  { return s.mask }
func (s *sink) Open() bool             { return true }
func (s *sink) Deliver(payload []byte) { s.payloads <- string(payload) }
func (s *sink) Subscribers() []event.Subscriber {
	return []event.Subscriber{s}
}

func (s *sink) next(t *testing.T) string {
	t.Helper()
	select {
	case p := <-s.payloads:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return ""
	}
}

func newEmitterFixture(subscribed bool) (*EventEmitter, *sink, *event.Queue) {
	s := &sink{payloads: make(chan string, 16)}
	if subscribed {
		s.mask = event.MaskOf(event.KindORConnStatus)
	}
	registry := event.NewRegistry()
	q := event.NewQueue(registry, s)
	registry.Recompute(s.Subscribers())
	return NewEventEmitter(q, registry), s, q
}

func TestEmitterLineFormats(t *testing.T) {
	em, s, q := newEmitterFixture(true)
	defer q.DrainAndFree()

	tests := []struct {
		name string
		msg  StateChange
		want string
	}{{
		name: "Launched",
		msg:  StateChange{ID: 5, Target: "relay-a:9001", State: StateLaunched},
		want: "650 ORCONN relay-a:9001 LAUNCHED ID=5\r\n",
	}, {
		name: "FailedWithReason",
		msg: StateChange{
			ID: 6, Target: "relay-b:9001",
			State: StateFailed, Reason: ReasonTimeout,
		},
		want: "650 ORCONN relay-b:9001 FAILED REASON=TIMEOUT ID=6\r\n",
	}, {
		name: "ClosedWithCircuitCount",
		msg: StateChange{
			ID: 7, Target: "relay-c:9001",
			State: StateClosed, Reason: ReasonDone, NCircuits: 3,
		},
		want: "650 ORCONN relay-c:9001 CLOSED REASON=DONE NCIRCS=3 ID=7\r\n",
	}, {
		name: "CircuitCountSuppressedWhileConnected",
		msg: StateChange{
			ID: 8, Target: "relay-d:9001",
			State: StateConnected, NCircuits: 3,
		},
		want: "650 ORCONN relay-d:9001 CONNECTED ID=8\r\n",
	}}
	for _, test := range tests {
		em.OnStateChange(test.msg)
		if got := s.next(t); got != test.want {
			t.Errorf("%s: payload = %q, want %q", test.name, got, test.want)
		}
	}
}

func TestEmitterSkipsWhenNobodySubscribed(t *testing.T) {
	em, s, q := newEmitterFixture(false)
	defer q.DrainAndFree()

	em.OnStateChange(StateChange{ID: 1, Target: "relay-a:9001", State: StateLaunched})

	select {
	case p := <-s.payloads:
		t.Fatalf("unexpected delivery %q", p)
	case <-time.After(50 * time.Millisecond):
	}
}
