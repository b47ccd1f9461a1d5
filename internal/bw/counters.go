// Package bw keeps the per-second bandwidth accounting behind the BW,
// CONN_BW, CIRC_BW and STREAM_BW events.
package bw

import (
	"fmt"
	"sort"
	"sync"

	"github.com/juju/loggo/v2"
	gopsnet "github.com/shirou/gopsutil/v3/net"

	"github.com/relaymesh/relayd/internal/event"
)

var logger = loggo.GetLogger("relayd.bw")

type pair struct {
	read    uint64
	written uint64
}

// Accounting accumulates byte counts between per-second emissions.
// Producers add, the scheduler's per-second task drains. Counter resets on
// subscription edges keep the first reported delta free of unobserved
// history.
type Accounting struct {
	queue    *event.Queue
	registry *event.Registry

	mu            sync.Mutex
	globalRead    uint64
	globalWritten uint64
	conns         map[uint64]*pair
	circs         map[uint64]*pair
	streams       map[uint64]*pair

	// Host NIC sampling folds the machine's real interface counters
	// into the global BW figure.
	sampleNIC  bool
	nicInit    bool
	nicRead    uint64
	nicWritten uint64
}

// NewAccounting returns an accounting sink emitting onto q. When
// sampleNIC is set, aggregate host interface counters contribute to the
// global BW event.
func NewAccounting(q *event.Queue, reg *event.Registry, sampleNIC bool) *Accounting {
	return &Accounting{
		queue:     q,
		registry:  reg,
		conns:     make(map[uint64]*pair),
		circs:     make(map[uint64]*pair),
		streams:   make(map[uint64]*pair),
		sampleNIC: sampleNIC,
	}
}

// AddGlobal adds to the aggregate byte counters.
func (a *Accounting) AddGlobal(read, written uint64) {
	a.mu.Lock()
	a.globalRead += read
	a.globalWritten += written
	a.mu.Unlock()
}

// AddConn adds to connection id's byte counters.
func (a *Accounting) AddConn(id, read, written uint64) {
	a.mu.Lock()
	a.add(a.conns, id, read, written)
	a.mu.Unlock()
}

// AddCirc adds to circuit id's byte counters.
func (a *Accounting) AddCirc(id, read, written uint64) {
	a.mu.Lock()
	a.add(a.circs, id, read, written)
	a.mu.Unlock()
}

// AddStream adds to stream id's byte counters.
func (a *Accounting) AddStream(id, read, written uint64) {
	a.mu.Lock()
	a.add(a.streams, id, read, written)
	a.mu.Unlock()
}

func (a *Accounting) add(m map[uint64]*pair, id, read, written uint64) {
	p, ok := m[id]
	if !ok {
		p = &pair{}
		m[id] = p
	}
	p.read += read
	p.written += written
}

// Remove drops the counters of a finished connection, circuit or stream.
func (a *Accounting) RemoveConn(id uint64)   { a.remove(a.conns, id) }
func (a *Accounting) RemoveCirc(id uint64)   { a.remove(a.circs, id) }
func (a *Accounting) RemoveStream(id uint64) { a.remove(a.streams, id) }

func (a *Accounting) remove(m map[uint64]*pair, id uint64) {
	a.mu.Lock()
	delete(m, id)
	a.mu.Unlock()
}

// ResetGlobalBW zeroes the aggregate counters and re-baselines the host
// interface sample. Called when BW interest transitions 0→1.
func (a *Accounting) ResetGlobalBW() {
	a.mu.Lock()
	a.globalRead, a.globalWritten = 0, 0
	a.mu.Unlock()
	if a.sampleNIC {
		a.nicDelta() // discard accumulated history
	}
}

// ResetCircBW zeroes every circuit's counters.
func (a *Accounting) ResetCircBW() {
	a.mu.Lock()
	for _, p := range a.circs {
		*p = pair{}
	}
	a.mu.Unlock()
}

// ResetStreamBW zeroes every stream's counters.
func (a *Accounting) ResetStreamBW() {
	a.mu.Lock()
	for _, p := range a.streams {
		*p = pair{}
	}
	a.mu.Unlock()
}

// EmitPerSecond is the body of the per-second accounting task: it emits
// one event line per subscribed high-frequency kind and zeroes what it
// reported.
func (a *Accounting) EmitPerSecond() {
	if a.registry.Interesting(event.KindBandwidthUsed) {
		read, written := a.takeGlobal()
		if a.sampleNIC {
			nr, nw := a.nicDelta()
			read += nr
			written += nw
		}
		line := fmt.Sprintf("650 BW %d %d\r\n", read, written)
		a.queue.Enqueue(event.KindBandwidthUsed, []byte(line))
	}
	if a.registry.Interesting(event.KindConnBW) {
		for _, e := range a.take(a.conns) {
			line := fmt.Sprintf("650 CONN_BW ID=%d READ=%d WRITTEN=%d\r\n",
				e.id, e.read, e.written)
			a.queue.Enqueue(event.KindConnBW, []byte(line))
		}
	}
	if a.registry.Interesting(event.KindCircBW) {
		for _, e := range a.take(a.circs) {
			line := fmt.Sprintf("650 CIRC_BW ID=%d READ=%d WRITTEN=%d\r\n",
				e.id, e.read, e.written)
			a.queue.Enqueue(event.KindCircBW, []byte(line))
		}
	}
	if a.registry.Interesting(event.KindStreamBW) {
		for _, e := range a.take(a.streams) {
			line := fmt.Sprintf("650 STREAM_BW %d %d %d\r\n",
				e.id, e.written, e.read)
			a.queue.Enqueue(event.KindStreamBW, []byte(line))
		}
	}
}

func (a *Accounting) takeGlobal() (read, written uint64) {
	a.mu.Lock()
	read, written = a.globalRead, a.globalWritten
	a.globalRead, a.globalWritten = 0, 0
	a.mu.Unlock()
	return read, written
}

type taken struct {
	id            uint64
	read, written uint64
}

// take snapshots and zeroes all non-idle entries, in ID order.
func (a *Accounting) take(m map[uint64]*pair) []taken {
	a.mu.Lock()
	out := make([]taken, 0, len(m))
	for id, p := range m {
		if p.read == 0 && p.written == 0 {
			continue
		}
		out = append(out, taken{id: id, read: p.read, written: p.written})
		*p = pair{}
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// nicDelta returns the change in aggregate host interface counters since
// the previous call. The first call establishes the baseline and reports
// zero.
func (a *Accounting) nicDelta() (read, written uint64) {
	stats, err := gopsnet.IOCounters(false)
	if err != nil || len(stats) == 0 {
		logger.Debugf("interface counter sample failed: %v", err)
		return 0, 0
	}
	recv, sent := stats[0].BytesRecv, stats[0].BytesSent

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nicInit && recv >= a.nicRead && sent >= a.nicWritten {
		read = recv - a.nicRead
		written = sent - a.nicWritten
	}
	a.nicInit = true
	a.nicRead, a.nicWritten = recv, sent
	return read, written
}
