// Package logbridge forwards daemon log messages to control sessions as
// severity events.
package logbridge

import (
	"fmt"
	"strings"
	"sync"

	"github.com/juju/loggo/v2"

	"github.com/relaymesh/relayd/internal/event"
)

// WriterName is the name this bridge registers under in the loggo
// context.
const WriterName = "control-events"

// Bridge is a loggo Writer that turns log entries inside its severity
// window into queued events. Entries produced while the calling goroutine
// holds the event queue's reentrancy guard cannot be enqueued directly;
// they are deferred and replayed at the start of the next flush.
type Bridge struct {
	queue *event.Queue

	mu      sync.Mutex
	minKind event.Kind
	maxKind event.Kind

	pendingMu sync.Mutex
	pending   []pendingEntry
}

type pendingEntry struct {
	kind event.Kind
	line []byte
}

// New returns a bridge enqueuing onto q and installs its pre-flush
// replay hook. The initial window forwards only ERR until the first
// recomputation pushes a real one.
func New(q *event.Queue) *Bridge {
	b := &Bridge{
		queue:   q,
		minKind: event.KindErrMsg,
		maxKind: event.KindErrMsg,
	}
	q.SetPreFlush(b.replayPending)
	return b
}

// Register installs the bridge in the default loggo context.
func (b *Bridge) Register() error {
	return loggo.RegisterWriter(WriterName, b)
}

// SetWindow implements event.SeverityWindow: only entries whose severity
// kind falls within [min, max] are forwarded.
func (b *Bridge) SetWindow(min, max event.Kind) {
	b.mu.Lock()
	b.minKind, b.maxKind = min, max
	b.mu.Unlock()
}

// Write implements loggo.Writer. It may be called from any goroutine.
func (b *Bridge) Write(entry loggo.Entry) {
	kind := event.LevelToKind(entry.Level)

	b.mu.Lock()
	inWindow := kind >= b.minKind && kind <= b.maxKind
	b.mu.Unlock()
	if !inWindow {
		return
	}

	// One line on the wire regardless of what the message contains.
	msg := strings.ReplaceAll(entry.Message, "\r\n", " ")
	msg = strings.ReplaceAll(msg, "\n", " ")
	line := fmt.Appendf(nil, "650 %s %s\r\n", kind, msg)

	if b.queue.GuardHeld() {
		b.pendingMu.Lock()
		b.pending = append(b.pending, pendingEntry{kind: kind, line: line})
		b.pendingMu.Unlock()
		return
	}
	b.queue.Enqueue(kind, line)
}

// replayPending enqueues entries that were deferred under the guard.
// Runs at the start of each flush pass, before the guard is raised.
func (b *Bridge) replayPending() {
	b.pendingMu.Lock()
	pending := b.pending
	b.pending = nil
	b.pendingMu.Unlock()

	for _, p := range pending {
		b.queue.Enqueue(p.kind, p.line)
	}
}
