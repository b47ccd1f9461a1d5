package event

import (
	"sync"
	"sync/atomic"
)

// BandwidthCounters is implemented by the accounting subsystem. The
// registry signals it to zero counters when a bandwidth kind transitions
// from unobserved to observed, so the first reported delta does not
// include unobserved history.
type BandwidthCounters interface {
	ResetGlobalBW()
	ResetCircBW()
	ResetStreamBW()
}

// Rescanner is implemented by the periodic-task scheduler; Rescan tells it
// to re-evaluate which per-second tasks are live.
type Rescanner interface {
	Rescan()
}

// SeverityWindow is implemented by the log bridge. SetWindow narrows log
// forwarding to the [min, max] range of log-message kinds someone is
// listening for.
type SeverityWindow interface {
	SetWindow(min, max Kind)
}

// Registry derives and caches the union interest mask over all open
// sessions, and propagates the derived values that hang off it: the log
// severity window, the "any per-second event" boolean, and edge-triggered
// bandwidth counter resets.
//
// Recomputations are serialized internally; concurrent readers are
// lock-free and may observe a mask at most one recomputation stale, which
// is accepted: records are re-filtered at delivery time.
type Registry struct {
	recomputeMu sync.Mutex
	mask        atomic.Uint64
	perSecond   atomic.Bool

	counters BandwidthCounters
	sched    Rescanner
	logs     SeverityWindow
}

// NewRegistry returns a registry with an empty interest mask and no
// collaborators; Bind installs them once the dependent subsystems exist.
func NewRegistry() *Registry {
	return &Registry{}
}

// Bind installs the registry's collaborators. Call once during startup,
// before sessions attach; nil collaborators skip the corresponding side
// effect.
func (r *Registry) Bind(counters BandwidthCounters, sched Rescanner, logs SeverityWindow) {
	r.counters = counters
	r.sched = sched
	r.logs = logs
}

// Mask returns the current global interest mask.
func (r *Registry) Mask() Mask {
	return Mask(r.mask.Load())
}

// Interesting reports whether any open session wants events of kind k.
// Producers use this to skip expensive event formatting nobody will see.
func (r *Registry) Interesting(k Kind) bool {
	return r.Mask().Contains(k)
}

// AnyPerSecond reports whether any high-frequency accounting kind is
// enabled. The periodic scheduler consults this to decide whether
// per-second accounting runs at all.
func (r *Registry) AnyPerSecond() bool {
	return r.perSecond.Load()
}

// Recompute unions the masks of all open sessions into the global mask
// and returns the previous and new values. Side effects: the log severity
// window is re-derived and pushed, bandwidth counters are reset for kinds
// that just transitioned 0→1, and the scheduler is rescanned if the
// per-second boolean flipped.
func (r *Registry) Recompute(sessions []Subscriber) (old, updated Mask) {
	r.recomputeMu.Lock()
	defer r.recomputeMu.Unlock()

	old = r.Mask()
	for _, s := range sessions {
		if s.Open() {
			updated |= s.EventMask()
		}
	}
	r.mask.Store(uint64(updated))

	r.adjustLogWindow(updated)

	newlyEnabled := func(k Kind) bool {
		return !old.Contains(k) && updated.Contains(k)
	}
	if r.counters != nil {
		if newlyEnabled(KindStreamBW) {
			r.counters.ResetStreamBW()
		}
		if newlyEnabled(KindCircBW) {
			r.counters.ResetCircBW()
		}
		if newlyEnabled(KindBandwidthUsed) {
			r.counters.ResetGlobalBW()
		}
	}

	anyPerSecond := updated.Intersects(perSecondMask)
	if r.perSecond.Swap(anyPerSecond) != anyPerSecond && r.sched != nil {
		logger.Debugf("per-second events now %v, rescanning periodic tasks", anyPerSecond)
		r.sched.Rescan()
	}

	return old, updated
}

// adjustLogWindow derives the [min, max] log-message kind range anyone is
// interested in and pushes it to the log bridge. STATUS_GENERAL interest
// widens the window to at least [NOTICE, ERR], since status events are
// synthesized from notice-and-above log activity.
func (r *Registry) adjustLogWindow(mask Mask) {
	if r.logs == nil {
		return
	}
	minKind, maxKind := KindErrMsg, KindDebugMsg
	for k := KindDebugMsg; k <= KindErrMsg; k++ {
		if mask.Contains(k) {
			minKind = k
			break
		}
	}
	for k := KindErrMsg; k >= KindDebugMsg; k-- {
		if mask.Contains(k) {
			maxKind = k
			break
		}
	}
	if mask.Contains(KindStatusGeneral) {
		if minKind > KindNoticeMsg {
			minKind = KindNoticeMsg
		}
		if maxKind < KindErrMsg {
			maxKind = KindErrMsg
		}
	}
	if minKind <= maxKind {
		r.logs.SetWindow(minKind, maxKind)
	} else {
		r.logs.SetWindow(KindErrMsg, KindErrMsg)
	}
}
