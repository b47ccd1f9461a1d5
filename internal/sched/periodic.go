// Package sched runs the daemon's once-per-second housekeeping tasks.
package sched

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("relayd.sched")

// Task is one periodic unit of work. Enabled is consulted on every rescan;
// a task whose Enabled returns false costs nothing until the next rescan.
type Task struct {
	Name    string
	Enabled func() bool
	Run     func()
}

// Scheduler runs all enabled tasks on a fixed tick, on a single goroutine.
// When no task is enabled the tick stops entirely; Rescan wakes the
// scheduler so it can re-evaluate the task list.
type Scheduler struct {
	clk      clock.Clock
	interval time.Duration

	mu    sync.Mutex
	tasks []Task

	rescan chan struct{}
}

// New returns a scheduler ticking every interval on clk.
func New(clk clock.Clock, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{
		clk:      clk,
		interval: interval,
		rescan:   make(chan struct{}, 1),
	}
}

// Register adds a task. Call before Run.
func (s *Scheduler) Register(t Task) {
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
}

// Rescan asks the scheduler to re-evaluate which tasks are enabled.
// Non-blocking; redundant requests coalesce. Safe from any goroutine.
func (s *Scheduler) Rescan() {
	select {
	case s.rescan <- struct{}{}:
	default:
	}
}

// active returns the currently enabled tasks.
func (s *Scheduler) active() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if t.Enabled == nil || t.Enabled() {
			out = append(out, t)
		}
	}
	return out
}

// Run ticks until ctx is cancelled. With no enabled tasks it parks,
// waiting only for a rescan.
func (s *Scheduler) Run(ctx context.Context) {
	timer := s.clk.NewTimer(s.interval)
	defer timer.Stop()

	live := s.active()
	for {
		if len(live) == 0 {
			timer.Stop()
			select {
			case <-s.rescan:
				live = s.active()
				logger.Debugf("rescan: %d periodic tasks live", len(live))
				timer.Reset(s.interval)
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-timer.Chan():
			for _, t := range live {
				t.Run()
			}
			timer.Reset(s.interval)
		case <-s.rescan:
			live = s.active()
			logger.Debugf("rescan: %d periodic tasks live", len(live))
		case <-ctx.Done():
			return
		}
	}
}
