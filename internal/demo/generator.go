// Package demo drives synthetic relay activity so the control channel can
// be exercised without a live relay core.
package demo

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/juju/clock"
	"github.com/juju/loggo/v2"

	"github.com/relaymesh/relayd/internal/bw"
	"github.com/relaymesh/relayd/internal/orconn"
)

var logger = loggo.GetLogger("relayd.demo")

var demoTargets = []string{
	"relay-fra1.example.net:9001",
	"relay-nyc2.example.net:9001",
	"relay-sgp1.example.net:443",
	"relay-ams3.example.net:9001",
	"198.51.100.7:9001",
}

type demoConn struct {
	id       uint64
	state    orconn.State
	age      int
	lifespan int
	doomed   bool
}

// Generator churns fake connections through their lifecycle and feeds the
// bandwidth counters, one step per tick.
type Generator struct {
	tracker *orconn.Tracker
	acct    *bw.Accounting
	clk     clock.Clock
	rng     *rand.Rand

	conns []*demoConn
}

func NewGenerator(tracker *orconn.Tracker, acct *bw.Accounting, clk clock.Clock) *Generator {
	return &Generator{
		tracker: tracker,
		acct:    acct,
		clk:     clk,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start runs the generator loop until ctx is cancelled.
func (g *Generator) Start(ctx context.Context) {
	logger.Infof("demo traffic generator running")
	go func() {
		for {
			select {
			case <-g.clk.After(time.Second):
				g.step()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (g *Generator) step() {
	// Keep a handful of connections alive.
	if len(g.conns) < 3 || (len(g.conns) < 6 && g.rng.Intn(4) == 0) {
		target := demoTargets[g.rng.Intn(len(demoTargets))]
		c := &demoConn{
			id:       g.tracker.Launch(target),
			state:    orconn.StateLaunched,
			lifespan: 10 + g.rng.Intn(50),
			doomed:   g.rng.Intn(5) == 0,
		}
		g.conns = append(g.conns, c)
	}

	alive := g.conns[:0]
	for _, c := range g.conns {
		c.age++
		switch c.state {
		case orconn.StateLaunched:
			if c.doomed {
				g.tracker.SetState(c.id, orconn.StateFailed, orconn.ReasonConnectRefused, 0)
				g.acct.RemoveConn(c.id)
				continue
			}
			c.state = orconn.StateConnected
			g.tracker.SetState(c.id, orconn.StateConnected, orconn.ReasonNone, 0)
		case orconn.StateConnected:
			if c.age >= c.lifespan {
				g.tracker.SetState(c.id, orconn.StateClosed, orconn.ReasonDone, g.rng.Intn(3))
				g.acct.RemoveConn(c.id)
				continue
			}
			read := uint64(g.rng.Intn(64 * 1024))
			written := uint64(g.rng.Intn(64 * 1024))
			g.acct.AddConn(c.id, read, written)
			g.acct.AddGlobal(read, written)
			// Attribute traffic to a synthetic circuit and stream too.
			g.acct.AddCirc(c.id, read/2, written/2)
			g.acct.AddStream(c.id, read/4, written/4)
		}
		alive = append(alive, c)
	}
	g.conns = alive

	if g.rng.Intn(20) == 0 {
		logger.Infof("demo: %s", randomNotice(g.rng))
	}
}

func randomNotice(rng *rand.Rand) string {
	notices := []string{
		"heartbeat: all subsystems nominal",
		"descriptor refresh complete",
		"consensus considered fresh",
	}
	return fmt.Sprintf("%s (%d connections)", notices[rng.Intn(len(notices))], rng.Intn(8))
}
