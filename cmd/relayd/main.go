package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/clock"
	"github.com/juju/loggo/v2"

	"github.com/relaymesh/relayd/internal/bw"
	"github.com/relaymesh/relayd/internal/config"
	"github.com/relaymesh/relayd/internal/control"
	"github.com/relaymesh/relayd/internal/demo"
	"github.com/relaymesh/relayd/internal/event"
	"github.com/relaymesh/relayd/internal/logbridge"
	"github.com/relaymesh/relayd/internal/orconn"
	"github.com/relaymesh/relayd/internal/sched"
)

const version = "relayd 0.1.0"

var logger = loggo.GetLogger("relayd")

func main() {
	configPath := flag.String("config", "", "Path to config file")
	listen := flag.String("listen", "", "Override control listen address")
	demoMode := flag.Bool("demo", false, "Generate synthetic relay activity")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Control.Listen = *listen
	}
	if err := loggo.ConfigureLoggers(cfg.Log.Config); err != nil {
		fmt.Fprintf(os.Stderr, "bad log configuration: %v\n", err)
		os.Exit(1)
	}

	sessions := control.NewSessions()
	registry := event.NewRegistry()
	queue := event.NewQueue(registry, sessions)

	bridge := logbridge.New(queue)
	if err := bridge.Register(); err != nil {
		logger.Criticalf("failed to register log bridge: %v", err)
		os.Exit(1)
	}

	scheduler := sched.New(clock.WallClock, cfg.Accounting.Interval)
	acct := bw.NewAccounting(queue, registry, cfg.Accounting.InterfaceCounters)
	registry.Bind(acct, scheduler, bridge)
	scheduler.Register(sched.Task{
		Name:    "bandwidth-accounting",
		Enabled: registry.AnyPerSecond,
		Run:     acct.EmitPerSecond,
	})

	pub := &orconn.Publisher{}
	pub.Subscribe(orconn.NewEventEmitter(queue, registry))
	tracker := orconn.NewTracker(pub)

	server := control.NewServer(sessions, registry, cfg.Control.AuthToken, cfg.Control.SessionBuffer)
	server.RegisterInfo("version", func() (string, error) { return version, nil })
	server.RegisterInfo("events/names", control.EventNamesInfo())
	server.RegisterInfo("orconn-status", func() (string, error) {
		return tracker.StatusLines(), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go scheduler.Run(ctx)

	if *demoMode {
		logger.Infof("starting in demo mode")
		demo.NewGenerator(tracker, acct, clock.WallClock).Start(ctx)
	}

	if cfg.Control.WSListen != "" {
		mux := http.NewServeMux()
		control.NewWSBridge(server).SetupRoutes(mux)
		go func() {
			logger.Infof("websocket bridge listening on %s", cfg.Control.WSListen)
			if err := http.ListenAndServe(cfg.Control.WSListen, mux); err != nil {
				logger.Errorf("websocket bridge: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infof("shutting down")
		cancel()
		queue.DrainAndFree()
		os.Exit(0)
	}()

	ln, err := net.Listen("tcp", cfg.Control.Listen)
	if err != nil {
		logger.Criticalf("control listen: %v", err)
		os.Exit(1)
	}
	if err := server.Serve(ctx, ln); err != nil {
		logger.Criticalf("control server: %v", err)
		os.Exit(1)
	}
}
