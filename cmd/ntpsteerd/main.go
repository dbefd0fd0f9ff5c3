// Command ntpsteerd runs the clock-control pipeline as a standalone
// daemon: one PeerFilter per configured peer, a Selector, a Combiner,
// and a Steerer driven by an Engine on a fixed tick.
//
// Flag parsing, pprof wiring, and the log-level/config/exit-code
// pattern follow cmd/sptp/main.go layer for layer.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	_ "net/http/pprof"

	"github.com/ntpsteer/ntpsteerd/config"
	"github.com/ntpsteer/ntpsteerd/engine"
	"github.com/ntpsteer/ntpsteerd/telemetry"
)

func doWork(cfg *config.Config) error {
	stats := telemetry.NewStats()

	e, err := engine.New(cfg, nil)
	if err != nil {
		return err
	}

	jsonStats := telemetry.NewJSONStats(stats)
	go jsonStats.Start(cfg.MonitoringPort, cfg.MetricsAggregationWindow)

	exporter := telemetry.NewPrometheusExporter(stats, cfg.MetricsPort, cfg.MetricsAggregationWindow)
	go exporter.Start()

	go reportLoop(e, stats, cfg.TickInterval)

	ctx := context.Background()
	return e.Run(ctx)
}

// reportLoop copies the Engine's latest pipeline outcome into stats at
// roughly the tick cadence, decoupling telemetry collection from the
// Engine itself the way ptp/sptp/client keeps SPTP free of any direct
// dependency on its own Stats beyond what's handed to it at
// construction.
func reportLoop(e *engine.Engine, stats *telemetry.Stats, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	for range time.Tick(interval) {
		result := e.LastResult()
		telemetry.BuildSnapshot(result.At, e.Estimates(), result.Selection, result.Decision, result.PollExponent, stats)
	}
}

func main() {
	var (
		verboseFlag        bool
		configFlag         string
		peersFlag          string
		tickIntervalFlag   time.Duration
		freeRunningFlag    bool
		monitoringPortFlag int
		metricsPortFlag    int
		pprofFlag          string
	)

	defaults := config.DefaultConfig()

	flag.BoolVar(&verboseFlag, "verbose", false, "verbose output")
	flag.StringVar(&configFlag, "config", "", "path to the config")
	flag.StringVar(&peersFlag, "peers", "", "comma-separated list of NTP peers to steer against")
	flag.DurationVar(&tickIntervalFlag, "tickinterval", defaults.TickInterval, "how often to run the clock-control pipeline")
	flag.BoolVar(&freeRunningFlag, "freerunning", false, "never touch the host clock, just report what would happen")
	flag.IntVar(&monitoringPortFlag, "monitoringport", defaults.MonitoringPort, "port to serve the JSON status endpoint on")
	flag.IntVar(&metricsPortFlag, "metricsport", defaults.MetricsPort, "port to serve /metrics on")
	flag.StringVar(&pprofFlag, "pprof", "", "address to have the profiler listen on, disabled if empty")

	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	log.SetLevel(log.InfoLevel)
	if verboseFlag {
		log.SetLevel(log.DebugLevel)
	}

	var peers []string
	if peersFlag != "" {
		peers = strings.Split(peersFlag, ",")
	}

	cfg, err := config.PrepareConfig(configFlag, peers, tickIntervalFlag, setFlags)
	if err != nil {
		log.Fatal(err)
	}
	if setFlags["monitoringport"] {
		cfg.MonitoringPort = monitoringPortFlag
	}
	if setFlags["metricsport"] {
		cfg.MetricsPort = metricsPortFlag
	}
	if freeRunningFlag {
		cfg.FreeRunning = true
	}

	if pprofFlag != "" {
		go func() {
			if err := http.ListenAndServe(pprofFlag, nil); err != nil {
				log.Errorf("failed to start pprof: %v", err)
			}
		}()
	}

	if err := doWork(cfg); err != nil {
		var fatal *engine.FatalError
		if errors.As(err, &fatal) {
			log.Errorf("ntpsteerd: fatal: %v", fatal)
			os.Exit(fatal.Code)
		}
		log.Fatal(err)
	}
}
