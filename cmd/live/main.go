package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aristath/rstarengine/internal/config"
	"github.com/aristath/rstarengine/internal/engine"
	"github.com/aristath/rstarengine/internal/live"
	"github.com/aristath/rstarengine/internal/logging"
)

// main runs the Production Engine as a standing process: a single
// MonthlyStepJob, registered on a cron schedule, invoked once per month
// to advance the allocation by one step against whatever panel dump the
// surrounding deployment has refreshed on disk (§5: "the surrounding
// layer may invoke step ... in a worker"). The walk-forward backtest in
// cmd/backtest never touches this path.
func main() {
	panelPath := flag.String("panel", "", "path to a msgpack-encoded panel dump, refreshed by the surrounding deployment")
	statePath := flag.String("state", "live-state.msgpack", "path to the persisted step state (previous weights, drawdown, vol, IC)")
	envPath := flag.String("env", "", "path to a .env file overriding config.Default()")
	selectionHistoryPath := flag.String("selection-history", "", "path to the persisted feature-selection snapshot history")
	schedule := flag.String("schedule", "0 0 0 1 * *", "cron expression the monthly step runs on")
	runNow := flag.Bool("run-now", false, "run one step immediately instead of waiting for the schedule")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	if *panelPath == "" {
		fmt.Fprintln(os.Stderr, "live: -panel is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "live: load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	log := logging.New(cfg.LogLevel, cfg.DevMode)
	log = logging.Component(log, "cmd/live")

	panels := live.NewFilePanelSource(*panelPath)
	state := live.NewFileState(*statePath)

	raw, _, err := panels.Latest()
	if err != nil {
		log.Fatal().Err(err).Str("path", *panelPath).Msg("failed to load initial panel dump")
	}

	eng, err := engine.New(log, cfg, raw, *selectionHistoryPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct engine")
	}

	job := live.NewMonthlyStepJob(log, eng, panels, state)
	sched := live.NewScheduler(log)

	if *runNow {
		if err := sched.RunNow(job); err != nil {
			log.Fatal().Err(err).Msg("monthly step failed")
		}
		return
	}

	if err := sched.AddJob(*schedule, job); err != nil {
		log.Fatal().Err(err).Str("schedule", *schedule).Msg("failed to register monthly step job")
	}
	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	sched.Stop()
}
