package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/aristath/rstarengine/internal/backtest"
	"github.com/aristath/rstarengine/internal/config"
	"github.com/aristath/rstarengine/internal/engerr"
	"github.com/aristath/rstarengine/internal/logging"
	"github.com/aristath/rstarengine/internal/panel"
	"github.com/vmihailenco/msgpack/v5"
)

// panelDump is the on-disk msgpack encoding of a raw Panel: a monthly
// index plus every named column, aligned the way internal/panel.New
// expects. Building this file from a live DataSource (vendor fetchers,
// the CSV cache layer) is explicitly out of scope (§1) — this CLI only
// consumes an already-aligned dump.
type panelDump struct {
	Months  []int
	Columns map[string][]float64
}

func main() {
	panelPath := flag.String("panel", "", "path to a msgpack-encoded panel dump (months + raw/ret columns)")
	envPath := flag.String("env", "", "path to a .env file overriding config.Default()")
	selectionHistoryPath := flag.String("selection-history", "", "path to the persisted feature-selection snapshot history")
	outPath := flag.String("out", "runresult.msgpack", "path to write the resulting RunResult")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	if *panelPath == "" {
		fmt.Fprintln(os.Stderr, "backtest: -panel is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest: load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	log := logging.New(cfg.LogLevel, cfg.DevMode)
	log = logging.Component(log, "cmd/backtest")

	raw, err := loadPanel(*panelPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *panelPath).Msg("failed to load panel dump")
	}
	months := raw.Months()
	log.Info().
		Int("first_month", firstOrZero(months)).
		Int("last_month", lastOrZero(months)).
		Int("columns", len(raw.Columns())).
		Msg("panel loaded")

	harness, err := backtest.New(log, cfg, raw, *selectionHistoryPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct backtest harness")
	}

	result, err := harness.Run()
	if err != nil {
		log.Fatal().Err(err).Msg("walk-forward run failed")
	}

	log.Info().
		Str("run_id", result.ID).
		Float64("cagr_overlay", result.Summary.Overlay.CAGR).
		Float64("sharpe_overlay", result.Summary.Overlay.Sharpe).
		Float64("max_drawdown_overlay", result.Summary.Overlay.MaxDrawdown).
		Float64("cagr_total", result.Summary.Total.CAGR).
		Int("months", len(result.Timeseries)).
		Int("trimmed", result.TrimmedMonths).
		Msg("walk-forward run complete")

	if err := writeRunResult(*outPath, result); err != nil {
		log.Fatal().Err(err).Str("path", *outPath).Msg("failed to write run result")
	}
	log.Info().Str("path", *outPath).Msg("run result written")
}

func loadPanel(path string) (*panel.Panel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read panel dump: %v", engerr.ErrDataUnavailable, err)
	}
	var dump panelDump
	if err := msgpack.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("%w: decode panel dump: %v", engerr.ErrDataUnavailable, err)
	}
	return panel.New(dump.Months, dump.Columns)
}

func writeRunResult(path string, result *backtest.RunResult) error {
	data, err := msgpack.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode run result: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func firstOrZero(months []int) int {
	if len(months) == 0 {
		return 0
	}
	return months[0]
}

func lastOrZero(months []int) int {
	if len(months) == 0 {
		return 0
	}
	return months[len(months)-1]
}
