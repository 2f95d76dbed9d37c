package live

import (
	"fmt"

	"github.com/aristath/rstarengine/internal/config"
	"github.com/aristath/rstarengine/internal/engine"
	"github.com/aristath/rstarengine/internal/panel"
	"github.com/rs/zerolog"
)

// PanelSource supplies the panel a monthly step runs against and the
// decision month t to step at. Building that panel from a live
// DataSource (vendor fetchers, the CSV cache layer) is explicitly out of
// scope (§1) — this package only consumes whatever the surrounding
// deployment already assembled.
type PanelSource interface {
	Latest() (raw *panel.Panel, t int, err error)
}

// State persists the inputs and outputs a monthly step needs across
// invocations: the previous month's weights, and the realised drawdown/
// vol/IC inputs §4.12's step signature takes externally. A backtest
// never needs this — the Backtest Harness derives all four from its own
// equity history (§3's ownership split); a live deployment has no
// equivalent in-process history across process restarts, so it persists
// them here instead.
type State interface {
	Load() (prevWeights map[config.Instrument]float64, drawdown, realisedVolAnnual float64, icScores map[config.Instrument]float64, err error)
	Save(result *engine.StepResult, drawdown, realisedVolAnnual float64, icScores map[config.Instrument]float64) error
}

// MonthlyStepJob calls engine.Step once per scheduled invocation, the
// production-deployment analogue of one iteration of the Backtest
// Harness's walk-forward loop.
type MonthlyStepJob struct {
	log    zerolog.Logger
	eng    *engine.Engine
	panels PanelSource
	state  State
}

// NewMonthlyStepJob wires an Engine, a PanelSource and a State store into
// a schedulable Job.
func NewMonthlyStepJob(log zerolog.Logger, eng *engine.Engine, panels PanelSource, state State) *MonthlyStepJob {
	return &MonthlyStepJob{
		log:    log.With().Str("component", "live.monthly_step").Logger(),
		eng:    eng,
		panels: panels,
		state:  state,
	}
}

// Name satisfies Job.
func (j *MonthlyStepJob) Name() string { return "monthly_step" }

// Run loads the persisted state, steps the engine for the latest
// decision month, and persists the resulting allocation and the scalar
// inputs the next invocation needs.
func (j *MonthlyStepJob) Run() error {
	prevWeights, drawdown, vol, icScores, err := j.state.Load()
	if err != nil {
		return fmt.Errorf("live: load state: %w", err)
	}

	raw, t, err := j.panels.Latest()
	if err != nil {
		return fmt.Errorf("live: load panel: %w", err)
	}
	j.eng.UpdateRaw(raw)

	result, err := j.eng.Step(t, prevWeights, drawdown, vol, icScores)
	if err != nil {
		return fmt.Errorf("live: step %d: %w", t, err)
	}

	if err := j.state.Save(result, drawdown, vol, icScores); err != nil {
		return fmt.Errorf("live: save state: %w", err)
	}

	j.log.Info().
		Int("month", t).
		Bool("breaker_open", result.BreakerOpen).
		Bool("used_fallback_solver", result.UsedFallbackSolver).
		Msg("monthly step complete")
	return nil
}
