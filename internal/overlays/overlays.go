// Package overlays implements §4.11's post-optimisation risk overlays,
// applied in order: a drawdown throttle, GARCH(1,1)/sample-std vol
// targeting, and a combined-stress circuit breaker with per-instrument
// hard cuts. Regime scaling is deliberately not reapplied here — it
// already entered mu_adj upstream, and redoing it here would double
// count it.
package overlays

import (
	"github.com/aristath/rstarengine/internal/config"
	"github.com/rs/zerolog"
)

// Result is one overlay pass's output, carrying the intermediate scales
// so callers can log or inspect which overlay bound the final weights.
type Result struct {
	Weights       map[config.Instrument]float64
	DrawdownScale float64
	VolScale      float64
	BreakerOpen   bool
}

// Engine owns the stateful combined-stress breaker across steps; the
// drawdown throttle and vol target are pure functions of their inputs.
type Engine struct {
	log     zerolog.Logger
	cfg     config.Config
	breaker *StressBreaker
}

// New constructs an overlay Engine.
func New(log zerolog.Logger, cfg config.Config) *Engine {
	return &Engine{log: log, cfg: cfg, breaker: NewStressBreaker(log)}
}

// Apply runs the three §4.11 overlays in order over the optimiser's raw
// weights: drawdown throttle, vol targeting, circuit breaker. drawdown
// and realisedVolAnnual are precomputed scalars (the Backtest Harness
// owns the equity curve and overlay-return history they are derived
// from, per §4.12's step(t, prev_weights, drawdown, realised_vol,
// ic_scores) signature and §3's ownership split).
func (e *Engine) Apply(
	rawWeights map[config.Instrument]float64,
	drawdown float64,
	realisedVolAnnual float64,
	pRiskOff, pDomesticStress float64,
) Result {
	ddScale := DrawdownScale(drawdown, e.cfg.DrawdownOverlay)
	volScale := ScaleFromVol(realisedVolAnnual, e.cfg.OverlayVolTargetAnnual)

	scaled := map[config.Instrument]float64{}
	for inst, w := range rawWeights {
		scaled[inst] = w * ddScale * volScale
	}

	before := map[config.Instrument]float64{}
	for inst, w := range scaled {
		before[inst] = w
	}
	after := e.breaker.Apply(scaled, pRiskOff, pDomesticStress)

	breakerOpen := false
	for inst := range after {
		if after[inst] != before[inst] {
			breakerOpen = true
			break
		}
	}

	if ddScale < 1.0 {
		e.log.Info().Float64("drawdown", drawdown).Float64("scale", ddScale).Msg("overlays: drawdown throttle active")
	}

	return Result{
		Weights:       after,
		DrawdownScale: ddScale,
		VolScale:      volScale,
		BreakerOpen:   breakerOpen,
	}
}
