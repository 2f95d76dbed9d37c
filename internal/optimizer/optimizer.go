// Package optimizer implements the §4.10 constrained mean-variance
// allocation step: Ledoit-Wolf shrunk covariance, IC-derived budget
// scaling, regime-blended position bounds and transaction-cost
// multipliers, a turnover/TC-penalized objective solved by penalty-method
// Nelder-Mead warm-started from the previous weights, and a closed-form
// fallback when the solver does not converge.
package optimizer

import (
	"fmt"
	"math"

	"github.com/aristath/rstarengine/internal/config"
	"github.com/aristath/rstarengine/internal/engerr"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/optimize"
)

// RegimeWeights is the same blended-probability shape the equilibrium
// and overlay packages consume: per-instrument-independent regime
// probabilities used to blend bounds and TC multipliers.
type RegimeWeights struct {
	Carry, RiskOff, Stress         float64
	DomesticCalm, DomesticStress   float64
}

// Result is one optimiser step's output.
type Result struct {
	Weights       map[config.Instrument]float64
	Budget        map[config.Instrument]float64
	UsedFallback  bool
	PortfolioVar  float64
}

// Optimizer holds the configuration the §4.10 objective is parameterised
// by.
type Optimizer struct {
	log zerolog.Logger
	cfg config.Config
}

// New constructs an Optimizer.
func New(log zerolog.Logger, cfg config.Config) *Optimizer {
	return &Optimizer{log: log, cfg: cfg}
}

// Step solves the §4.10 objective for one time step.
//
//	maximise   mu' (budget o w) - 0.5*gamma*w'Sigma*w
//	           - sum_i tc_i(regime)*|w_i - w_prev_i| - tp*||w - w_prev||_1
//	subject to w'Sigma*w <= (volTarget/sqrt(12))^2
//	           L_i(regime) <= w_i <= U_i(regime)
func (o *Optimizer) Step(
	mu map[config.Instrument]float64,
	icScores map[config.Instrument]float64,
	cov [][]float64,
	prevWeights map[config.Instrument]float64,
	rw RegimeWeights,
) (Result, error) {
	n := len(config.Instruments)

	budget := budgetScaling(icScores)
	lower, upper := blendedBounds(o.cfg, rw)
	tc := blendedTC(o.cfg, rw)

	muVec := make([]float64, n)
	prevVec := make([]float64, n)
	for i, inst := range config.Instruments {
		muVec[i] = mu[inst]
		prevVec[i] = prevWeights[inst]
	}

	volCap := math.Pow(o.cfg.OverlayVolTargetAnnual/math.Sqrt(12), 2)
	penaltyWeight := 1000.0

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			xp := projectBounds(x, lower, upper)
			var ret, variance, tcCost, tpCost float64
			for i := 0; i < n; i++ {
				ret += muVec[i] * budget[config.Instruments[i]] * xp[i]
				for j := 0; j < n; j++ {
					variance += xp[i] * xp[j] * cov[i][j]
				}
			}
			for i := 0; i < n; i++ {
				d := math.Abs(xp[i] - prevVec[i])
				tcCost += tc[config.Instruments[i]] / 10000.0 * d
				tpCost += o.cfg.TurnoverPenaltyBps / 10000.0 * d
			}
			obj := -(ret - 0.5*o.cfg.Gamma*variance - tcCost - tpCost)
			if variance > volCap {
				obj += penaltyWeight * (variance - volCap) * (variance - volCap)
			}
			return obj
		},
	}

	initial := make([]float64, n)
	copy(initial, prevVec)

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
	converged := err == nil && (result.Status == optimize.Success ||
		result.Status == optimize.FunctionConvergence)

	var weights map[config.Instrument]float64
	usedFallback := false
	if !converged {
		o.log.Warn().Err(err).Msg("optimizer: solver did not converge, using closed-form fallback")
		usedFallback = true
		weights = closedFormFallback(muVec, budget, lower, upper)
	} else {
		xFinal := projectBounds(result.X, lower, upper)
		weights = map[config.Instrument]float64{}
		for i, inst := range config.Instruments {
			weights[inst] = xFinal[i]
		}
	}

	var variance float64
	wv := make([]float64, n)
	for i, inst := range config.Instruments {
		wv[i] = weights[inst]
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			variance += wv[i] * wv[j] * cov[i][j]
		}
	}

	if usedFallback {
		return Result{Weights: weights, Budget: budget, UsedFallback: true, PortfolioVar: variance},
			fmt.Errorf("optimizer: %w", engerr.ErrSolverFailure)
	}
	return Result{Weights: weights, Budget: budget, UsedFallback: false, PortfolioVar: variance}, nil
}

// budgetScaling implements §4.10's IC-derived budget: when at least three
// instruments carry a non-nil IC score, budget_i = n*max(IC_i,0) /
// sum(max(IC,0)); otherwise every instrument gets budget 1, reduced to
// 0.5 if every known IC is negative.
func budgetScaling(icScores map[config.Instrument]float64) map[config.Instrument]float64 {
	n := float64(len(config.Instruments))
	out := map[config.Instrument]float64{}

	observed := 0
	allNegative := true
	sumPos := 0.0
	for _, inst := range config.Instruments {
		ic, ok := icScores[inst]
		if !ok {
			continue
		}
		observed++
		if ic > 0 {
			allNegative = false
			sumPos += ic
		}
	}

	if observed < 3 {
		scale := 1.0
		if observed > 0 && allNegative {
			scale = 0.5
		}
		for _, inst := range config.Instruments {
			out[inst] = scale
		}
		return out
	}

	if sumPos < 1e-12 {
		for _, inst := range config.Instruments {
			out[inst] = 0.5
		}
		return out
	}

	for _, inst := range config.Instruments {
		ic := icScores[inst]
		if ic < 0 {
			ic = 0
		}
		out[inst] = n * ic / sumPos
	}
	return out
}

// blendedBounds linearly blends each regime's per-regime limit table by
// the regime probabilities in rw, falling back to the unconditional
// defaults when no regime is known.
func blendedBounds(cfg config.Config, rw RegimeWeights) (lower, upper map[config.Instrument]float64) {
	lower = map[config.Instrument]float64{}
	upper = map[config.Instrument]float64{}

	total := rw.Carry + rw.RiskOff + rw.Stress
	if total < 1e-9 {
		for inst, lim := range cfg.PositionLimits {
			lower[inst] = lim.Lower
			upper[inst] = lim.Upper
		}
		return
	}

	weights := map[config.Regime]float64{
		config.RegimeCarry:   rw.Carry / total,
		config.RegimeRiskOff: rw.RiskOff / total,
		config.RegimeStress:  rw.Stress / total,
	}

	for _, inst := range config.Instruments {
		var lo, hi float64
		for regime, w := range weights {
			limits, ok := cfg.RegimePositionLimits[regime]
			if !ok {
				continue
			}
			l := limits[inst]
			lo += w * l.Lower
			hi += w * l.Upper
		}
		lower[inst] = lo
		upper[inst] = hi
	}
	return
}

// BlendedTC exports blendedTC for the Backtest Harness, which needs the
// same per-instrument bps figure the optimiser used internally to turn a
// turnover into a reported transaction cost (§3's RunRecord "tc" field).
func BlendedTC(cfg config.Config, rw RegimeWeights) map[config.Instrument]float64 {
	return blendedTC(cfg, rw)
}

// blendedTC blends the base per-instrument transaction cost (bps) by the
// regime multiplier table, weighted by global and domestic regime
// probabilities (domestic stress dominates when present, since it is the
// finer-grained of the two).
func blendedTC(cfg config.Config, rw RegimeWeights) map[config.Instrument]float64 {
	out := map[config.Instrument]float64{}

	total := rw.Carry + rw.RiskOff + rw.Stress
	var globalMult float64
	if total < 1e-9 {
		globalMult = 1.0
	} else {
		globalMult = rw.Carry/total*cfg.TCRegimeMultipliers[config.RegimeCarry] +
			rw.RiskOff/total*cfg.TCRegimeMultipliers[config.RegimeRiskOff] +
			rw.Stress/total*cfg.TCRegimeMultipliers[config.RegimeStress]
	}

	domTotal := rw.DomesticCalm + rw.DomesticStress
	var domMult float64
	if domTotal < 1e-9 {
		domMult = 1.0
	} else {
		domMult = rw.DomesticCalm/domTotal*cfg.TCDomesticMultipliers[config.DomesticCalm] +
			rw.DomesticStress/domTotal*cfg.TCDomesticMultipliers[config.DomesticStress]
	}

	mult := math.Max(globalMult, domMult)
	for inst, bps := range cfg.TransactionCostsBps {
		out[inst] = bps * mult
	}
	return out
}

func projectBounds(x []float64, lower, upper map[config.Instrument]float64) []float64 {
	out := make([]float64, len(x))
	for i, inst := range config.Instruments {
		out[i] = math.Max(lower[inst], math.Min(upper[inst], x[i]))
	}
	return out
}

// closedFormFallback implements §4.10's fallback: w_i = 0.5*mu_i*budget_i
// projected into bounds.
func closedFormFallback(muVec []float64, budget, lower, upper map[config.Instrument]float64) map[config.Instrument]float64 {
	x := make([]float64, len(muVec))
	for i, inst := range config.Instruments {
		x[i] = 0.5 * muVec[i] * budget[inst]
	}
	xp := projectBounds(x, lower, upper)
	out := map[config.Instrument]float64{}
	for i, inst := range config.Instruments {
		out[inst] = xp[i]
	}
	return out
}
