package overlays

import (
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	garchMinRecords = 24
	garchWindow     = 60
	sampleStdWindow = 20
	volFloorAnnual  = 0.02
	volCapAnnual    = 0.50
)

// garchParams is a fitted GARCH(1,1) specification:
// sigma2_t = omega + alpha*eps_{t-1}^2 + beta*sigma2_{t-1}.
type garchParams struct {
	omega, alpha, beta float64
}

// fitGARCH11 estimates a GARCH(1,1) by maximum likelihood under a
// Gaussian innovation assumption, starting from the method-of-moments
// initial guess and solving with Nelder-Mead over a soft-penalized
// stationarity constraint (alpha+beta < 1, all params non-negative) —
// the same optimize.Minimize / penalty-method idiom used for the §4.10
// portfolio solve.
func fitGARCH11(returns []float64) (garchParams, bool) {
	n := len(returns)
	if n < garchMinRecords {
		return garchParams{}, false
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)
	eps := make([]float64, n)
	var sampleVar float64
	for i, r := range returns {
		eps[i] = r - mean
		sampleVar += eps[i] * eps[i]
	}
	sampleVar /= float64(n)
	if sampleVar < 1e-12 {
		return garchParams{}, false
	}

	negLL := func(x []float64) float64 {
		omega, alpha, beta := math.Abs(x[0]), clamp01(x[1]), clamp01(x[2])
		penalty := 0.0
		if alpha+beta >= 0.999 {
			penalty = 1000.0 * (alpha + beta - 0.999) * (alpha + beta - 0.999)
		}

		sigma2 := sampleVar
		var ll float64
		for _, e := range eps {
			sigma2 = omega + alpha*e*e + beta*sigma2
			if sigma2 < 1e-12 {
				sigma2 = 1e-12
			}
			dist := distuv.Normal{Mu: 0, Sigma: math.Sqrt(sigma2)}
			ll += dist.LogProb(e)
		}
		return -ll + penalty
	}

	problem := optimize.Problem{Func: negLL}
	initial := []float64{sampleVar * 0.1, 0.1, 0.8}
	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
	if err != nil {
		return garchParams{}, false
	}

	omega, alpha, beta := math.Abs(result.X[0]), clamp01(result.X[1]), clamp01(result.X[2])
	if alpha+beta >= 1.0 {
		return garchParams{}, false
	}
	return garchParams{omega: omega, alpha: alpha, beta: beta}, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ForecastVol implements §4.11 step 2's realised-vol estimate: GARCH(1,1)
// on the last 60 overlay monthly returns when there are at least 24
// records, else the 20-month sample standard deviation, annualised and
// clamped to [2%, 50%]. Called by the Backtest Harness (L12), which owns
// the overlay-return history; the Production Engine (L11) itself only
// ever sees the resulting scalar, per §4.12's step(t, prev_weights,
// drawdown, realised_vol, ic_scores) signature.
func ForecastVol(overlayReturns []float64) float64 {
	var monthly float64

	window := overlayReturns
	if len(window) > garchWindow {
		window = window[len(window)-garchWindow:]
	}

	if params, ok := fitGARCH11(window); ok {
		mean := 0.0
		for _, r := range window {
			mean += r
		}
		mean /= float64(len(window))

		sigma2 := 0.0
		for _, r := range window {
			d := r - mean
			sigma2 += d * d
		}
		sigma2 /= float64(len(window))

		for _, r := range window {
			d := r - mean
			sigma2 = params.omega + params.alpha*d*d + params.beta*sigma2
		}
		monthly = math.Sqrt(math.Max(sigma2, 1e-12))
	} else {
		sample := overlayReturns
		if len(sample) > sampleStdWindow {
			sample = sample[len(sample)-sampleStdWindow:]
		}
		if len(sample) < 2 {
			return volFloorAnnual
		}
		mean := 0.0
		for _, r := range sample {
			mean += r
		}
		mean /= float64(len(sample))
		var sumSq float64
		for _, r := range sample {
			d := r - mean
			sumSq += d * d
		}
		monthly = math.Sqrt(sumSq / float64(len(sample)-1))
	}

	annual := monthly * math.Sqrt(12)
	if annual < volFloorAnnual {
		annual = volFloorAnnual
	}
	if annual > volCapAnnual {
		annual = volCapAnnual
	}
	return annual
}

// VolTargetScale implements §4.11 step 2's position scale: min(1,
// vol_target / sigma_ann). Convenience wrapper over ForecastVol +
// ScaleFromVol for callers that hold the raw return history.
func VolTargetScale(overlayReturns []float64, volTargetAnnual float64) float64 {
	return ScaleFromVol(ForecastVol(overlayReturns), volTargetAnnual)
}

// ScaleFromVol applies §4.11 step 2's position scale to an already
// forecast realised vol: min(1, vol_target / sigma_ann). This is what
// the Production Engine calls with the realised_vol scalar it receives
// as a step input.
func ScaleFromVol(realisedVolAnnual, volTargetAnnual float64) float64 {
	if realisedVolAnnual <= 0 {
		return 1.0
	}
	scale := volTargetAnnual / realisedVolAnnual
	if scale > 1.0 {
		scale = 1.0
	}
	return scale
}
