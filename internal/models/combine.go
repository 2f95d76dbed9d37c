package models

import (
	"math"
)

// OOSPair is one (predicted, realised) out-of-sample observation,
// recorded per model per instrument (§4.8's ModelArtefact OOS history).
type OOSPair struct {
	Predicted, Realised float64
}

const (
	combineHalfLifeMonths = 24.0
	combineWindow         = 36
	minOOSPoints          = 12
	icWindow              = 36
	minICPoints           = 24
	icGateFloor           = 0.15
	icBoostCap            = 1.5
)

// CombineWeights computes the per-model ensemble weights (§4.8 "Ensemble
// combination") from each model's trailing OOS history: proportional to
// the exponentially-weighted correlation between prediction and
// realisation (24-month halflife, last 36 pairs), clamped at zero,
// falling back to uniform 0.25 each if no model has >= 12 OOS points.
func CombineWeights(history map[string][]OOSPair) map[string]float64 {
	scores := map[string]float64{}
	anyQualified := false
	for name, pairs := range history {
		tail := pairs
		if len(tail) > combineWindow {
			tail = tail[len(tail)-combineWindow:]
		}
		if len(tail) < minOOSPoints {
			scores[name] = 0
			continue
		}
		anyQualified = true
		scores[name] = math.Max(0, weightedCorrelation(tail))
	}

	weights := map[string]float64{}
	if !anyQualified {
		n := float64(len(history))
		if n == 0 {
			return weights
		}
		for name := range history {
			weights[name] = 1.0 / n
		}
		return weights
	}

	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	if sum < 1e-9 {
		n := float64(len(history))
		for name := range history {
			weights[name] = 1.0 / n
		}
		return weights
	}
	for name, s := range scores {
		weights[name] = s / sum
	}
	return weights
}

// weightedCorrelation computes the correlation between predicted and
// realised values in pairs, weighted by an exponential decay (24-month
// halflife) favouring the most recent observations — more recent pairs
// get index len-1.
func weightedCorrelation(pairs []OOSPair) float64 {
	n := len(pairs)
	lambda := math.Log(2) / combineHalfLifeMonths
	w := make([]float64, n)
	wsum := 0.0
	for i := range pairs {
		age := float64(n - 1 - i)
		w[i] = math.Exp(-lambda * age)
		wsum += w[i]
	}

	var meanP, meanR float64
	for i, pr := range pairs {
		meanP += w[i] * pr.Predicted
		meanR += w[i] * pr.Realised
	}
	meanP /= wsum
	meanR /= wsum

	var cov, varP, varR float64
	for i, pr := range pairs {
		dp := pr.Predicted - meanP
		dr := pr.Realised - meanR
		cov += w[i] * dp * dr
		varP += w[i] * dp * dp
		varR += w[i] * dr * dr
	}
	if varP < 1e-12 || varR < 1e-12 {
		return 0
	}
	return cov / math.Sqrt(varP*varR)
}

// ICGate implements §4.8's soft IC gate: IC = weightedCorrelation of
// (predicted, realised) over the last 36 OOS pairs (needs >= 24); below
// the threshold, mu is scaled by max(0.15, (IC+0.1)/(ICMax+0.1)); at or
// above the threshold, mu is boosted up to 1.5x proportional to
// IC/ICMax. Never zeroes mu outright.
func ICGate(pairs []OOSPair, icThreshold, icMax float64) (scale float64, ic float64, gated bool) {
	tail := pairs
	if len(tail) > icWindow {
		tail = tail[len(tail)-icWindow:]
	}
	if len(tail) < minICPoints {
		return 1.0, math.NaN(), false
	}
	ic = weightedCorrelation(tail)
	if ic < icThreshold {
		scale = math.Max(icGateFloor, (ic+0.1)/(icMax+0.1))
		return scale, ic, true
	}
	if icMax <= 0 {
		return 1.0, ic, true
	}
	boost := 1.0 + math.Min(icBoostCap-1.0, (icBoostCap-1.0)*(ic/icMax))
	return boost, ic, true
}
