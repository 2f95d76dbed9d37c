package engine

import (
	"math"

	"github.com/aristath/rstarengine/internal/config"
)

// demeanAndScale implements §4.9's score demeaning: raw composite score
// S = sum(mu_inst) is compared against a rolling buffer of the last
// window raw scores; when the buffer is full enough and |S| exceeds
// epsilon, each mu_inst is scaled by S~/S (S~ the demeaned/clipped
// z-score), clipped to [-3,3]; otherwise mu passes through unchanged.
func demeanAndScale(mu map[config.Instrument]float64, history []float64, window int, epsilon float64) map[config.Instrument]float64 {
	var raw float64
	for _, v := range mu {
		raw += v
	}

	out := make(map[config.Instrument]float64, len(mu))
	if math.Abs(raw) <= epsilon || len(history) < 2 {
		for inst, v := range mu {
			out[inst] = v
		}
		return out
	}

	tail := history
	if len(tail) > window {
		tail = tail[len(tail)-window:]
	}
	mean := 0.0
	for _, v := range tail {
		mean += v
	}
	mean /= float64(len(tail))
	var sumSq float64
	for _, v := range tail {
		d := v - mean
		sumSq += d * d
	}
	std := math.Sqrt(sumSq / float64(len(tail)))
	if std < 0.5 {
		std = 0.5
	}

	sTilde := (raw - mean) / std
	if sTilde > 3 {
		sTilde = 3
	}
	if sTilde < -3 {
		sTilde = -3
	}

	scale := sTilde / raw
	for inst, v := range mu {
		out[inst] = v * scale
	}
	return out
}

// regimeScale implements §4.9's second pass: per instrument, mu_adj =
// mu * globalScale(regime probs) * domesticScale(regime probs), with
// globalScale the more aggressive dampener and domesticScale the softer
// overlay (Config.GlobalRegimeScale/DomesticRegimeScale).
func regimeScale(
	mu map[config.Instrument]float64,
	globalProbs map[config.Regime]float64,
	domesticProbs map[config.DomesticRegime]float64,
	cfg config.Config,
) map[config.Instrument]float64 {
	var gScale float64
	for regime, p := range globalProbs {
		gScale += p * cfg.GlobalRegimeScale[regime]
	}
	if gScale == 0 {
		gScale = 1.0
	}

	var dScale float64
	for regime, p := range domesticProbs {
		dScale += p * cfg.DomesticRegimeScale[regime]
	}
	if dScale == 0 {
		dScale = 1.0
	}

	out := make(map[config.Instrument]float64, len(mu))
	for inst, v := range mu {
		out[inst] = v * gScale * dScale
	}
	return out
}
