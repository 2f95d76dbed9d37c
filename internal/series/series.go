// Package series implements the §4.1 Series Algebra: winsorisation,
// rolling z-scores with a variance floor, an HP-style one-sided trend
// filter, and the log/diff transforms the rest of the engine builds on.
//
// Every function here is pure: it takes a []float64 aligned to some
// external month index and returns a []float64 of the same length,
// preserving NaN wherever the input carries NaN (§4.1, "NaN is preserved
// where inputs are NaN").
package series

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Unit tags a Series' physical unit, per §3.
type Unit string

const (
	UnitPctAnnual Unit = "pct_annual"
	UnitBps       Unit = "bps"
	UnitFX        Unit = "fx"
	UnitIndex     Unit = "index"
	UnitRatio     Unit = "ratio"
)

// Series is an ordered mapping from month index to value (§3). Months
// is a monotone non-decreasing slice of month-ordinals (e.g. years*12+
// month); Values is aligned 1:1.
type Series struct {
	Name   string
	Unit   Unit
	Months []int
	Values []float64
}

// Len returns the number of observations.
func (s Series) Len() int { return len(s.Values) }

// validN counts non-NaN observations.
func validN(xs []float64) int {
	n := 0
	for _, x := range xs {
		if !math.IsNaN(x) {
			n++
		}
	}
	return n
}

// Winsorise clips each value to the empirical [lo, hi] quantiles computed
// over the non-NaN observations in xs. Per §4.1, it is a passthrough
// (returns a copy, no clipping) if fewer than 10 valid observations are
// available.
func Winsorise(xs []float64, lo, hi float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)

	valid := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			valid = append(valid, x)
		}
	}
	if len(valid) < 10 {
		return out
	}

	sorted := append([]float64(nil), valid...)
	sortFloats(sorted)

	loQ := stat.Quantile(lo, stat.Empirical, sorted, nil)
	hiQ := stat.Quantile(hi, stat.Empirical, sorted, nil)

	for i, x := range out {
		if math.IsNaN(x) {
			continue
		}
		if x < loQ {
			out[i] = loQ
		} else if x > hiQ {
			out[i] = hiQ
		}
	}
	return out
}

func sortFloats(xs []float64) {
	// insertion sort is fine up to the sizes this engine deals with
	// (monthly series, at most a few thousand points); avoids pulling in
	// sort.Float64s just to special-case NaN handling that never arises
	// here since NaNs are filtered out by the caller.
	for i := 1; i < len(xs); i++ {
		v := xs[i]
		j := i - 1
		for j >= 0 && xs[j] > v {
			xs[j+1] = xs[j]
			j--
		}
		xs[j+1] = v
	}
}

// ZScoreRolling computes a rolling z-score: rolling mean and std over
// `window` trailing observations, std floored at `floor`, then the
// result is winsorised 5/95 (§4.1). Minimum periods is max(24, window/2);
// before that many valid observations have accumulated the output is
// NaN.
func ZScoreRolling(xs []float64, window int, floor float64) []float64 {
	minPeriods := window / 2
	if minPeriods < 24 {
		minPeriods = 24
	}

	raw := make([]float64, len(xs))
	for i := range xs {
		raw[i] = math.NaN()

		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		win := xs[lo : i+1]
		if validN(win) < minPeriods || math.IsNaN(xs[i]) {
			continue
		}

		valid := make([]float64, 0, len(win))
		for _, x := range win {
			if !math.IsNaN(x) {
				valid = append(valid, x)
			}
		}
		mean := stat.Mean(valid, nil)
		std := stat.StdDev(valid, nil)
		if std < floor {
			std = floor
		}
		raw[i] = (xs[i] - mean) / std
	}
	return Winsorise(raw, 0.05, 0.95)
}

// LogReturn returns month-over-month log differences: ln(x_t) - ln(x_{t-1}).
func LogReturn(xs []float64) []float64 {
	out := make([]float64, len(xs))
	out[0] = math.NaN()
	for i := 1; i < len(xs); i++ {
		if math.IsNaN(xs[i]) || math.IsNaN(xs[i-1]) || xs[i] <= 0 || xs[i-1] <= 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = math.Log(xs[i]) - math.Log(xs[i-1])
	}
	return out
}

// Diff returns the first difference x_t - x_{t-1}.
func Diff(xs []float64) []float64 {
	out := make([]float64, len(xs))
	out[0] = math.NaN()
	for i := 1; i < len(xs); i++ {
		if math.IsNaN(xs[i]) || math.IsNaN(xs[i-1]) {
			out[i] = math.NaN()
			continue
		}
		out[i] = xs[i] - xs[i-1]
	}
	return out
}

// Diff12 returns the 12-month change, used for debt/GDP acceleration and
// primary-balance momentum features.
func Diff12(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		if i < 12 || math.IsNaN(xs[i]) || math.IsNaN(xs[i-12]) {
			out[i] = math.NaN()
			continue
		}
		out[i] = xs[i] - xs[i-12]
	}
	return out
}

// RollingMean computes a trailing simple moving average over `window`
// observations, requiring max(1, window/2) valid observations (a looser
// rule than ZScoreRolling's max(24, window/2), so short windows work).
func RollingMean(xs []float64, window int) []float64 {
	minPeriods := window / 2
	if minPeriods < 1 {
		minPeriods = 1
	}
	out := make([]float64, len(xs))
	for i := range xs {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		win := xs[lo : i+1]
		if validN(win) < minPeriods {
			out[i] = math.NaN()
			continue
		}
		valid := make([]float64, 0, len(win))
		for _, x := range win {
			if !math.IsNaN(x) {
				valid = append(valid, x)
			}
		}
		out[i] = stat.Mean(valid, nil)
	}
	return out
}

// RollingStd computes a trailing standard deviation with the same
// minimum-periods rule as RollingMean.
func RollingStd(xs []float64, window int) []float64 {
	minPeriods := window / 2
	if minPeriods < 1 {
		minPeriods = 1
	}
	out := make([]float64, len(xs))
	for i := range xs {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		win := xs[lo : i+1]
		if validN(win) < minPeriods {
			out[i] = math.NaN()
			continue
		}
		valid := make([]float64, 0, len(win))
		for _, x := range win {
			if !math.IsNaN(x) {
				valid = append(valid, x)
			}
		}
		out[i] = stat.StdDev(valid, nil)
	}
	return out
}

// HPTrend applies a one-sided (causal) Hodrick-Prescott-style smoothing
// trend: an exponentially-weighted moving average with smoothing
// parameter derived from lambda, used where the spec calls for a "HP-style
// trend" without mandating the two-sided (look-ahead) HP filter, which
// would violate §8 invariant 1. alpha = 1/(1+sqrt(lambda)).
func HPTrend(xs []float64, lambda float64) []float64 {
	alpha := 1.0 / (1.0 + math.Sqrt(lambda))
	out := make([]float64, len(xs))
	var prev float64
	haveTrend := false
	for i, x := range xs {
		if math.IsNaN(x) {
			out[i] = math.NaN()
			continue
		}
		if !haveTrend {
			prev = x
			haveTrend = true
		} else {
			prev = alpha*x + (1-alpha)*prev
		}
		out[i] = prev
	}
	return out
}
