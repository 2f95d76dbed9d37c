package instruments

import (
	"math"

	"github.com/aristath/rstarengine/internal/engerr"
)

// Warning records a DataQualityWarning (§7) raised while normalising a
// raw input series.
type Warning struct {
	Series string
	Detail string
}

func (w Warning) asError() error {
	return engerr.DataQualityWarning{Component: "instruments", Series: w.Series, Detail: w.Detail}
}

// NormalizeCDSEMBI auto-detects and corrects two common scale problems in
// sovereign credit series (§7 DataQualityWarning): values published as a
// cumulative index rather than a level, and values published in fraction
// (0.0215) rather than basis points (215). Heuristic, following
// original_source/server/model/fix_cds_embi.py's scale-detection intent:
// a basis-point spread for an emerging-market sovereign is almost always
// in [10, 2000]; a fraction would show up as < 1, and a cumulative index
// would be monotonically non-decreasing over the whole series with a
// huge terminal/initial ratio.
func NormalizeCDSEMBI(name string, xs []float64) ([]float64, *Warning) {
	out := make([]float64, len(xs))
	copy(out, xs)

	valid := validValues(out)
	if len(valid) < 10 {
		return out, nil
	}

	med := median(valid)
	if med > 0 && med < 1.0 {
		// Fraction scale (e.g. 0.0215 meaning 215bps): rescale to bps.
		for i, v := range out {
			if !math.IsNaN(v) {
				out[i] = v * 10000
			}
		}
		return out, &Warning{Series: name, Detail: "rescaled from fraction to basis points"}
	}

	if isMonotoneNonDecreasing(valid) && valid[len(valid)-1] > 5*valid[0] && valid[0] > 0 {
		// Looks like a cumulative index rather than a level: the series
		// is returned unchanged, with a warning reporting the suspicion.
		return out, &Warning{Series: name, Detail: "appears cumulative (monotone, large drift) — left unconverted, callers should verify"}
	}

	return out, nil
}

// NormalizeDebtToGDP auto-detects whether debt/GDP arrived as a
// percentage (e.g. 78.4) or as a ratio (0.784), and rescales to
// percentage points, the unit every §4.4/§4.5 formula assumes.
func NormalizeDebtToGDP(xs []float64) ([]float64, *Warning) {
	out := make([]float64, len(xs))
	copy(out, xs)
	valid := validValues(out)
	if len(valid) < 5 {
		return out, nil
	}
	med := median(valid)
	if med > 0 && med < 5.0 {
		for i, v := range out {
			if !math.IsNaN(v) {
				out[i] = v * 100
			}
		}
		return out, &Warning{Series: "debt_to_gdp", Detail: "rescaled from ratio to percentage points"}
	}
	return out, nil
}

func validValues(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			out = append(out, x)
		}
	}
	return out
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), xs...)
	for i := 1; i < len(sorted); i++ {
		v := sorted[i]
		j := i - 1
		for j >= 0 && sorted[j] > v {
			sorted[j+1] = sorted[j]
			j--
		}
		sorted[j+1] = v
	}
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func isMonotoneNonDecreasing(xs []float64) bool {
	for i := 1; i < len(xs); i++ {
		if xs[i] < xs[i-1] {
			return false
		}
	}
	return true
}
