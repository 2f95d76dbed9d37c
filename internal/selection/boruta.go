package selection

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// BorutaVerdict is one feature's classification after the
// shadow-permutation test.
type BorutaVerdict string

const (
	BorutaConfirmed BorutaVerdict = "confirmed"
	BorutaTentative BorutaVerdict = "tentative"
	BorutaRejected  BorutaVerdict = "rejected"
)

// importance is the fast, from-scratch feature-importance proxy used by
// both Boruta and the stability scorer's "RF importance" component: the
// absolute Pearson correlation between the feature and the target,
// matching how a single-variable split's impurity reduction ranks
// features in practice for the short monthly panels this engine fits
// on. A full gradient-boosted/random-forest importance is out of reach
// without a real tree-ensemble library in the dependency pack; see
// DESIGN.md for the justification.
func importance(x, y []float64) float64 {
	if len(x) < 3 {
		return 0
	}
	c := stat.Correlation(x, y, nil)
	if math.IsNaN(c) {
		return 0
	}
	return math.Abs(c)
}

// borutaTest runs the shadow-permutation procedure (§4.7 step 2/4): each
// iteration shuffles a copy of every real feature to build shadow
// columns, records the maximum shadow importance, and tallies how often
// each real feature beats it. Verdicts come from a two-sided exact
// binomial test at alpha against p=0.5, the way a real Boruta
// implementation tests "hits" against chance.
func borutaTest(names []string, x [][]float64, y []float64, iterations int, alpha float64, rng *rand.Rand) map[string]BorutaVerdict {
	p := len(names)
	hits := make([]int, p)

	for iter := 0; iter < iterations; iter++ {
		maxShadow := 0.0
		for j := 0; j < p; j++ {
			shadow := shuffledCopy(x[j], rng)
			imp := importance(shadow, y)
			if imp > maxShadow {
				maxShadow = imp
			}
		}
		for j := 0; j < p; j++ {
			if importance(x[j], y) > maxShadow {
				hits[j]++
			}
		}
	}

	verdicts := make(map[string]BorutaVerdict, p)
	binom := distuv.Binomial{N: float64(iterations), P: 0.5}
	for j, name := range names {
		pValueHigh := 1 - binom.CDF(float64(hits[j])-1)
		pValueLow := binom.CDF(float64(hits[j]))
		switch {
		case pValueHigh < alpha:
			verdicts[name] = BorutaConfirmed
		case pValueLow < alpha:
			verdicts[name] = BorutaRejected
		default:
			verdicts[name] = BorutaTentative
		}
	}
	return verdicts
}

func shuffledCopy(xs []float64, rng *rand.Rand) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
