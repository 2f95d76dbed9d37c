package selection

import (
	"math/rand"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// StabilityRecord holds one feature's composite stability score and its
// three components (§4.7 step 5).
type StabilityRecord struct {
	EnetFreq        float64
	BorutaFreq      float64
	RFImportanceAvg float64
	Composite       float64
	Classification  string // "robust", "moderate", "unstable"
}

const (
	classRobust    = "robust"
	classModerate  = "moderate"
	classUnstable  = "unstable"
)

// stabilityScore runs the bootstrap stability procedure (§4.7 step 5):
// `subsamples` bootstrap draws of `frac` of the rows (without
// replacement within a draw), each scored by a fast Elastic-Net variant
// (reduced alpha grid) and a fast Boruta variant (reduced iterations),
// fanned out concurrently via errgroup since draws are independent.
func stabilityScore(names []string, x [][]float64, y []float64, subsamples int, frac float64, fastAlphaCount, fastBorutaIter int, seed int64) (map[string]StabilityRecord, error) {
	p := len(names)
	n := len(y)
	subsetSize := int(float64(n) * frac)
	if subsetSize < 10 {
		subsetSize = n
	}

	enetHits := make([]int64, p)
	borutaHits := make([]int64, p)
	rfSum := make([]float64, p)

	var g errgroup.Group
	var mu sync.Mutex
	for s := 0; s < subsamples; s++ {
		s := s
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed + int64(s)))
			idx := sampleWithoutReplacement(n, subsetSize, rng)
			subX := make([][]float64, p)
			for j := range x {
				subX[j] = gather(x[j], idx)
			}
			subY := gather(y, idx)

			_, path := gridSearchElasticNet(subX, subY, []float64{0.3, 0.5, 0.7}, fastAlphaCount)
			enetSelected := make([]bool, p)
			if len(path) > 0 {
				last := path[len(path)-1]
				for j := 0; j < p && j < len(last); j++ {
					if last[j] != 0 {
						enetSelected[j] = true
					}
				}
			}

			verdicts := borutaTest(names, subX, subY, fastBorutaIter, 0.05, rng)

			localRF := make([]float64, p)
			for j := 0; j < p; j++ {
				localRF[j] = importance(subX[j], subY)
			}

			mu.Lock()
			for j := 0; j < p; j++ {
				if enetSelected[j] {
					enetHits[j]++
				}
				if verdicts[names[j]] == BorutaConfirmed {
					borutaHits[j]++
				}
				rfSum[j] += localRF[j]
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	maxRF := 0.0
	rfAvg := make([]float64, p)
	for j := 0; j < p; j++ {
		rfAvg[j] = rfSum[j] / float64(subsamples)
		if rfAvg[j] > maxRF {
			maxRF = rfAvg[j]
		}
	}
	if maxRF < 1e-9 {
		maxRF = 1
	}

	records := make(map[string]StabilityRecord, p)
	composites := make([]float64, p)
	for j, name := range names {
		enetFreq := float64(enetHits[j]) / float64(subsamples)
		borutaFreq := float64(borutaHits[j]) / float64(subsamples)
		rfNorm := rfAvg[j] / maxRF
		composite := 0.4*enetFreq + 0.3*borutaFreq + 0.3*rfNorm
		records[name] = StabilityRecord{EnetFreq: enetFreq, BorutaFreq: borutaFreq, RFImportanceAvg: rfNorm, Composite: composite}
		composites[j] = composite
	}

	p75 := percentile(composites, 0.75)
	p40 := percentile(composites, 0.40)
	if p75-p40 < minStabilityGapDefault {
		p75 = p40 + minStabilityGapDefault
	}
	for name, rec := range records {
		switch {
		case rec.Composite >= p75:
			rec.Classification = classRobust
		case rec.Composite >= p40:
			rec.Classification = classModerate
		default:
			rec.Classification = classUnstable
		}
		records[name] = rec
	}

	return records, nil
}

const minStabilityGapDefault = 0.05

func percentile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

func sampleWithoutReplacement(n, k int, rng *rand.Rand) []int {
	if k >= n {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	perm := rng.Perm(n)
	return perm[:k]
}

func gather(xs []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, ix := range idx {
		out[i] = xs[ix]
	}
	return out
}
