package optimizer

import "github.com/aristath/rstarengine/internal/config"

// sampleCovariance returns the sample covariance matrix of monthly
// returns over the trailing window, row/column order following
// config.Instruments.
func sampleCovariance(returns map[config.Instrument][]float64) [][]float64 {
	n := len(config.Instruments)
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}

	means := make([]float64, n)
	lens := make([]int, n)
	for i, inst := range config.Instruments {
		r := returns[inst]
		lens[i] = len(r)
		for _, v := range r {
			means[i] += v
		}
		if lens[i] > 0 {
			means[i] /= float64(lens[i])
		}
	}

	t := 0
	for _, l := range lens {
		if l > t {
			t = l
		}
	}
	if t < 2 {
		for i := range out {
			out[i][i] = 1e-6
		}
		return out
	}

	for i, instI := range config.Instruments {
		ri := returns[instI]
		for j, instJ := range config.Instruments {
			rj := returns[instJ]
			m := lens[i]
			if lens[j] < m {
				m = lens[j]
			}
			if m < 2 {
				if i == j {
					out[i][j] = 1e-6
				}
				continue
			}
			var cov float64
			for k := 0; k < m; k++ {
				cov += (ri[k] - means[i]) * (rj[k] - means[j])
			}
			out[i][j] = cov / float64(m-1)
		}
	}
	return out
}

// ledoitWolfShrink shrinks the sample covariance toward a scaled-identity
// target (constant-diagonal, zero off-diagonal), the simplest Ledoit-Wolf
// target, applied whenever T > p+1 (otherwise the sample covariance is
// used unshrunk, per §4.10). The shrinkage intensity is
// ||S - target||_F^2 / ||S||_F^2 clipped to [0, 1]; it is not the
// Ledoit-Wolf optimal intensity, which also weighs the sampling variance
// of S, and it does not depend on T.
func ledoitWolfShrink(sample [][]float64, t int) [][]float64 {
	p := len(sample)
	if p == 0 {
		return sample
	}

	meanVar := 0.0
	for i := 0; i < p; i++ {
		meanVar += sample[i][i]
	}
	meanVar /= float64(p)

	target := make([][]float64, p)
	for i := range target {
		target[i] = make([]float64, p)
		target[i][i] = meanVar
	}

	if t <= p+1 {
		return sample
	}

	var num, den float64
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			d := sample[i][j] - target[i][j]
			num += d * d
			den += sample[i][j] * sample[i][j]
		}
	}
	if den < 1e-12 {
		return sample
	}
	shrinkage := num / den
	if shrinkage < 0 {
		shrinkage = 0
	}
	if shrinkage > 1 {
		shrinkage = 1
	}

	out := make([][]float64, p)
	for i := range out {
		out[i] = make([]float64, p)
		for j := range out[i] {
			out[i][j] = shrinkage*target[i][j] + (1-shrinkage)*sample[i][j]
		}
	}
	return out
}

// Covariance builds the §4.10 covariance matrix: sample covariance over
// the trailing window, Ledoit-Wolf shrunk toward scaled identity when
// T > p+1.
func Covariance(returns map[config.Instrument][]float64, windowMonths int) [][]float64 {
	sample := sampleCovariance(returns)
	t := 0
	for _, inst := range config.Instruments {
		if l := len(returns[inst]); l > t {
			t = l
		}
	}
	if t > windowMonths {
		t = windowMonths
	}
	return ledoitWolfShrink(sample, t)
}
