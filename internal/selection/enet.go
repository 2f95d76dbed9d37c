package selection

import "math"

// elasticNetFit fits an elastic-net regression via cyclical coordinate
// descent (Friedman, Hastie & Tibshirani's soft-thresholding update) on
// standardised (mean-0, unit-variance) columns and a centred target.
// Returns per-column coefficients; the caller is responsible for
// standardising X and centring y beforehand.
func elasticNetFit(x [][]float64, y []float64, l1Ratio, alpha float64, maxIter int, tol float64) []float64 {
	p := len(x)
	if p == 0 {
		return nil
	}
	n := len(y)
	beta := make([]float64, p)
	resid := make([]float64, n)
	copy(resid, y)

	l1 := alpha * l1Ratio
	l2Denom := 1 + alpha*(1-l1Ratio)

	for iter := 0; iter < maxIter; iter++ {
		maxDelta := 0.0
		for j := 0; j < p; j++ {
			xj := x[j]
			// Add back this feature's current contribution before refitting it.
			if beta[j] != 0 {
				for i := 0; i < n; i++ {
					resid[i] += xj[i] * beta[j]
				}
			}
			rho := 0.0
			for i := 0; i < n; i++ {
				rho += xj[i] * resid[i]
			}
			rho /= float64(n)

			newBeta := softThreshold(rho, l1) / l2Denom
			delta := math.Abs(newBeta - beta[j])
			if delta > maxDelta {
				maxDelta = delta
			}
			beta[j] = newBeta
			if newBeta != 0 {
				for i := 0; i < n; i++ {
					resid[i] -= xj[i] * newBeta
				}
			}
		}
		if maxDelta < tol {
			break
		}
	}
	return beta
}

func softThreshold(rho, lambda float64) float64 {
	if rho > lambda {
		return rho - lambda
	}
	if rho < -lambda {
		return rho + lambda
	}
	return 0
}

// standardize returns (z, mean, std) for a column, using the floor
// convention internal/series uses elsewhere to avoid divide-by-zero on
// constant columns.
func standardize(xs []float64) (z []float64, mean, std float64) {
	n := len(xs)
	mean = 0
	for _, v := range xs {
		mean += v
	}
	mean /= float64(n)
	var ss float64
	for _, v := range xs {
		d := v - mean
		ss += d * d
	}
	std = math.Sqrt(ss / float64(n))
	if std < 1e-8 {
		std = 1e-8
	}
	z = make([]float64, n)
	for i, v := range xs {
		z[i] = (v - mean) / std
	}
	return z, mean, std
}

// r2Score computes out-of-sample R^2 against actuals.
func r2Score(predicted, actual []float64) float64 {
	var meanY float64
	for _, v := range actual {
		meanY += v
	}
	meanY /= float64(len(actual))
	var ssRes, ssTot float64
	for i := range actual {
		ssRes += (actual[i] - predicted[i]) * (actual[i] - predicted[i])
		ssTot += (actual[i] - meanY) * (actual[i] - meanY)
	}
	if ssTot < 1e-12 {
		return 0
	}
	return 1 - ssRes/ssTot
}

// gridSearchElasticNet performs a simple 70/30 holdout split cross
// validation of elasticNetFit over l1Ratios x alphaCount alphas
// (log-spaced between 1e-4 and 1.0), returning the coefficients (in the
// original, unstandardised feature scale) fit on the full sample at the
// best (l1Ratio, alpha) pair, plus the 100-point coefficient path across
// alpha at the selected l1Ratio.
func gridSearchElasticNet(x [][]float64, y []float64, l1Ratios []float64, alphaCount int) (coefRaw []float64, path [][]float64) {
	p := len(x)
	n := len(y)
	if n < 10 || p == 0 {
		return make([]float64, p), nil
	}

	zx := make([][]float64, p)
	stds := make([]float64, p)
	for j := range x {
		zcol, _, std := standardize(x[j])
		zx[j] = zcol
		stds[j] = std
	}
	yMean := 0.0
	for _, v := range y {
		yMean += v
	}
	yMean /= float64(n)
	zy := make([]float64, n)
	for i, v := range y {
		zy[i] = v - yMean
	}

	split := int(float64(n) * 0.7)
	if split < 5 {
		split = n
	}
	trainX := sliceCols(zx, 0, split)
	trainY := zy[:split]
	valX := sliceCols(zx, split, n)
	valY := zy[split:]

	alphas := logspace(1e-4, 1.0, alphaCount)

	bestScore := math.Inf(-1)
	bestL1Ratio, bestAlpha := l1Ratios[0], alphas[0]
	hasValidation := len(valY) > 0
	for _, l1r := range l1Ratios {
		for _, a := range alphas {
			if !hasValidation {
				continue
			}
			beta := elasticNetFit(trainX, trainY, l1r, a, 200, 1e-5)
			score := r2Score(predictLinear(valX, beta), valY)
			if score > bestScore {
				bestScore = score
				bestL1Ratio = l1r
				bestAlpha = a
			}
		}
	}

	// Refit the winning config on the full sample for the returned
	// coefficients, matching how the caller will use them.
	fullBeta := elasticNetFit(zx, zy, bestL1Ratio, bestAlpha, 200, 1e-5)

	coefRaw = make([]float64, p)
	for j := range fullBeta {
		coefRaw[j] = fullBeta[j] / stds[j]
	}

	path = make([][]float64, len(alphas))
	for i, a := range alphas {
		path[i] = elasticNetFit(zx, zy, bestL1Ratio, a, 100, 1e-4)
	}

	return coefRaw, path
}

func sliceCols(cols [][]float64, lo, hi int) [][]float64 {
	out := make([][]float64, len(cols))
	for j, c := range cols {
		out[j] = c[lo:hi]
	}
	return out
}

func predictLinear(x [][]float64, beta []float64) []float64 {
	if len(x) == 0 {
		return nil
	}
	n := len(x[0])
	out := make([]float64, n)
	for j, col := range x {
		b := beta[j]
		if b == 0 {
			continue
		}
		for i := 0; i < n; i++ {
			out[i] += b * col[i]
		}
	}
	return out
}

func logspace(lo, hi float64, count int) []float64 {
	if count <= 1 {
		return []float64{hi}
	}
	logLo, logHi := math.Log10(lo), math.Log10(hi)
	out := make([]float64, count)
	for i := 0; i < count; i++ {
		frac := float64(i) / float64(count-1)
		out[i] = math.Pow(10, logLo+frac*(logHi-logLo))
	}
	return out
}
