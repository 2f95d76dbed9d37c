package models

import "math"

// PurgedFold is one purged k-fold CV split: train indices exclude a
// purge_gap-observation buffer on both sides of the test slice, so no
// training row sits close enough in time to leak information about a
// test row (§4.8 "no future leakage").
type PurgedFold struct {
	Train []int
	Test  []int
}

// PurgedKFold builds n_splits contiguous test folds over [0, n), each
// with a purgeGap-observation buffer excluded from the training set on
// both sides of the fold.
func PurgedKFold(n, nSplits, purgeGap int) []PurgedFold {
	folds := make([]PurgedFold, 0, nSplits)
	foldSize := n / nSplits
	if foldSize < 1 {
		return folds
	}
	for f := 0; f < nSplits; f++ {
		testLo := f * foldSize
		testHi := testLo + foldSize
		if f == nSplits-1 {
			testHi = n
		}
		test := make([]int, 0, testHi-testLo)
		for i := testLo; i < testHi; i++ {
			test = append(test, i)
		}

		purgeLo := testLo - purgeGap
		purgeHi := testHi + purgeGap
		train := make([]int, 0, n)
		for i := 0; i < n; i++ {
			if i >= purgeLo && i < purgeHi {
				continue
			}
			train = append(train, i)
		}
		folds = append(folds, PurgedFold{Train: train, Test: test})
	}
	return folds
}

// RidgeCVResult is the outcome of a purged k-fold ridge alpha search.
type RidgeCVResult struct {
	BestAlpha float64
	BestR2    float64
}

// SelectRidgeAlpha runs purged k-fold CV over ridgeAlphaGrid (§4.8's CV
// grid for Ridge), returning the alpha with the best average
// out-of-sample R^2.
func SelectRidgeAlpha(x [][]float64, y []float64, nSplits, purgeGap int) RidgeCVResult {
	n := len(y)
	folds := PurgedKFold(n, nSplits, purgeGap)
	best := RidgeCVResult{BestAlpha: ridgeAlphaGrid[0], BestR2: math.Inf(-1)}

	for _, alpha := range ridgeAlphaGrid {
		var totalR2, count float64
		for _, fold := range folds {
			if len(fold.Train) < len(x)+2 || len(fold.Test) == 0 {
				continue
			}
			trainX := selectRows(x, fold.Train)
			trainY := selectRowsVec(y, fold.Train)
			testX := selectRows(x, fold.Test)
			testY := selectRowsVec(y, fold.Test)

			learner := newRidgeLearner()
			learner.SetAlpha(alpha)
			if err := learner.Fit(trainX, trainY); err != nil {
				continue
			}
			pred, err := learner.Predict(testX)
			if err != nil {
				continue
			}
			totalR2 += r2(pred, testY)
			count++
		}
		if count == 0 {
			continue
		}
		avg := totalR2 / count
		if avg > best.BestR2 {
			best.BestR2 = avg
			best.BestAlpha = alpha
		}
	}
	return best
}

func selectRows(cols [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(cols))
	for j, c := range cols {
		row := make([]float64, len(idx))
		for i, ix := range idx {
			row[i] = c[ix]
		}
		out[j] = row
	}
	return out
}

func selectRowsVec(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, ix := range idx {
		out[i] = v[ix]
	}
	return out
}

func r2(predicted, actual []float64) float64 {
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
