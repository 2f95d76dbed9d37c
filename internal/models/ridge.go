package models

import (
	"fmt"

	"github.com/aristath/rstarengine/internal/reg"
)

// ridgeAlphaGrid is the CV grid §4.8 names for the Ridge learner.
var ridgeAlphaGrid = []float64{1, 5, 10, 20, 50}

type ridgeLearner struct {
	alpha    float64
	fit      *reg.OLSResult
	features []string
}

func newRidgeLearner() *ridgeLearner {
	return &ridgeLearner{alpha: ridgeAlphaGrid[0]}
}

// SetAlpha overrides the shrinkage strength, used by the purged k-fold
// CV refit (§4.8) to install the winning grid value before a production
// fit.
func (r *ridgeLearner) SetAlpha(a float64) { r.alpha = a }

func (r *ridgeLearner) Fit(x [][]float64, y []float64) error {
	fit, err := reg.Ridge(y, x, r.alpha)
	if err != nil {
		return fmt.Errorf("models: ridge fit: %w", err)
	}
	r.fit = fit
	return nil
}

func (r *ridgeLearner) Predict(x [][]float64) ([]float64, error) {
	if r.fit == nil {
		return nil, fmt.Errorf("models: ridge predict before fit")
	}
	if len(x) == 0 {
		return nil, nil
	}
	n := len(x[0])
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v := r.fit.Alpha
		for j, col := range x {
			if j < len(r.fit.Beta) {
				v += r.fit.Beta[j] * col[i]
			}
		}
		out[i] = v
	}
	return out, nil
}

func (r *ridgeLearner) FittedOnFeatures() []string { return r.features }
