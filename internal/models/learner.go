// Package models implements §4.8: the per-instrument ensemble of Ridge,
// GBM, RandomForest and XGBoost-style learners behind a common Learner
// interface, purged k-fold hyperparameter refit, and the
// exponentially-weighted-correlation ensemble combiner with IC gating.
package models

import "fmt"

// Learner is the common contract every alpha model implements: fit on a
// training window, predict on new rows, and report which feature names
// it was fit on. Fit receives bare columns with no names, so every
// learner in this package returns nil from FittedOnFeatures, and the
// ensemble combiner does not call it.
type Learner interface {
	Fit(x [][]float64, y []float64) error
	Predict(x [][]float64) ([]float64, error)
	FittedOnFeatures() []string
}

// Registry is a small name -> constructor map (§4.8 "dictionary of
// learners" pattern), mirroring the teacher's module-registry idiom. Every
// constructor takes a seed so callers can refit a learner deterministically
// for a given step without every refit across the backtest sharing the same
// draw.
type Registry struct {
	constructors map[string]func(seed int64) Learner
}

// NewRegistry builds the standard four-model registry.
func NewRegistry() *Registry {
	r := &Registry{constructors: map[string]func(seed int64) Learner{}}
	r.Register("ridge", func(seed int64) Learner { return newRidgeLearner() })
	r.Register("gbm", func(seed int64) Learner { return newGBMLearner() })
	r.Register("random_forest", func(seed int64) Learner { return newRandomForestLearner(seed) })
	r.Register("xgboost", func(seed int64) Learner { return newXGBoostLearner() })
	return r
}

// AlphaSetter is implemented by learners whose regularisation strength
// is tunable after construction (currently only Ridge). The engine's
// predictInstrument type-asserts a freshly constructed Learner onto this
// interface to install the alpha chosen by the purged k-fold CV refit
// (cv.go) before the production fit, without widening the common
// Learner contract.
type AlphaSetter interface {
	SetAlpha(alpha float64)
}

// Register adds or replaces a named learner constructor.
func (r *Registry) Register(name string, ctor func(seed int64) Learner) {
	r.constructors[name] = ctor
}

// New constructs a fresh instance of the named learner, seeded with seed
// for learners whose fit involves randomness (e.g. random_forest's
// bootstrap row/feature sampling). Learners with no random component
// ignore it.
func (r *Registry) New(name string, seed int64) (Learner, error) {
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, fmt.Errorf("models: unknown learner %q", name)
	}
	return ctor(seed), nil
}

// Names returns every registered learner name, in the canonical order
// §4.8 lists them.
func (r *Registry) Names() []string {
	order := []string{"ridge", "gbm", "random_forest", "xgboost"}
	out := make([]string, 0, len(order))
	for _, name := range order {
		if _, ok := r.constructors[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
