package engine

import (
	"github.com/aristath/rstarengine/internal/config"
	"github.com/aristath/rstarengine/internal/models"
	"github.com/aristath/rstarengine/internal/selection"
)

// ModelArtefact is §3's per-instrument mutable state: the fitted
// Ridge/GBM/RF/XGBoost learners, the selected feature subsets, and the
// out-of-sample prediction history each learner and the combined
// ensemble needs for the next step's combination weights and IC gate.
// The Production Engine is its sole owner (§3 ownership split).
type ModelArtefact struct {
	LinearSet    []string
	NonlinearSet []string
	MergedSet    []string

	RidgeAlpha float64

	PerModelOOS map[string][]models.OOSPair
	EnsembleOOS []models.OOSPair

	LastFeatureSelectionMonth int
	LastHyperparamRefitMonth  int

	StabilitySnapshot map[string]selection.StabilityRecord
}

func newArtefact() *ModelArtefact {
	return &ModelArtefact{
		RidgeAlpha:               10,
		PerModelOOS:              map[string][]models.OOSPair{},
		LastFeatureSelectionMonth: -1 << 30,
		LastHyperparamRefitMonth:  -1 << 30,
	}
}

// RecordOutcome appends this step's (predicted, realised) pair to each
// model's OOS history and to the ensemble-level history, once the
// realised return for the decision date becomes known. Called by the
// Backtest Harness (L12) in the same monthly iteration, right after
// Step() produced the prediction for month t and the harness has read
// month t's realised instrument return.
func (a *ModelArtefact) RecordOutcome(perModelPredicted map[string]float64, ensemblePredicted, realised float64) {
	for model, pred := range perModelPredicted {
		a.PerModelOOS[model] = append(a.PerModelOOS[model], models.OOSPair{Predicted: pred, Realised: realised})
	}
	a.EnsembleOOS = append(a.EnsembleOOS, models.OOSPair{Predicted: ensemblePredicted, Realised: realised})
}

// Artefacts is the full per-instrument mutable state map.
type Artefacts map[config.Instrument]*ModelArtefact

func newArtefacts() Artefacts {
	out := Artefacts{}
	for _, inst := range config.Instruments {
		out[inst] = newArtefact()
	}
	return out
}
