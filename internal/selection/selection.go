// Package selection implements §4.7: per-instrument Elastic-Net +
// shadow-permutation Boruta feature selection, the canonical
// interaction-feature list, bootstrap stability scoring with adaptive
// thresholds, and instability alerting against a persisted snapshot
// history.
package selection

import (
	"math/rand"

	"github.com/aristath/rstarengine/internal/config"
	"github.com/aristath/rstarengine/internal/series"
	"github.com/rs/zerolog"
)

// Interaction is one entry in the canonical cross list (§4.7 step 2).
type Interaction struct {
	Name string
	A, B string
}

// CanonicalInteractions is the fixed pairwise-product list §4.7 names.
// An implementer may extend it so long as shadow-permutation validation
// still runs on every candidate (§9 Open Question) — extension point is
// simply appending to this slice before calling Select.
var CanonicalInteractions = []Interaction{
	{Name: "vix_x_cds", A: "vix", B: "cds"},
	{Name: "carry_x_regime_signal", A: "carry", B: "regime_signal"},
	{Name: "fiscal_x_cds", A: "fiscal", B: "cds"},
	{Name: "fiscal_premium_x_sovereign", A: "fiscal_premium", B: "sovereign"},
	{Name: "policy_gap_x_dxy", A: "policy_gap", B: "dxy"},
	{Name: "policy_gap_x_vix", A: "policy_gap", B: "vix"},
	{Name: "beer_x_pb_momentum", A: "beer", B: "pb_momentum"},
	{Name: "reer_x_pb_momentum", A: "reer", B: "pb_momentum"},
	{Name: "term_premium_x_vix", A: "term_premium", B: "vix"},
	{Name: "term_premium_x_cds", A: "term_premium", B: "cds"},
	{Name: "rstar_x_dxy", A: "rstar", B: "dxy"},
	{Name: "rstar_x_vix", A: "rstar", B: "vix"},
	{Name: "selic_gap_x_regime_signal", A: "selic_gap", B: "regime_signal"},
}

// AlertSeverity is the instability-alert level (§4.7 step 6).
type AlertSeverity string

const (
	AlertCritical AlertSeverity = "critical"
	AlertWarning  AlertSeverity = "warning"
	AlertInfo     AlertSeverity = "info"
)

// Alert records a feature's stability-classification transition.
type Alert struct {
	Feature  string
	From, To string
	Severity AlertSeverity
}

// Result is one instrument's full feature-selection output (§4.7 step 7).
type Result struct {
	LinearSet    []string
	NonlinearSet []string
	MergedSet    []string
	Stability    map[string]StabilityRecord
	BorutaVerdicts map[string]BorutaVerdict
	Alerts       []Alert
	EnetPath     [][]float64
}

// Selector runs the full §4.7 pipeline for one instrument at one
// decision date.
type Selector struct {
	log zerolog.Logger
	cfg config.FeatureSelectionConfig
}

// NewSelector constructs a Selector.
func NewSelector(log zerolog.Logger, cfg config.FeatureSelectionConfig) *Selector {
	return &Selector{log: log.With().Str("component", "selection").Logger(), cfg: cfg}
}

// Select runs Elastic-Net, Boruta, interaction validation and stability
// scoring for one instrument, comparing the result to the most recent
// snapshot in history (if any) to raise instability alerts, and returns
// the final linear/nonlinear/merged sets.
func (s *Selector) Select(instrument string, baseNames []string, baseX map[string][]float64, y []float64, month int, history *History, seed int64) (*Result, error) {
	names := make([]string, 0, len(baseNames))
	cols := make([][]float64, 0, len(baseNames))
	for _, n := range baseNames {
		if c, ok := baseX[n]; ok {
			names = append(names, n)
			cols = append(cols, series.Winsorise(c, 0.05, 0.95))
		}
	}
	yw := series.Winsorise(y, 0.05, 0.95)

	interactionNames, interactionCols := buildInteractions(baseX)
	confirmedInteractions := s.validateInteractions(interactionNames, interactionCols, yw, seed)
	for _, name := range confirmedInteractions {
		names = append(names, name)
		cols = append(cols, interactionCols[name])
	}

	rows := completeRows(cols, yw)
	if len(rows.y) < 20 {
		return &Result{}, nil
	}

	_, path := gridSearchElasticNet(rows.x, rows.y, s.cfg.EnetL1Ratios, s.cfg.EnetAlphaCount)
	linear := []string{}
	if len(path) > 0 {
		last := path[len(path)-1]
		for j, name := range names {
			if j < len(last) && last[j] != 0 {
				linear = append(linear, name)
			}
		}
	}

	rng := rand.New(rand.NewSource(seed))
	verdicts := borutaTest(names, rows.x, rows.y, s.cfg.BorutaIterations, 0.05, rng)
	nonlinear := []string{}
	for _, name := range names {
		v := verdicts[name]
		if v == BorutaConfirmed || v == BorutaTentative {
			nonlinear = append(nonlinear, name)
		}
	}

	stability, err := stabilityScore(names, rows.x, rows.y, s.cfg.StabilitySubsamplesMax, s.cfg.StabilitySubsampleFrac, s.cfg.FastEnetAlphaCount, s.cfg.FastBorutaIterations, seed)
	if err != nil {
		return nil, err
	}

	var alerts []Alert
	if history != nil {
		if prev, ok := history.Previous(instrument); ok {
			alerts = compareSnapshots(prev.Stability, stability)
		}
	}

	merged := unionStrings(linear, nonlinear)
	merged = unionStrings(merged, confirmedInteractions)

	return &Result{
		LinearSet:      linear,
		NonlinearSet:   nonlinear,
		MergedSet:      merged,
		Stability:      stability,
		BorutaVerdicts: verdicts,
		Alerts:         alerts,
		EnetPath:       path,
	}, nil
}

// validateInteractions runs the shadow-permutation Boruta test (30
// iterations per §4.7 step 2) on every candidate interaction column,
// keeping those whose importance beats the max shadow importance in
// more than half of iterations.
func (s *Selector) validateInteractions(names []string, cols map[string][]float64, y []float64, seed int64) []string {
	confirmed := []string{}
	rng := rand.New(rand.NewSource(seed + 999))
	for _, name := range names {
		col := cols[name]
		rows := completeRows([][]float64{col}, y)
		if len(rows.y) < 20 {
			continue
		}
		hits := 0
		const iterations = 30
		for iter := 0; iter < iterations; iter++ {
			shadow := shuffledCopy(rows.x[0], rng)
			shadowImp := importance(shadow, rows.y)
			realImp := importance(rows.x[0], rows.y)
			if realImp > shadowImp {
				hits++
			}
		}
		if float64(hits)/float64(iterations) > 0.5 {
			confirmed = append(confirmed, name)
		}
	}
	return confirmed
}

// buildInteractions computes every canonical interaction column present
// in baseX, each standardised using the full-sample mean/std (§4.7 step
// 2's "standardised using training means/stds").
func buildInteractions(baseX map[string][]float64) ([]string, map[string][]float64) {
	names := []string{}
	cols := map[string][]float64{}
	for _, inter := range CanonicalInteractions {
		a, okA := baseX[inter.A]
		b, okB := baseX[inter.B]
		if !okA || !okB || len(a) != len(b) {
			continue
		}
		product := make([]float64, len(a))
		for i := range product {
			product[i] = a[i] * b[i]
		}
		z, _, _ := standardize(product)
		names = append(names, inter.Name)
		cols[inter.Name] = z
	}
	return names, cols
}

func compareSnapshots(prev, cur map[string]StabilityRecord) []Alert {
	var alerts []Alert
	for name, curRec := range cur {
		prevRec, ok := prev[name]
		if !ok {
			continue
		}
		switch {
		case prevRec.Classification == classRobust && curRec.Classification == classUnstable:
			alerts = append(alerts, Alert{Feature: name, From: prevRec.Classification, To: curRec.Classification, Severity: AlertCritical})
		case prevRec.Classification == classRobust && curRec.Classification == classModerate:
			alerts = append(alerts, Alert{Feature: name, From: prevRec.Classification, To: curRec.Classification, Severity: AlertWarning})
		case prevRec.Classification == classUnstable && curRec.Classification == classRobust:
			alerts = append(alerts, Alert{Feature: name, From: prevRec.Classification, To: curRec.Classification, Severity: AlertInfo})
		}
	}
	return alerts
}

func unionStrings(a, b []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

type rowData struct {
	x [][]float64
	y []float64
}

// completeRows drops observations where any column or y is NaN,
// returning parallel row-major-safe column slices ready for regression.
func completeRows(cols [][]float64, y []float64) rowData {
	n := len(y)
	keep := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ok := !isNaN(y[i])
		for _, c := range cols {
			if i >= len(c) || isNaN(c[i]) {
				ok = false
				break
			}
		}
		if ok {
			keep = append(keep, i)
		}
	}
	out := rowData{x: make([][]float64, len(cols)), y: gather(y, keep)}
	for j, c := range cols {
		out.x[j] = gather(c, keep)
	}
	return out
}

func isNaN(v float64) bool { return v != v }
