// Package instruments implements §4.3: the synthesis of excess-over-CDI
// monthly returns for the six instruments (fx, front, belly, long, hard,
// ntnb) from raw market curves.
//
// Unit convention (documented once here since §4.3's formulas mix
// conventions by instrument): DI/CDI/SELIC/UST/TIPS yields and cupom
// cambial rates are decimal annualized fractions (12% → 0.12, matching
// Series.Unit UnitPctAnnual); EMBI/CDS spreads are basis points
// (215bps → 215.0, matching UnitBps); the NTN-B real yield is carried as
// given in §4.3's own literal constants (its formula's "/100" term is
// preserved exactly rather than "corrected", since Non-goals forbid
// redesigning individual formulas).
package instruments

import (
	"math"

	"github.com/aristath/rstarengine/internal/panel"
	"github.com/aristath/rstarengine/internal/series"
	"github.com/rs/zerolog"
)

// Duration constants from §4.3.
const (
	DurationFront = 1.0
	DurationBelly = 4.5
	DurationLong  = 7.5
	DurationNTNB  = 4.5
	DurationHard  = 5.0

	rollFraction = 9.0 / 12.0 // "(9/12)/12" term shared by all three DI buckets, §4.3
)

// Raw column names this package expects on the input Panel. The caller
// is responsible for aligning these onto a common monthly index via
// internal/panel.
const (
	ColSpot           = "raw.usdbrl_spot"
	ColCupomCambial30 = "raw.cupom_cambial_30d"
	ColCupomLegacy    = "raw.cupom_legacy"
	ColDI3M           = "raw.di_3m"
	ColDI1Y           = "raw.di_1y"
	ColDI2Y           = "raw.di_2y"
	ColDI5Y           = "raw.di_5y"
	ColDI10Y          = "raw.di_10y"
	ColCDI            = "raw.cdi"
	ColUST2Y          = "raw.ust_2y"
	ColEMBI           = "raw.embi"
	ColRealYield5Y    = "raw.real_yield_5y" // NTN-B 5Y real yield

	ColReturnFX    = "ret.fx"
	ColReturnFront = "ret.front"
	ColReturnBelly = "ret.belly"
	ColReturnLong  = "ret.long"
	ColReturnHard  = "ret.hard"
	ColReturnNTNB  = "ret.ntnb"
)

// Synthesiser builds the six instrument excess returns from a raw-input
// Panel.
type Synthesiser struct {
	log zerolog.Logger
}

// NewSynthesiser constructs a Synthesiser.
func NewSynthesiser(log zerolog.Logger) *Synthesiser {
	return &Synthesiser{log: log.With().Str("component", "instruments").Logger()}
}

// Result is the output of Build: the returns panel plus bookkeeping about
// which instruments were skipped/filled for missing data.
type Result struct {
	Returns *panel.Panel
	// ZeroFilled lists instruments (hard, ntnb only, per §4.3) for which
	// missing raw data forced a zero-return (flat position) fill.
	ZeroFilled []string
	// Dropped lists core instruments (fx/front/belly/long) that could
	// not be built at all because required raw inputs were entirely
	// absent.
	Dropped []string
}

// Build computes the six return series. raw must be aligned to a monthly
// index shared with every other Panel the engine constructs for the same
// run (the caller's responsibility, per §4.2).
func (s *Synthesiser) Build(raw *panel.Panel) (*Result, error) {
	months := raw.Months()
	n := len(months)

	carryCost := s.carryCost(raw)
	rFX := s.buildFX(raw, carryCost)

	rFront, frontOK := s.buildBucket(raw, ColDI1Y, ColDI3M, DurationFront)
	rBelly, bellyOK := s.buildBucket(raw, ColDI5Y, ColDI2Y, DurationBelly)
	rLong, longOK := s.buildBucket(raw, ColDI10Y, ColDI5Y, DurationLong)

	rHard, hardZero := s.buildHard(raw, n)
	rNTNB, ntnbZero := s.buildNTNB(raw, n)

	dropped := []string{}
	if !hasData(raw.Column(ColSpot)) {
		dropped = append(dropped, "fx")
	}
	if !frontOK {
		dropped = append(dropped, "front")
	}
	if !bellyOK {
		dropped = append(dropped, "belly")
	}
	if !longOK {
		dropped = append(dropped, "long")
	}

	cols := map[string][]float64{
		ColReturnFX:    series.Winsorise(rFX, 0.05, 0.95),
		ColReturnFront: series.Winsorise(rFront, 0.05, 0.95),
		ColReturnBelly: series.Winsorise(rBelly, 0.05, 0.95),
		ColReturnLong:  series.Winsorise(rLong, 0.05, 0.95),
		ColReturnHard:  series.Winsorise(rHard, 0.05, 0.95),
		ColReturnNTNB:  series.Winsorise(rNTNB, 0.05, 0.95),
	}

	// Drop rows where any *core* instrument (fx/front/belly/long) lacks
	// real data (§4.3): a row is dropped if any core column is NaN.
	keep := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ok := true
		for _, c := range []string{ColReturnFX, ColReturnFront, ColReturnBelly, ColReturnLong} {
			if math.IsNaN(cols[c][i]) {
				ok = false
				break
			}
		}
		if ok {
			keep = append(keep, i)
		}
	}

	filteredMonths := make([]int, len(keep))
	filteredCols := make(map[string][]float64, len(cols))
	for name, vals := range cols {
		fv := make([]float64, len(keep))
		for i, idx := range keep {
			fv[i] = vals[idx]
		}
		filteredCols[name] = fv
	}
	for i, idx := range keep {
		filteredMonths[i] = months[idx]
	}

	p, err := panel.New(filteredMonths, filteredCols)
	if err != nil {
		return nil, err
	}

	zeroFilled := []string{}
	if hardZero {
		zeroFilled = append(zeroFilled, "hard")
	}
	if ntnbZero {
		zeroFilled = append(zeroFilled, "ntnb")
	}
	if len(zeroFilled) > 0 {
		s.log.Info().Strs("instruments", zeroFilled).Msg("filled missing instrument data with zero (flat position)")
	}
	if len(dropped) > 0 {
		s.log.Warn().Strs("instruments", dropped).Msg("core instrument(s) missing required raw inputs")
	}

	return &Result{Returns: p, ZeroFilled: zeroFilled, Dropped: dropped}, nil
}

func hasData(xs []float64) bool {
	for _, x := range xs {
		if !math.IsNaN(x) {
			return true
		}
	}
	return false
}

// carryCost implements the onshore USD-interest proxy priority order of
// §4.3: cupom cambial 30d, else the legacy cupom series, else
// (DI_3M - UST_2Y) as a last resort.
func (s *Synthesiser) carryCost(raw *panel.Panel) []float64 {
	n := raw.Len()
	out := make([]float64, n)
	cupom30 := raw.Column(ColCupomCambial30)
	legacy := raw.Column(ColCupomLegacy)
	di3m := raw.Column(ColDI3M)
	ust2y := raw.Column(ColUST2Y)

	usedFallback := false
	for i := 0; i < n; i++ {
		switch {
		case cupom30 != nil && !math.IsNaN(cupom30[i]):
			out[i] = cupom30[i]
		case legacy != nil && !math.IsNaN(legacy[i]):
			out[i] = legacy[i]
		case di3m != nil && ust2y != nil && !math.IsNaN(di3m[i]) && !math.IsNaN(ust2y[i]):
			out[i] = di3m[i] - ust2y[i]
			usedFallback = true
		default:
			out[i] = math.NaN()
		}
	}
	if usedFallback {
		s.log.Warn().Msg("fx carry cost fell back to (DI_3M - UST_2Y) proxy for at least one month")
	}
	return out
}

// buildFX implements r_fx(t) = Dlog(S)(t) - carry_cost(t-1)/12.
func (s *Synthesiser) buildFX(raw *panel.Panel, carryCost []float64) []float64 {
	spot := raw.Column(ColSpot)
	dlogS := series.LogReturn(spot)
	n := raw.Len()
	out := make([]float64, n)
	out[0] = math.NaN()
	for i := 1; i < n; i++ {
		if math.IsNaN(dlogS[i]) || math.IsNaN(carryCost[i-1]) {
			out[i] = math.NaN()
			continue
		}
		out[i] = dlogS[i] - carryCost[i-1]/12
	}
	return out
}

// buildBucket implements the shared receiver-swap formula for the
// front/belly/long DI buckets:
//
//	r(t) = -Dy(t)*D + excess_carry(t-1) + rolldown(t-1)
//	excess_carry(t) = (ownRate(t) - CDI(t)) / 12
//	rolldown(t)     = (ownRate(t) - refRate(t)) * rollFraction / 12
func (s *Synthesiser) buildBucket(raw *panel.Panel, ownCol, refCol string, duration float64) ([]float64, bool) {
	own := raw.Column(ownCol)
	ref := raw.Column(refCol)
	cdi := raw.Column(ColCDI)
	n := raw.Len()
	if own == nil || ref == nil || cdi == nil {
		out := make([]float64, n)
		for i := range out {
			out[i] = math.NaN()
		}
		return out, false
	}

	dy := series.Diff(own)
	out := make([]float64, n)
	out[0] = math.NaN()
	anyValid := false
	for i := 1; i < n; i++ {
		if math.IsNaN(dy[i]) || math.IsNaN(own[i-1]) || math.IsNaN(ref[i-1]) || math.IsNaN(cdi[i-1]) {
			out[i] = math.NaN()
			continue
		}
		excessCarry := (own[i-1] - cdi[i-1]) / 12
		rolldown := (own[i-1] - ref[i-1]) * rollFraction / 12
		out[i] = -dy[i]*duration + excessCarry + rolldown
		anyValid = true
	}
	return out, anyValid
}

// buildHard implements r_hard(t) = -DEMBI(t)*5/10000 + EMBI(t-1)/(10000*12),
// filling with zero (flat position) when EMBI data is absent, per §4.3.
func (s *Synthesiser) buildHard(raw *panel.Panel, n int) ([]float64, bool) {
	embi := raw.Column(ColEMBI)
	out := make([]float64, n)
	if embi == nil {
		for i := range out {
			out[i] = 0
		}
		return out, true
	}
	demb := series.Diff(embi)
	zeroFilled := false
	out[0] = 0
	for i := 1; i < n; i++ {
		if math.IsNaN(demb[i]) || math.IsNaN(embi[i-1]) {
			out[i] = 0
			zeroFilled = true
			continue
		}
		out[i] = -demb[i]*DurationHard/10000 + embi[i-1]/(10000*12)
	}
	return out, zeroFilled
}

// buildNTNB implements r_ntnb(t) = -Dy_real(t)*4.5 + y_real(t-1)/(100*12),
// zero-filling on missing data per §4.3.
func (s *Synthesiser) buildNTNB(raw *panel.Panel, n int) ([]float64, bool) {
	yReal := raw.Column(ColRealYield5Y)
	out := make([]float64, n)
	if yReal == nil {
		for i := range out {
			out[i] = 0
		}
		return out, true
	}
	dy := series.Diff(yReal)
	zeroFilled := false
	out[0] = 0
	for i := 1; i < n; i++ {
		if math.IsNaN(dy[i]) || math.IsNaN(yReal[i-1]) {
			out[i] = 0
			zeroFilled = true
			continue
		}
		out[i] = -dy[i]*DurationNTNB + yReal[i-1]/(100*12)
	}
	return out, zeroFilled
}
