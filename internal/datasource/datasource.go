// Package datasource defines the external contract the core consumes
// (§6): a named-series store. Vendor-specific fetchers, the CSV cache
// layer, and any JSON/HTTP serving are explicitly out of scope (§1) —
// this package only defines the interface and a minimal in-memory
// implementation.
package datasource

import (
	"fmt"
	"math"
)

// Canonical series names the engine looks up via DataSource.Get. Missing
// series must degrade gracefully (§6); these constants exist so call
// sites never typo a lookup key.
const (
	SeriesUSDBRLSpot       = "fx.usdbrl_spot"
	SeriesPTAX             = "fx.ptax"
	SeriesDXY              = "fx.dxy"
	SeriesCupomCambial30D  = "fx.cupom_cambial_30d"
	SeriesCupomCambial90D  = "fx.cupom_cambial_90d"
	SeriesCupomCambial360D = "fx.cupom_cambial_360d"
	SeriesFXCupomLegacy    = "fx.cupom_legacy"

	SeriesDI3M   = "rates.di_3m"
	SeriesDI6M   = "rates.di_6m"
	SeriesDI1Y   = "rates.di_1y"
	SeriesDI2Y   = "rates.di_2y"
	SeriesDI3Y   = "rates.di_3y"
	SeriesDI5Y   = "rates.di_5y"
	SeriesDI10Y  = "rates.di_10y"
	SeriesSELIC  = "rates.selic_target"
	SeriesCDI    = "rates.cdi_effective"
	SeriesNTNB5Y = "rates.ntnb_5y"
	SeriesNTNB10Y = "rates.ntnb_10y"

	SeriesUSTIPS5Y        = "us.tips_5y"
	SeriesUSTIPS10Y       = "us.tips_10y"
	SeriesUST2Y           = "us.treasury_2y"
	SeriesUST5Y           = "us.treasury_5y"
	SeriesUST10Y          = "us.treasury_10y"
	SeriesUSBreakeven10Y  = "us.breakeven_10y"
	SeriesUSHYOAS         = "us.hy_oas"
	SeriesUSCPIExpectations = "us.cpi_expectations"

	SeriesEMBI = "credit.embi_spread"
	SeriesCDS5Y = "credit.cds_5y"

	SeriesIPCAMonthly      = "macro.ipca_monthly"
	SeriesIPCA12M          = "macro.ipca_12m"
	SeriesIPCAExpect12M    = "macro.ipca_expectations_12m"
	SeriesDebtToGDP        = "macro.debt_to_gdp"
	SeriesPrimaryBalance   = "macro.primary_balance"
	SeriesTermsOfTrade     = "macro.terms_of_trade"
	SeriesCurrentAccount   = "macro.bop_current_account"
	SeriesIBCBR            = "macro.ibc_br"

	SeriesVIX   = "global.vix"
	SeriesBCOM  = "global.bcom"
	SeriesEWZ   = "global.ewz"
	SeriesNFCI  = "global.nfci"
	SeriesIronOre = "global.iron_ore"

	SeriesPPPFactor       = "structural.ppp_factor_annual"
	SeriesREER            = "structural.reer"
	SeriesGDPPerCapitaRatio = "structural.gdp_per_capita_ratio_annual"
	SeriesCurrentAccountPctGDP = "structural.current_account_pct_gdp_annual"
	SeriesTradeOpenness   = "structural.trade_openness_annual"

	SeriesFocusFX12M   = "positioning.focus_fx_12m"
	SeriesCFTCBRLNet   = "positioning.cftc_brl_net_spec"
	SeriesIDPFlow      = "positioning.idp_flow"
	SeriesPortfolioFlow = "positioning.portfolio_flow"

	SeriesIbovespa = "benchmark.ibovespa"
)

// Observation is a single (month-ordinal, value) pair. Month ordinals are
// years*12+month(0-based), matching internal/panel's index convention.
type Observation struct {
	Month int
	Value float64
}

// DataSource yields aligned monthly series by name. Implementations may
// resample daily data to monthly internally — that resampling is the
// core's job per §6, not the DataSource's, so implementations are
// expected to expose whatever native frequency they have and let the
// caller (internal/instruments, internal/features) do the monthly
// alignment via internal/panel.
type DataSource interface {
	// Get returns the named series, or ErrSeriesNotFound if it does not
	// exist in this DataSource at all (as opposed to being present but
	// short/sparse, which is a normal, tolerated condition).
	Get(name string) ([]Observation, error)
}

// ErrSeriesNotFound is returned by Get for series this DataSource never
// carries (as opposed to a series that exists but is currently empty).
var ErrSeriesNotFound = fmt.Errorf("series not found")

// InMemory is a simple map-backed DataSource.
type InMemory struct {
	series map[string][]Observation
}

// NewInMemory builds an InMemory DataSource from a name->observations map.
func NewInMemory(series map[string][]Observation) *InMemory {
	cp := make(map[string][]Observation, len(series))
	for k, v := range series {
		vv := make([]Observation, len(v))
		copy(vv, v)
		cp[k] = vv
	}
	return &InMemory{series: cp}
}

// Get implements DataSource.
func (m *InMemory) Get(name string) ([]Observation, error) {
	v, ok := m.series[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrSeriesNotFound)
	}
	out := make([]Observation, len(v))
	copy(out, v)
	return out, nil
}

// Set installs or replaces a series — used by synthetic test scenarios
// to build up a DataSource incrementally.
func (m *InMemory) Set(name string, obs []Observation) {
	if m.series == nil {
		m.series = make(map[string][]Observation)
	}
	v := make([]Observation, len(obs))
	copy(v, obs)
	m.series[name] = v
}

// Constant builds a flat series of value `v` over months [from, to]
// inclusive — the building block of the §8 S1 "flat world" scenario.
func Constant(from, to int, v float64) []Observation {
	out := make([]Observation, 0, to-from+1)
	for m := from; m <= to; m++ {
		out = append(out, Observation{Month: m, Value: v})
	}
	return out
}

// ToPanelColumn converts a DataSource series to a []float64 aligned to a
// given month index, leaving NaN where no observation exists at that
// month. Forward-fill, if desired, is the caller's responsibility via
// internal/panel.ForwardFill — this function never infers values.
func ToPanelColumn(obs []Observation, months []int) []float64 {
	byMonth := make(map[int]float64, len(obs))
	for _, o := range obs {
		byMonth[o.Month] = o.Value
	}
	out := make([]float64, len(months))
	for i, m := range months {
		if v, ok := byMonth[m]; ok {
			out[i] = v
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}
