package instruments

import (
	"math"
	"testing"

	"github.com/aristath/rstarengine/internal/panel"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatPanel(t *testing.T, n int, overrides map[string]float64) *panel.Panel {
	t.Helper()
	months := make([]int, n)
	for i := range months {
		months[i] = i
	}
	base := map[string]float64{
		ColSpot:           5.0,
		ColCupomCambial30: 0.11,
		ColDI3M:           0.12,
		ColDI1Y:           0.12,
		ColDI2Y:           0.12,
		ColDI5Y:           0.12,
		ColDI10Y:          0.12,
		ColCDI:            0.12,
		ColUST2Y:          0.04,
		ColEMBI:           215,
		ColRealYield5Y:    0.06,
	}
	for k, v := range overrides {
		base[k] = v
	}
	cols := make(map[string][]float64, len(base))
	for name, v := range base {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = v
		}
		cols[name] = vals
	}
	p, err := panel.New(months, cols)
	require.NoError(t, err)
	return p
}

// TestFlatWorldReturnsAreNearZero is §8 scenario S1.
func TestFlatWorldReturnsAreNearZero(t *testing.T) {
	p := flatPanel(t, 120, nil)
	syn := NewSynthesiser(zerolog.Nop())
	res, err := syn.Build(p)
	require.NoError(t, err)

	for _, col := range []string{ColReturnFX, ColReturnFront, ColReturnBelly, ColReturnLong} {
		vals := res.Returns.Column(col)
		for i, v := range vals {
			if i == 0 {
				continue
			}
			assert.InDelta(t, 0.0, v, 0.02, "column %s at %d", col, i)
		}
	}
}

// TestPureCarryFrontPositive is §8 scenario S2.
func TestPureCarryFrontPositive(t *testing.T) {
	p := flatPanel(t, 24, map[string]float64{ColDI1Y: 0.14})
	syn := NewSynthesiser(zerolog.Nop())
	res, err := syn.Build(p)
	require.NoError(t, err)

	front := res.Returns.Column(ColReturnFront)
	for i, v := range front {
		if i == 0 {
			continue
		}
		// excess_carry = (0.14-0.12)/12 ~= 0.001667 plus rolldown
		// (DI_1Y-DI_3M)*(9/12)/12 = 0.00125 with DI_3M at 0.12, no yield
		// change.
		assert.InDelta(t, 0.0029167, v, 1e-4)
	}

	belly := res.Returns.Column(ColReturnBelly)
	for i, v := range belly {
		if i == 0 {
			continue
		}
		assert.InDelta(t, 0.0, v, 1e-6)
	}
}

func TestMissingHardFillsZeroNotDropped(t *testing.T) {
	months := make([]int, 36)
	for i := range months {
		months[i] = i
	}
	p := flatPanel(t, 36, nil)
	// Remove EMBI entirely.
	p2, err := p.WithColumn(ColEMBI, nanColumn(36))
	require.NoError(t, err)

	syn := NewSynthesiser(zerolog.Nop())
	res, err := syn.Build(p2)
	require.NoError(t, err)
	assert.Contains(t, res.ZeroFilled, "hard")
	for _, v := range res.Returns.Column(ColReturnHard) {
		assert.Equal(t, 0.0, v)
	}
}

func nanColumn(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
