package selection

import (
	"math/rand"
	"testing"

	"github.com/aristath/rstarengine/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticData(n int) (map[string][]float64, []float64) {
	src := rand.New(rand.NewSource(11))
	x1 := make([]float64, n)
	x2 := make([]float64, n)
	noise := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x1[i] = src.NormFloat64()
		x2[i] = src.NormFloat64()
		noise[i] = src.NormFloat64()
		y[i] = 2*x1[i] - 0.5*x2[i] + 0.1*noise[i]
	}
	return map[string][]float64{"vix": x1, "cds": x2, "noise": noise}, y
}

func TestSelectReturnsLinearSetDominatedByRealSignal(t *testing.T) {
	x, y := syntheticData(300)
	cfg := config.Default().FeatureSelection
	sel := NewSelector(zerolog.Nop(), cfg)

	res, err := sel.Select("fx", []string{"vix", "cds", "noise"}, x, y, 0, &History{}, 42)
	require.NoError(t, err)
	assert.Contains(t, res.LinearSet, "vix")
}

func TestStabilityClassificationPartitionsCompletely(t *testing.T) {
	x, y := syntheticData(200)
	cfg := config.Default().FeatureSelection
	cfg.StabilitySubsamplesMax = 8
	sel := NewSelector(zerolog.Nop(), cfg)

	res, err := sel.Select("fx", []string{"vix", "cds", "noise"}, x, y, 0, &History{}, 7)
	require.NoError(t, err)

	robust, moderate, unstable := 0, 0, 0
	for _, rec := range res.Stability {
		switch rec.Classification {
		case classRobust:
			robust++
		case classModerate:
			moderate++
		case classUnstable:
			unstable++
		}
	}
	assert.Equal(t, len(res.Stability), robust+moderate+unstable)
}

func TestInstabilityAlertOnRobustToUnstableTransition(t *testing.T) {
	prev := map[string]StabilityRecord{
		"vix": {Classification: classRobust, Composite: 0.9},
	}
	cur := map[string]StabilityRecord{
		"vix": {Classification: classUnstable, Composite: 0.1},
	}
	alerts := compareSnapshots(prev, cur)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCritical, alerts[0].Severity)
	assert.Equal(t, "vix", alerts[0].Feature)
}

func TestBorutaConfirmsStrongSignal(t *testing.T) {
	x, y := syntheticData(400)
	rng := rand.New(rand.NewSource(3))
	verdicts := borutaTest([]string{"vix", "cds", "noise"}, [][]float64{x["vix"], x["cds"], x["noise"]}, y, 50, 0.05, rng)
	assert.Equal(t, BorutaConfirmed, verdicts["vix"])
}

func TestCanonicalInteractionsHaveUniqueNames(t *testing.T) {
	seen := map[string]bool{}
	for _, inter := range CanonicalInteractions {
		assert.False(t, seen[inter.Name], "duplicate interaction name %s", inter.Name)
		seen[inter.Name] = true
	}
}
