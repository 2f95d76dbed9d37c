package panel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func months(n int) []int {
	m := make([]int, n)
	for i := range m {
		m[i] = i
	}
	return m
}

func TestAsOfNeverLeaksFuture(t *testing.T) {
	m := months(100)
	vals := make([]float64, 100)
	for i := range vals {
		vals[i] = float64(i)
	}
	p, err := New(m, map[string][]float64{"x": vals})
	require.NoError(t, err)

	asOf := p.AsOf(49)
	last, ok := asOf.Last("x")
	require.True(t, ok)
	assert.Equal(t, 49.0, last)
	assert.Equal(t, 50, asOf.Len())
}

func TestWindowReturnsWhatExistsWhenShort(t *testing.T) {
	m := months(5)
	vals := []float64{0, 1, 2, 3, 4}
	p, err := New(m, map[string][]float64{"x": vals})
	require.NoError(t, err)

	w := p.Window(4, 100)
	assert.Equal(t, 5, w.Len())
}

func TestNewRejectsNonMonotone(t *testing.T) {
	_, err := New([]int{1, 3, 2}, map[string][]float64{"x": {1, 2, 3}})
	require.Error(t, err)
}

func TestForwardFillNeverTouchesReturnSemantics(t *testing.T) {
	m := months(5)
	vals := []float64{1, math.NaN(), math.NaN(), 4, math.NaN()}
	p, err := New(m, map[string][]float64{"x": vals})
	require.NoError(t, err)

	ff := p.ForwardFill()
	assert.Equal(t, []float64{1, 1, 1, 4, 4}, ff.Column("x"))
	// Original panel is untouched.
	orig := p.Column("x")
	assert.True(t, math.IsNaN(orig[1]))
}

func TestAlignToDropsLeadingNaN(t *testing.T) {
	m := []int{2, 3, 4}
	vals := []float64{10, 20, 30}
	p, err := New(m, map[string][]float64{"x": vals})
	require.NoError(t, err)

	aligned := p.AlignTo([]int{0, 1, 2, 3, 4, 5})
	assert.Equal(t, []int{2, 3, 4, 5}, aligned.Months())
	assert.Equal(t, []float64{10, 20, 30, 30}, aligned.Column("x"))
}

func TestWithColumnDoesNotMutateReceiver(t *testing.T) {
	m := months(3)
	p, err := New(m, map[string][]float64{"x": {1, 2, 3}})
	require.NoError(t, err)

	p2, err := p.WithColumn("y", []float64{4, 5, 6})
	require.NoError(t, err)

	assert.False(t, p.Has("y"))
	assert.True(t, p2.Has("y"))
}
