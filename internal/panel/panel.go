// Package panel implements §4.2: an aligned, immutable table of named
// Series sharing a common monthly index, with the two operations the
// rest of the engine relies on to make look-ahead leakage a type error
// rather than a runtime bug (§9 design note): AsOf and Window.
//
// A Panel is a read-only view constructed once per decision date. It is
// never mutated after construction; every operation that would "change"
// a Panel returns a new one (§4.2 invariant).
package panel

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/rstarengine/internal/series"
)

// Panel holds aligned columns (by name) over a shared Months index.
type Panel struct {
	months  []int
	columns map[string][]float64
	// order preserves a deterministic column iteration order, since Go
	// map iteration is randomised and several downstream computations
	// (feature matrix construction, vector assembly for the optimiser)
	// require stable ordering.
	order []string
}

// New builds a Panel from column name -> values, all aligned to months.
// months must be monotone non-decreasing (repeated months are accepted);
// New returns an error if it is not, or if a column's length differs
// from len(months).
func New(months []int, cols map[string][]float64) (*Panel, error) {
	for i := 1; i < len(months); i++ {
		if months[i] < months[i-1] {
			return nil, fmt.Errorf("panel: months index is not monotone non-decreasing at %d", i)
		}
	}
	order := make([]string, 0, len(cols))
	for name, vals := range cols {
		if len(vals) != len(months) {
			return nil, fmt.Errorf("panel: column %q has length %d, expected %d", name, len(vals), len(months))
		}
		order = append(order, name)
	}
	sort.Strings(order)

	cp := make(map[string][]float64, len(cols))
	for name, vals := range cols {
		v := make([]float64, len(vals))
		copy(v, vals)
		cp[name] = v
	}
	m := make([]int, len(months))
	copy(m, months)

	return &Panel{months: m, columns: cp, order: order}, nil
}

// Months returns the panel's month index (a copy; the panel itself is
// immutable).
func (p *Panel) Months() []int {
	out := make([]int, len(p.months))
	copy(out, p.months)
	return out
}

// Columns returns the sorted column names.
func (p *Panel) Columns() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Has reports whether a column exists.
func (p *Panel) Has(name string) bool {
	_, ok := p.columns[name]
	return ok
}

// Column returns a copy of a column's values, or nil if absent.
func (p *Panel) Column(name string) []float64 {
	v, ok := p.columns[name]
	if !ok {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

// cutoffIndex returns the index of the last row with month <= t (via
// binary search, O(log n) per §4.2's contract), or -1 if none.
func (p *Panel) cutoffIndex(t int) int {
	// sort.Search finds the first index for which months[i] > t; the
	// cutoff is one before that.
	idx := sort.Search(len(p.months), func(i int) bool { return p.months[i] > t })
	return idx - 1
}

// AsOf returns a Panel truncated to rows with month <= t. Never leaks
// rows strictly after t (§4.2, §8 invariant 1). It returns no error: New
// has already rejected an index that is not monotone non-decreasing, so
// the ordering check happens exactly once, not at every call site.
func (p *Panel) AsOf(t int) *Panel {
	cut := p.cutoffIndex(t)
	if cut < 0 {
		return &Panel{months: nil, columns: emptyCols(p.order), order: p.order}
	}
	return p.slice(0, cut+1)
}

// Window returns the last n rows with month <= t. If fewer than n rows
// are available, returns what exists (§4.2).
func (p *Panel) Window(t int, n int) *Panel {
	cut := p.cutoffIndex(t)
	if cut < 0 {
		return &Panel{months: nil, columns: emptyCols(p.order), order: p.order}
	}
	lo := cut - n + 1
	if lo < 0 {
		lo = 0
	}
	return p.slice(lo, cut+1)
}

func (p *Panel) slice(lo, hi int) *Panel {
	months := make([]int, hi-lo)
	copy(months, p.months[lo:hi])
	cols := make(map[string][]float64, len(p.columns))
	for name, vals := range p.columns {
		v := make([]float64, hi-lo)
		copy(v, vals[lo:hi])
		cols[name] = v
	}
	return &Panel{months: months, columns: cols, order: p.order}
}

func emptyCols(order []string) map[string][]float64 {
	cols := make(map[string][]float64, len(order))
	for _, name := range order {
		cols[name] = []float64{}
	}
	return cols
}

// ForwardFill forward-fills every column (features may legitimately carry
// a month-lag from macro publications, §4.2). Must never be applied to
// return columns — callers are responsible for only calling this on
// feature panels, per the §4.2 contract ("forward_fill() on features
// only; never on returns").
func (p *Panel) ForwardFill() *Panel {
	cols := make(map[string][]float64, len(p.columns))
	for name, vals := range p.columns {
		v := make([]float64, len(vals))
		copy(v, vals)
		var last float64
		have := false
		for i, x := range v {
			if !math.IsNaN(x) {
				last = x
				have = true
				continue
			}
			if have {
				v[i] = last
			}
		}
		cols[name] = v
	}
	return &Panel{months: append([]int(nil), p.months...), columns: cols, order: p.order}
}

// AlignTo reindexes the panel onto a new month index, forward-filling
// and dropping leading rows that have no valid observation yet (§4.2).
func (p *Panel) AlignTo(newMonths []int) *Panel {
	pos := make(map[int]int, len(p.months))
	for i, m := range p.months {
		pos[m] = i
	}

	cols := make(map[string][]float64, len(p.columns))
	for name, vals := range p.columns {
		out := make([]float64, len(newMonths))
		var last float64
		have := false
		for i, m := range newMonths {
			if idx, ok := pos[m]; ok && !math.IsNaN(vals[idx]) {
				last = vals[idx]
				have = true
			}
			if have {
				out[i] = last
			} else {
				out[i] = math.NaN()
			}
		}
		cols[name] = out
	}

	// Drop leading rows where every column is still NaN.
	start := 0
	for start < len(newMonths) {
		allNaN := true
		for _, vals := range cols {
			if !math.IsNaN(vals[start]) {
				allNaN = false
				break
			}
		}
		if !allNaN {
			break
		}
		start++
	}

	months := append([]int(nil), newMonths[start:]...)
	trimmed := make(map[string][]float64, len(cols))
	for name, vals := range cols {
		trimmed[name] = append([]float64(nil), vals[start:]...)
	}
	return &Panel{months: months, columns: trimmed, order: p.order}
}

// WithColumn returns a new Panel with an additional (or replaced) column,
// leaving the receiver untouched (§4.2 "no write after construction").
func (p *Panel) WithColumn(name string, values []float64) (*Panel, error) {
	if len(values) != len(p.months) {
		return nil, fmt.Errorf("panel: column %q has length %d, expected %d", name, len(values), len(p.months))
	}
	cols := make(map[string][]float64, len(p.columns)+1)
	for k, v := range p.columns {
		cols[k] = v
	}
	v := make([]float64, len(values))
	copy(v, values)
	cols[name] = v

	order := p.order
	if _, existed := p.columns[name]; !existed {
		order = append(append([]string(nil), p.order...), name)
		sort.Strings(order)
	}
	return &Panel{months: append([]int(nil), p.months...), columns: cols, order: order}, nil
}

// Last returns the last row's value for a column, and whether the panel
// has any rows at all.
func (p *Panel) Last(name string) (float64, bool) {
	vals, ok := p.columns[name]
	if !ok || len(vals) == 0 {
		return 0, false
	}
	return vals[len(vals)-1], true
}

// LastMonth returns the panel's final month, or (0, false) if empty.
func (p *Panel) LastMonth() (int, bool) {
	if len(p.months) == 0 {
		return 0, false
	}
	return p.months[len(p.months)-1], true
}

// Len returns the number of rows.
func (p *Panel) Len() int { return len(p.months) }

// ZScore applies series.ZScoreRolling to a column and returns it as a new
// Series value (convenience used by the feature engine).
func (p *Panel) ZScore(name string, window int, floor float64) []float64 {
	return series.ZScoreRolling(p.Column(name), window, floor)
}
