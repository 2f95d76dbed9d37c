// Package reg provides small shared linear-algebra building blocks (OLS,
// ridge-shrunk OLS, rolling-window regression) used by L4 (BEER
// cointegration), L5 (Fiscal-Augmented model, ACM factor mapping) and L8
// (Ridge learner). Kept separate from any one of those packages since
// the same gonum.org/v1/gonum/mat plumbing the teacher uses in
// internal/modules/optimization is the right tool in all three places.
package reg

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// OLSResult holds a fitted linear model y = X*beta + alpha + resid.
type OLSResult struct {
	Alpha     float64
	Beta      []float64
	Residuals []float64
	Fitted    []float64
}

// OLS fits an intercept + beta ordinary least squares model via normal
// equations. Rows of X with any NaN (in X or y) are excluded from the
// fit but still produce a residual/fitted entry of NaN at their
// position, so callers can keep arrays aligned to the original index.
func OLS(y []float64, x [][]float64) (*OLSResult, error) {
	return ridge(y, x, 0)
}

// Ridge fits an L2-shrunk (ridge) regression with penalty lambda on the
// beta coefficients (not the intercept), via the augmented normal
// equations (X'X + lambda*I)^-1 X'y.
func Ridge(y []float64, x [][]float64, lambda float64) (*OLSResult, error) {
	return ridge(y, x, lambda)
}

func ridge(y []float64, x [][]float64, lambda float64) (*OLSResult, error) {
	n := len(y)
	if n == 0 {
		return nil, fmt.Errorf("reg: empty input")
	}
	p := len(x)
	for _, col := range x {
		if len(col) != n {
			return nil, fmt.Errorf("reg: column length mismatch")
		}
	}

	rows := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ok := !math.IsNaN(y[i])
		for _, col := range x {
			if math.IsNaN(col[i]) {
				ok = false
			}
		}
		if ok {
			rows = append(rows, i)
		}
	}
	m := len(rows)
	if m < p+2 {
		return nil, fmt.Errorf("reg: insufficient valid rows (%d) for %d predictors", m, p)
	}

	// Design matrix with intercept column.
	xm := mat.NewDense(m, p+1, nil)
	yv := mat.NewVecDense(m, nil)
	for r, idx := range rows {
		xm.Set(r, 0, 1.0)
		for j, col := range x {
			xm.Set(r, j+1, col[idx])
		}
		yv.SetVec(r, y[idx])
	}

	var xtx mat.Dense
	xtx.Mul(xm.T(), xm)
	if lambda > 0 {
		for i := 1; i <= p; i++ { // never penalise the intercept
			xtx.Set(i, i, xtx.At(i, i)+lambda)
		}
	}

	var xty mat.Dense
	xty.Mul(xm.T(), yv)

	var beta mat.Dense
	if err := beta.Solve(&xtx, &xty); err != nil {
		return nil, fmt.Errorf("reg: solve normal equations: %w", err)
	}

	alpha := beta.At(0, 0)
	betas := make([]float64, p)
	for j := 0; j < p; j++ {
		betas[j] = beta.At(j+1, 0)
	}

	fitted := make([]float64, n)
	resid := make([]float64, n)
	valid := make(map[int]bool, m)
	for _, idx := range rows {
		valid[idx] = true
	}
	for i := 0; i < n; i++ {
		if !valid[i] {
			fitted[i] = math.NaN()
			resid[i] = math.NaN()
			continue
		}
		f := alpha
		for j, col := range x {
			f += betas[j] * col[i]
		}
		fitted[i] = f
		resid[i] = y[i] - f
	}

	return &OLSResult{Alpha: alpha, Beta: betas, Residuals: resid, Fitted: fitted}, nil
}

// RollingOLS fits OLS independently on each trailing window of `window`
// observations ending at each index, returning a same-length slice of
// in-sample residuals at the window's final (current) observation — the
// shape L4's BEER cointegration needs ("the in-sample residual at t is
// the misalignment"). Indices without `minPeriods` valid rows in their
// window get NaN.
func RollingOLS(y []float64, x [][]float64, window, minPeriods int) []float64 {
	n := len(y)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}

	for i := 0; i < n; i++ {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		wy := y[lo : i+1]
		wx := make([][]float64, len(x))
		for j, col := range x {
			wx[j] = col[lo : i+1]
		}

		validCount := 0
		for k := range wy {
			ok := !math.IsNaN(wy[k])
			for _, col := range wx {
				if math.IsNaN(col[k]) {
					ok = false
				}
			}
			if ok {
				validCount++
			}
		}
		if validCount < minPeriods {
			continue
		}

		res, err := OLS(wy, wx)
		if err != nil {
			continue
		}
		out[i] = res.Residuals[len(res.Residuals)-1]
	}
	return out
}
