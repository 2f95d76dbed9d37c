package regime

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// gaussianHMM is a K-state, D-dimensional Gaussian-emission hidden Markov
// model fit by Baum-Welch EM with Rabiner scaling for numerical
// stability over long (300+ month) observation sequences.
type gaussianHMM struct {
	k, d  int
	pi    []float64
	a     [][]float64 // transition matrix, a[i][j] = P(state j | state i)
	mu    [][]float64 // k x d means
	sigma []*mat.Dense // k x (d x d) covariances
}

const covRidge = 1e-6 // added to the covariance diagonal each M-step for invertibility

func newGaussianHMM(k, d int) *gaussianHMM {
	h := &gaussianHMM{k: k, d: d}
	h.pi = make([]float64, k)
	h.a = make([][]float64, k)
	h.mu = make([][]float64, k)
	h.sigma = make([]*mat.Dense, k)
	for i := 0; i < k; i++ {
		h.pi[i] = 1.0 / float64(k)
		h.a[i] = make([]float64, k)
		for j := 0; j < k; j++ {
			if i == j {
				h.a[i][j] = 0.9
			} else {
				h.a[i][j] = 0.1 / float64(k-1)
			}
		}
		h.mu[i] = make([]float64, d)
		sigma := mat.NewDense(d, d, nil)
		for r := 0; r < d; r++ {
			sigma.Set(r, r, 1.0)
		}
		h.sigma[i] = sigma
	}
	return h
}

// initFromData seeds the k means by splitting the (standardised) data
// range into k quantile bands along its first principal axis proxy: the
// simplest deterministic initialisation that still spreads states apart,
// avoiding the randomness Baum-Welch EM is sensitive to at k-means-style
// random starts.
func (h *gaussianHMM) initFromData(obs [][]float64) {
	n := len(obs)
	if n == 0 {
		return
	}
	// Sort row indices by the mean of each row's standardised features
	// (a cheap 1-D proxy for spreading initial state means).
	scores := make([]float64, n)
	for i, row := range obs {
		s := 0.0
		for _, v := range row {
			s += v
		}
		scores[i] = s / float64(len(row))
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := 1; i < n; i++ {
		j := i
		for j > 0 && scores[idx[j-1]] > scores[idx[j]] {
			idx[j-1], idx[j] = idx[j], idx[j-1]
			j--
		}
	}

	for s := 0; s < h.k; s++ {
		lo := s * n / h.k
		hi := (s + 1) * n / h.k
		if hi <= lo {
			hi = lo + 1
		}
		if hi > n {
			hi = n
		}
		count := 0
		sum := make([]float64, h.d)
		for r := lo; r < hi; r++ {
			row := obs[idx[r]]
			for c := 0; c < h.d; c++ {
				sum[c] += row[c]
			}
			count++
		}
		if count == 0 {
			continue
		}
		for c := 0; c < h.d; c++ {
			h.mu[s][c] = sum[c] / float64(count)
		}
	}
}

// fit runs Baum-Welch EM for up to maxIter iterations or until the
// log-likelihood improvement drops below tol. Returns an error (never
// panics) on a degenerate fit — singular covariance, NaN likelihood —
// so the caller can fall back to uniform priors per §4.6.
func (h *gaussianHMM) fit(obs [][]float64, maxIter int, tol float64) error {
	n := len(obs)
	if n < h.k*3 {
		return fmt.Errorf("regime: insufficient observations (%d) for %d states", n, h.k)
	}
	h.initFromData(obs)

	prevLL := math.Inf(-1)
	for iter := 0; iter < maxIter; iter++ {
		b, err := h.emissionDensities(obs)
		if err != nil {
			return err
		}

		alphaHat, c, err := h.forward(b)
		if err != nil {
			return err
		}
		betaHat := h.backward(b, c)

		ll := 0.0
		for _, ct := range c {
			if ct <= 0 {
				return fmt.Errorf("regime: degenerate scaling factor during fit")
			}
			ll -= math.Log(ct)
		}
		if math.IsNaN(ll) || math.IsInf(ll, 0) {
			return fmt.Errorf("regime: non-finite log-likelihood during fit")
		}

		gamma := make([][]float64, n)
		for t := 0; t < n; t++ {
			gamma[t] = make([]float64, h.k)
			for i := 0; i < h.k; i++ {
				gamma[t][i] = alphaHat[t][i] * betaHat[t][i] / c[t]
			}
		}

		xi := make([][][]float64, n-1)
		for t := 0; t < n-1; t++ {
			xi[t] = make([][]float64, h.k)
			for i := 0; i < h.k; i++ {
				xi[t][i] = make([]float64, h.k)
				for j := 0; j < h.k; j++ {
					xi[t][i][j] = alphaHat[t][i] * h.a[i][j] * b[t+1][j] * betaHat[t+1][j]
				}
			}
		}

		h.mStep(obs, gamma, xi)

		if math.Abs(ll-prevLL) < tol {
			break
		}
		prevLL = ll
	}
	return nil
}

func (h *gaussianHMM) mStep(obs [][]float64, gamma [][]float64, xi [][][]float64) {
	n := len(obs)

	for i := 0; i < h.k; i++ {
		h.pi[i] = gamma[0][i]
	}

	for i := 0; i < h.k; i++ {
		denom := 0.0
		for t := 0; t < n-1; t++ {
			denom += gamma[t][i]
		}
		for j := 0; j < h.k; j++ {
			num := 0.0
			for t := 0; t < n-1; t++ {
				num += xi[t][i][j]
			}
			if denom > 1e-12 {
				h.a[i][j] = num / denom
			}
		}
	}

	for i := 0; i < h.k; i++ {
		wsum := 0.0
		mu := make([]float64, h.d)
		for t := 0; t < n; t++ {
			w := gamma[t][i]
			wsum += w
			for c := 0; c < h.d; c++ {
				mu[c] += w * obs[t][c]
			}
		}
		if wsum < 1e-9 {
			continue
		}
		for c := 0; c < h.d; c++ {
			mu[c] /= wsum
		}
		h.mu[i] = mu

		sigma := mat.NewDense(h.d, h.d, nil)
		for t := 0; t < n; t++ {
			w := gamma[t][i]
			diff := make([]float64, h.d)
			for c := 0; c < h.d; c++ {
				diff[c] = obs[t][c] - mu[c]
			}
			for r := 0; r < h.d; r++ {
				for c := 0; c < h.d; c++ {
					sigma.Set(r, c, sigma.At(r, c)+w*diff[r]*diff[c])
				}
			}
		}
		for r := 0; r < h.d; r++ {
			for c := 0; c < h.d; c++ {
				sigma.Set(r, c, sigma.At(r, c)/wsum)
			}
			sigma.Set(r, r, sigma.At(r, r)+covRidge)
		}
		h.sigma[i] = sigma
	}
}

// emissionDensities returns b[t][i] = N(obs[t]; mu_i, sigma_i) for every
// observation and state.
func (h *gaussianHMM) emissionDensities(obs [][]float64) ([][]float64, error) {
	n := len(obs)
	b := make([][]float64, n)
	invs := make([]*mat.Dense, h.k)
	logDets := make([]float64, h.k)
	for i := 0; i < h.k; i++ {
		var inv mat.Dense
		if err := inv.Inverse(h.sigma[i]); err != nil {
			return nil, fmt.Errorf("regime: singular covariance for state %d: %w", i, err)
		}
		invs[i] = &inv

		lu := mat.LU{}
		lu.Factorize(h.sigma[i])
		logDets[i] = lu.LogDet()
	}

	for t := 0; t < n; t++ {
		b[t] = make([]float64, h.k)
		for i := 0; i < h.k; i++ {
			diff := mat.NewVecDense(h.d, nil)
			for c := 0; c < h.d; c++ {
				diff.SetVec(c, obs[t][c]-h.mu[i][c])
			}
			var tmp mat.VecDense
			tmp.MulVec(invs[i], diff)
			maha := mat.Dot(diff, &tmp)
			logP := -0.5*(float64(h.d)*math.Log(2*math.Pi)+logDets[i]) - 0.5*maha
			b[t][i] = math.Exp(logP)
			if b[t][i] < 1e-300 {
				b[t][i] = 1e-300
			}
		}
	}
	return b, nil
}

func (h *gaussianHMM) forward(b [][]float64) ([][]float64, []float64, error) {
	n := len(b)
	alphaHat := make([][]float64, n)
	c := make([]float64, n)

	alphaHat[0] = make([]float64, h.k)
	sum := 0.0
	for i := 0; i < h.k; i++ {
		alphaHat[0][i] = h.pi[i] * b[0][i]
		sum += alphaHat[0][i]
	}
	if sum <= 0 {
		return nil, nil, fmt.Errorf("regime: zero forward mass at t=0")
	}
	c[0] = 1.0 / sum
	for i := range alphaHat[0] {
		alphaHat[0][i] *= c[0]
	}

	for t := 1; t < n; t++ {
		alphaHat[t] = make([]float64, h.k)
		sum = 0.0
		for j := 0; j < h.k; j++ {
			acc := 0.0
			for i := 0; i < h.k; i++ {
				acc += alphaHat[t-1][i] * h.a[i][j]
			}
			alphaHat[t][j] = acc * b[t][j]
			sum += alphaHat[t][j]
		}
		if sum <= 0 {
			return nil, nil, fmt.Errorf("regime: zero forward mass at t=%d", t)
		}
		c[t] = 1.0 / sum
		for j := range alphaHat[t] {
			alphaHat[t][j] *= c[t]
		}
	}
	return alphaHat, c, nil
}

func (h *gaussianHMM) backward(b [][]float64, c []float64) [][]float64 {
	n := len(b)
	betaHat := make([][]float64, n)
	betaHat[n-1] = make([]float64, h.k)
	for i := range betaHat[n-1] {
		betaHat[n-1][i] = c[n-1]
	}
	for t := n - 2; t >= 0; t-- {
		betaHat[t] = make([]float64, h.k)
		for i := 0; i < h.k; i++ {
			acc := 0.0
			for j := 0; j < h.k; j++ {
				acc += h.a[i][j] * b[t+1][j] * betaHat[t+1][j]
			}
			betaHat[t][i] = acc * c[t]
		}
	}
	return betaHat
}

// stateProbabilities returns gamma[t][i] (the smoothed posterior) for the
// fitted model over obs.
func (h *gaussianHMM) stateProbabilities(obs [][]float64) ([][]float64, error) {
	b, err := h.emissionDensities(obs)
	if err != nil {
		return nil, err
	}
	alphaHat, c, err := h.forward(b)
	if err != nil {
		return nil, err
	}
	betaHat := h.backward(b, c)
	n := len(obs)
	gamma := make([][]float64, n)
	for t := 0; t < n; t++ {
		gamma[t] = make([]float64, h.k)
		for i := 0; i < h.k; i++ {
			gamma[t][i] = alphaHat[t][i] * betaHat[t][i] / c[t]
		}
	}
	return gamma, nil
}

// stressColumnOrder ranks state indices ascending by their mean value on
// a given observation column, used to assign semantic labels (§4.6: VIX
// ordering for the global model, ΔCDS ordering for the domestic model).
func (h *gaussianHMM) stressColumnOrder(col int) []int {
	order := make([]int, h.k)
	for i := range order {
		order[i] = i
	}
	for i := 1; i < h.k; i++ {
		j := i
		for j > 0 && h.mu[order[j-1]][col] > h.mu[order[j]][col] {
			order[j-1], order[j] = order[j], order[j-1]
			j--
		}
	}
	return order
}
