package models

// regressionTree is a compact CART-style regression tree: binary splits
// chosen by variance reduction, grown to maxDepth or until a node has
// fewer than minLeaf samples. It is the shared building block behind
// RandomForest (bagged trees), GBM and the XGBoost-style learner
// (boosted trees over residuals) — see DESIGN.md for why a hand-rolled
// tree stands in for a dedicated gradient-boosting library here.
type regressionTree struct {
	root *treeNode
}

type treeNode struct {
	isLeaf     bool
	value      float64
	featureIdx int
	threshold  float64
	left, right *treeNode
}

type treeParams struct {
	maxDepth int
	minLeaf  int
}

func fitTree(x [][]float64, y []float64, params treeParams) *regressionTree {
	n := len(y)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return &regressionTree{root: buildNode(x, y, idx, 0, params)}
}

func buildNode(x [][]float64, y []float64, idx []int, depth int, params treeParams) *treeNode {
	mean := meanAt(y, idx)
	if depth >= params.maxDepth || len(idx) < params.minLeaf*2 {
		return &treeNode{isLeaf: true, value: mean}
	}

	bestGain := 0.0
	bestFeature := -1
	bestThreshold := 0.0
	var bestLeft, bestRight []int

	parentVar := varianceAt(y, idx)
	p := len(x)
	for f := 0; f < p; f++ {
		thresholds := candidateThresholds(x[f], idx)
		for _, th := range thresholds {
			var left, right []int
			for _, i := range idx {
				if x[f][i] <= th {
					left = append(left, i)
				} else {
					right = append(right, i)
				}
			}
			if len(left) < params.minLeaf || len(right) < params.minLeaf {
				continue
			}
			wl := float64(len(left)) / float64(len(idx))
			wr := float64(len(right)) / float64(len(idx))
			childVar := wl*varianceAt(y, left) + wr*varianceAt(y, right)
			gain := parentVar - childVar
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = th
				bestLeft = left
				bestRight = right
			}
		}
	}

	if bestFeature < 0 {
		return &treeNode{isLeaf: true, value: mean}
	}

	return &treeNode{
		isLeaf:     false,
		featureIdx: bestFeature,
		threshold:  bestThreshold,
		left:       buildNode(x, y, bestLeft, depth+1, params),
		right:      buildNode(x, y, bestRight, depth+1, params),
	}
}

// candidateThresholds picks evenly spaced quantile cut points from a
// feature's values at idx (every len/10-th sorted value, or every value
// below 20 values, deduplicated): at most len-1 cuts, and 9 to 14 once
// there are 20 or more values, keeping split search cheap on the short
// monthly panels this engine trains on.
func candidateThresholds(col []float64, idx []int) []float64 {
	vals := make([]float64, len(idx))
	for i, ix := range idx {
		vals[i] = col[ix]
	}
	sortFloats(vals)
	const maxCuts = 10
	step := len(vals) / maxCuts
	if step < 1 {
		step = 1
	}
	seen := map[float64]bool{}
	var out []float64
	for i := step; i < len(vals); i += step {
		v := vals[i]
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func sortFloats(xs []float64) {
	for i := 1; i < len(xs); i++ {
		v := xs[i]
		j := i - 1
		for j >= 0 && xs[j] > v {
			xs[j+1] = xs[j]
			j--
		}
		xs[j+1] = v
	}
}

func meanAt(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range idx {
		sum += y[i]
	}
	return sum / float64(len(idx))
}

func varianceAt(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	mean := meanAt(y, idx)
	ss := 0.0
	for _, i := range idx {
		d := y[i] - mean
		ss += d * d
	}
	return ss / float64(len(idx))
}

func (t *regressionTree) predictRow(row []float64) float64 {
	n := t.root
	for !n.isLeaf {
		if row[n.featureIdx] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

func (t *regressionTree) predict(x [][]float64) []float64 {
	if len(x) == 0 {
		return nil
	}
	n := len(x[0])
	p := len(x)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, p)
		for j := 0; j < p; j++ {
			row[j] = x[j][i]
		}
		out[i] = t.predictRow(row)
	}
	return out
}
