package models

import (
	"fmt"
	"math/rand"
)

// gbmLearner is a gradient-boosted ensemble of shallow regression trees
// fit on successive residuals with a fixed learning rate, the "GBM"
// entry in §4.8's four-model lineup.
type gbmLearner struct {
	nTrees       int
	learningRate float64
	depth        int
	trees        []*regressionTree
	initValue    float64
	features     []string
}

func newGBMLearner() *gbmLearner {
	return &gbmLearner{nTrees: 100, learningRate: 0.05, depth: 3}
}

func (g *gbmLearner) Fit(x [][]float64, y []float64) error {
	n := len(y)
	if n < 10 {
		return fmt.Errorf("models: gbm fit needs at least 10 rows, got %d", n)
	}
	resid := make([]float64, n)
	mean := 0.0
	for _, v := range y {
		mean += v
	}
	mean /= float64(n)
	g.initValue = mean
	for i := range resid {
		resid[i] = y[i] - mean
	}

	g.trees = make([]*regressionTree, 0, g.nTrees)
	params := treeParams{maxDepth: g.depth, minLeaf: 3}
	for t := 0; t < g.nTrees; t++ {
		tree := fitTree(x, resid, params)
		pred := tree.predict(x)
		for i := range resid {
			resid[i] -= g.learningRate * pred[i]
		}
		g.trees = append(g.trees, tree)
	}
	return nil
}

func (g *gbmLearner) Predict(x [][]float64) ([]float64, error) {
	if len(g.trees) == 0 {
		return nil, fmt.Errorf("models: gbm predict before fit")
	}
	if len(x) == 0 {
		return nil, nil
	}
	n := len(x[0])
	out := make([]float64, n)
	for i := range out {
		out[i] = g.initValue
	}
	for _, tree := range g.trees {
		pred := tree.predict(x)
		for i := range out {
			out[i] += g.learningRate * pred[i]
		}
	}
	return out, nil
}

func (g *gbmLearner) FittedOnFeatures() []string { return g.features }

// randomForestLearner bags shallow trees over bootstrap row samples and
// random feature subsets, averaging their predictions — the "RF" entry.
type randomForestLearner struct {
	nTrees     int
	depth      int
	sampleFrac float64
	trees      []*regressionTree
	featureSubsets [][]int
	features   []string
	seed       int64
}

func newRandomForestLearner(seed int64) *randomForestLearner {
	return &randomForestLearner{nTrees: 200, depth: 5, sampleFrac: 0.8, seed: seed}
}

func (f *randomForestLearner) Fit(x [][]float64, y []float64) error {
	n := len(y)
	p := len(x)
	if n < 10 || p == 0 {
		return fmt.Errorf("models: random forest fit needs data, got n=%d p=%d", n, p)
	}
	rng := rand.New(rand.NewSource(f.seed))
	f.trees = make([]*regressionTree, 0, f.nTrees)
	f.featureSubsets = make([][]int, 0, f.nTrees)
	subsetSize := p
	if p > 3 {
		subsetSize = p*2/3 + 1
	}
	params := treeParams{maxDepth: f.depth, minLeaf: 2}

	sampleN := int(float64(n) * f.sampleFrac)
	for t := 0; t < f.nTrees; t++ {
		rowIdx := make([]int, sampleN)
		for i := range rowIdx {
			rowIdx[i] = rng.Intn(n)
		}
		featIdx := rng.Perm(p)[:subsetSize]

		subX := make([][]float64, len(featIdx))
		for j, fi := range featIdx {
			col := make([]float64, sampleN)
			for i, ri := range rowIdx {
				col[i] = x[fi][ri]
			}
			subX[j] = col
		}
		subY := make([]float64, sampleN)
		for i, ri := range rowIdx {
			subY[i] = y[ri]
		}

		tree := fitTree(subX, subY, params)
		f.trees = append(f.trees, tree)
		f.featureSubsets = append(f.featureSubsets, featIdx)
	}
	return nil
}

func (f *randomForestLearner) Predict(x [][]float64) ([]float64, error) {
	if len(f.trees) == 0 {
		return nil, fmt.Errorf("models: random forest predict before fit")
	}
	if len(x) == 0 {
		return nil, nil
	}
	n := len(x[0])
	sum := make([]float64, n)
	for t, tree := range f.trees {
		featIdx := f.featureSubsets[t]
		subX := make([][]float64, len(featIdx))
		for j, fi := range featIdx {
			subX[j] = x[fi]
		}
		pred := tree.predict(subX)
		for i := range sum {
			sum[i] += pred[i]
		}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = sum[i] / float64(len(f.trees))
	}
	return out, nil
}

func (f *randomForestLearner) FittedOnFeatures() []string { return f.features }

// xgboostLearner is a second gradient-boosted-tree learner distinguished
// from gbmLearner by its leaf-weight L2 regularisation and steeper
// shrinkage/more, deeper trees — the profile an XGBoost config
// typically lands on relative to a plain GBM, without depending on the
// real xgboost C++ library (absent from every example repo).
type xgboostLearner struct {
	nTrees       int
	learningRate float64
	depth        int
	l2           float64
	trees        []*regressionTree
	initValue    float64
	features     []string
}

func newXGBoostLearner() *xgboostLearner {
	return &xgboostLearner{nTrees: 150, learningRate: 0.03, depth: 4, l2: 1.0}
}

func (xg *xgboostLearner) Fit(x [][]float64, y []float64) error {
	n := len(y)
	if n < 10 {
		return fmt.Errorf("models: xgboost fit needs at least 10 rows, got %d", n)
	}
	resid := make([]float64, n)
	mean := 0.0
	for _, v := range y {
		mean += v
	}
	mean /= float64(n)
	xg.initValue = mean
	for i := range resid {
		resid[i] = y[i] - mean
	}

	xg.trees = make([]*regressionTree, 0, xg.nTrees)
	params := treeParams{maxDepth: xg.depth, minLeaf: 4}
	shrink := xg.learningRate / (1 + xg.l2)
	for t := 0; t < xg.nTrees; t++ {
		tree := fitTree(x, resid, params)
		pred := tree.predict(x)
		for i := range resid {
			resid[i] -= shrink * pred[i]
		}
		xg.trees = append(xg.trees, tree)
	}
	return nil
}

func (xg *xgboostLearner) Predict(x [][]float64) ([]float64, error) {
	if len(xg.trees) == 0 {
		return nil, fmt.Errorf("models: xgboost predict before fit")
	}
	if len(x) == 0 {
		return nil, nil
	}
	n := len(x[0])
	out := make([]float64, n)
	for i := range out {
		out[i] = xg.initValue
	}
	shrink := xg.learningRate / (1 + xg.l2)
	for _, tree := range xg.trees {
		pred := tree.predict(x)
		for i := range out {
			out[i] += shrink * pred[i]
		}
	}
	return out, nil
}

func (xg *xgboostLearner) FittedOnFeatures() []string { return xg.features }
