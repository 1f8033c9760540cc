// Package regress implements a small gradient-boosted regression tree model
// with squared-error loss.
package regress

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// Params are the boosting hyperparameters.
type Params struct {
	NEstimators    int
	LearningRate   float64
	MaxDepth       int
	MinSamplesLeaf int
}

// DefaultParams mirror the configured defaults.
func DefaultParams() Params {
	return Params{NEstimators: 100, LearningRate: 0.1, MaxDepth: 3, MinSamplesLeaf: 1}
}

// GBRegressor is a gradient-boosted ensemble of regression trees. The zero
// value is unfitted and predicts NaN.
type GBRegressor struct {
	params   Params
	base     float64
	trees    []*node
	features int
	fitted   bool
}

// New returns an unfitted regressor.
func New(p Params) *GBRegressor {
	if p.NEstimators < 1 {
		p.NEstimators = 1
	}
	if p.LearningRate <= 0 {
		p.LearningRate = 0.1
	}
	if p.MaxDepth < 1 {
		p.MaxDepth = 1
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = 1
	}
	return &GBRegressor{params: p}
}

// Fitted reports whether Fit has succeeded.
func (g *GBRegressor) Fitted() bool {
	return g != nil && g.fitted
}

// Fit trains the ensemble on X (one row per sample) and y.
func (g *GBRegressor) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return eris.New("regress: no training samples")
	}
	if len(X) != len(y) {
		return eris.Errorf("regress: %d rows but %d targets", len(X), len(y))
	}
	width := len(X[0])
	for i, row := range X {
		if len(row) != width {
			return eris.Errorf("regress: row %d has %d features, want %d", i, len(row), width)
		}
	}

	g.features = width
	g.base = Mean(y)
	g.trees = g.trees[:0]

	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = g.base
	}
	residual := make([]float64, len(y))
	idx := make([]int, len(y))

	for m := 0; m < g.params.NEstimators; m++ {
		for i := range y {
			residual[i] = y[i] - pred[i]
			idx[i] = i
		}
		tree := g.build(X, residual, idx, 0)
		g.trees = append(g.trees, tree)
		for i := range y {
			pred[i] += g.params.LearningRate * tree.predict(X[i])
		}
	}
	g.fitted = true
	return nil
}

// Predict returns the model output for one feature row, or NaN when the
// model is unfitted or the row has the wrong width.
func (g *GBRegressor) Predict(x []float64) float64 {
	if !g.Fitted() || len(x) != g.features {
		return math.NaN()
	}
	out := g.base
	for _, t := range g.trees {
		out += g.params.LearningRate * t.predict(x)
	}
	return out
}

// PredictAll applies Predict to each row.
func (g *GBRegressor) PredictAll(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = g.Predict(row)
	}
	return out
}

type node struct {
	leaf      bool
	value     float64
	feature   int
	threshold float64
	left      *node
	right     *node
}

func (n *node) predict(x []float64) float64 {
	for !n.leaf {
		if x[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

func (g *GBRegressor) build(X [][]float64, r []float64, idx []int, depth int) *node {
	leafValue := 0.0
	for _, i := range idx {
		leafValue += r[i]
	}
	leafValue /= float64(len(idx))

	minLeaf := g.params.MinSamplesLeaf
	if depth >= g.params.MaxDepth || len(idx) < 2*minLeaf {
		return &node{leaf: true, value: leafValue}
	}

	feature, threshold, ok := bestSplit(X, r, idx, minLeaf)
	if !ok {
		return &node{leaf: true, value: leafValue}
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return &node{
		feature:   feature,
		threshold: threshold,
		left:      g.build(X, r, left, depth+1),
		right:     g.build(X, r, right, depth+1),
	}
}

// bestSplit finds the split minimizing the summed squared error of both
// children. Ties keep the first candidate in feature then threshold order.
func bestSplit(X [][]float64, r []float64, idx []int, minLeaf int) (int, float64, bool) {
	n := len(idx)
	var total, totalSq float64
	for _, i := range idx {
		total += r[i]
		totalSq += r[i] * r[i]
	}
	bestGain := 1e-12
	bestFeature, bestThreshold := -1, 0.0

	order := make([]int, n)
	for f := 0; f < len(X[idx[0]]); f++ {
		copy(order, idx)
		sort.SliceStable(order, func(a, b int) bool { return X[order[a]][f] < X[order[b]][f] })

		parentSSE := totalSq - total*total/float64(n)
		var leftSum float64
		for k := 0; k < n-1; k++ {
			leftSum += r[order[k]]
			nl := k + 1
			nr := n - nl
			cur, next := X[order[k]][f], X[order[k+1]][f]
			if cur == next || nl < minLeaf || nr < minLeaf {
				continue
			}
			rightSum := total - leftSum
			// SSE reduction = parent SSE - children SSE, expressed via sums.
			childSSE := totalSq - leftSum*leftSum/float64(nl) - rightSum*rightSum/float64(nr)
			gain := parentSSE - childSSE
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = (cur + next) / 2
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}
