//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package ranker

import (
	"math"
	"sort"

	"github.com/pgEdge/pgedge-recommend/internal/config"
)

// TreeNode is one node of a regression tree. Leaf nodes have
// Left == Right == -1 and carry Value; internal nodes split on
// Feature < Threshold. Nodes are stored flat so the tree round-trips
// through JSON without recursion in the codec.
type TreeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
	Gain      float64 `json:"gain"`
}

// Tree is a depth-limited regression tree over the feature matrix.
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

func (t *Tree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if n.Feature < len(x) && x[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// BoostedTrees is a gradient-boosted ensemble trained with logistic
// loss. Each stage fits a regression tree to the current pseudo
// residuals; leaf values use a single Newton step.
type BoostedTrees struct {
	BasePrediction float64 `json:"base_prediction"`
	LearningRate   float64 `json:"learning_rate"`
	Trees          []Tree  `json:"trees"`
}

// FitBoosted trains the boosted ensemble on X/y.
func FitBoosted(X [][]float64, y []float64, cfg config.BoostedConfig) *BoostedTrees {
	m := &BoostedTrees{LearningRate: cfg.LearningRate}
	if len(X) == 0 {
		return m
	}

	var nPos float64
	for _, label := range y {
		nPos += label
	}
	p := nPos / float64(len(y))
	p = math.Min(math.Max(p, 1e-6), 1-1e-6)
	m.BasePrediction = math.Log(p / (1 - p))

	// Raw scores, updated stage by stage.
	f := make([]float64, len(X))
	for i := range f {
		f[i] = m.BasePrediction
	}

	residuals := make([]float64, len(X))
	hessians := make([]float64, len(X))
	rows := make([]int, len(X))
	for i := range rows {
		rows[i] = i
	}

	for stage := 0; stage < cfg.Trees; stage++ {
		for i := range X {
			prob := sigmoid(f[i])
			residuals[i] = y[i] - prob
			hessians[i] = prob * (1 - prob)
		}

		b := &treeBuilder{
			X:              X,
			residuals:      residuals,
			hessians:       hessians,
			maxDepth:       cfg.MaxDepth,
			minSamplesLeaf: cfg.MinSamplesLeaf,
		}
		tree := Tree{}
		b.build(&tree, rows, 0)
		m.Trees = append(m.Trees, tree)

		for i, row := range X {
			f[i] += m.LearningRate * tree.predict(row)
		}
	}
	return m
}

// PredictProba returns the predicted probability of the positive class.
func (m *BoostedTrees) PredictProba(x []float64) float64 {
	f := m.BasePrediction
	for ti := range m.Trees {
		f += m.LearningRate * m.Trees[ti].predict(x)
	}
	return sigmoid(f)
}

// Importance reports total split gain per feature name.
func (m *BoostedTrees) Importance(featureNames []string) map[string]float64 {
	imp := make(map[string]float64, len(featureNames))
	for _, name := range featureNames {
		imp[name] = 0
	}
	for ti := range m.Trees {
		for _, n := range m.Trees[ti].Nodes {
			if n.Left >= 0 && n.Feature < len(featureNames) {
				imp[featureNames[n.Feature]] += n.Gain
			}
		}
	}
	return imp
}

// treeBuilder grows one regression tree on the boosting residuals.
type treeBuilder struct {
	X              [][]float64
	residuals      []float64
	hessians       []float64
	maxDepth       int
	minSamplesLeaf int
}

// build appends the subtree for rows and returns its node index.
func (b *treeBuilder) build(t *Tree, rows []int, depth int) int {
	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, TreeNode{Left: -1, Right: -1, Value: b.leafValue(rows)})

	if depth >= b.maxDepth || len(rows) < 2*b.minSamplesLeaf {
		return idx
	}

	feature, threshold, gain, ok := b.bestSplit(rows)
	if !ok {
		return idx
	}

	var left, right []int
	for _, r := range rows {
		if b.X[r][feature] < threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	t.Nodes[idx].Feature = feature
	t.Nodes[idx].Threshold = threshold
	t.Nodes[idx].Gain = gain
	// Children are appended after the parent; record indexes once built.
	l := b.build(t, left, depth+1)
	r := b.build(t, right, depth+1)
	t.Nodes[idx].Left = l
	t.Nodes[idx].Right = r
	return idx
}

// leafValue is the Newton-step optimal value for logistic loss:
// sum(residual) / sum(p * (1 - p)).
func (b *treeBuilder) leafValue(rows []int) float64 {
	var num, den float64
	for _, r := range rows {
		num += b.residuals[r]
		den += b.hessians[r]
	}
	if den < 1e-12 {
		return 0
	}
	return num / den
}

// bestSplit scans every feature for the split minimizing residual
// variance, subject to the minimum leaf size. Candidate thresholds are
// midpoints between consecutive distinct sorted values.
func (b *treeBuilder) bestSplit(rows []int) (feature int, threshold, gain float64, ok bool) {
	nFeatures := len(b.X[rows[0]])

	var totalSum, totalSq float64
	for _, r := range rows {
		v := b.residuals[r]
		totalSum += v
		totalSq += v * v
	}
	n := float64(len(rows))
	parentScore := totalSq - totalSum*totalSum/n

	bestGain := 0.0
	sorted := make([]int, len(rows))

	for j := 0; j < nFeatures; j++ {
		copy(sorted, rows)
		sort.Slice(sorted, func(a, c int) bool {
			if b.X[sorted[a]][j] != b.X[sorted[c]][j] {
				return b.X[sorted[a]][j] < b.X[sorted[c]][j]
			}
			return sorted[a] < sorted[c]
		})

		var leftSum, leftSq float64
		for i := 0; i < len(sorted)-1; i++ {
			v := b.residuals[sorted[i]]
			leftSum += v
			leftSq += v * v

			cur, next := b.X[sorted[i]][j], b.X[sorted[i+1]][j]
			if cur == next {
				continue
			}
			nLeft := i + 1
			nRight := len(sorted) - nLeft
			if nLeft < b.minSamplesLeaf || nRight < b.minSamplesLeaf {
				continue
			}

			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			leftScore := leftSq - leftSum*leftSum/float64(nLeft)
			rightScore := rightSq - rightSum*rightSum/float64(nRight)
			g := parentScore - leftScore - rightScore
			if g > bestGain+1e-12 {
				bestGain = g
				feature = j
				threshold = (cur + next) / 2
				ok = true
			}
		}
	}
	return feature, threshold, bestGain, ok
}
