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

	"github.com/pgEdge/pgedge-recommend/internal/config"
)

// LogisticRegression is a linear probability-of-redemption model fit by
// stochastic gradient descent with L2 regularization and balanced class
// weights. Features are standardized to zero mean and unit variance
// before training; the scaler parameters serialize with the model so
// scoring applies the identical transform. Without standardization the
// raw currency-scale inputs would saturate the sigmoid under SGD.
type LogisticRegression struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
	Means   []float64 `json:"means"`
	Stds    []float64 `json:"stds"`
}

// FitLogReg trains a logistic regression on X/y. Rows are visited in a
// fixed order each epoch, so training is deterministic for a given
// input ordering (the caller shuffles once with a seeded source).
func FitLogReg(X [][]float64, y []float64, cfg config.LogRegConfig) *LogisticRegression {
	m := &LogisticRegression{}
	if len(X) == 0 {
		return m
	}
	nFeatures := len(X[0])
	m.Weights = make([]float64, nFeatures)
	m.fitScaler(X)

	Z := make([][]float64, len(X))
	for i, row := range X {
		Z[i] = m.standardize(row)
	}

	// Balanced class weights: w_c = n / (2 * n_c).
	var nPos float64
	for _, label := range y {
		nPos += label
	}
	nNeg := float64(len(y)) - nPos
	posWeight, negWeight := 1.0, 1.0
	if nPos > 0 && nNeg > 0 {
		posWeight = float64(len(y)) / (2 * nPos)
		negWeight = float64(len(y)) / (2 * nNeg)
	}

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		for i, row := range Z {
			p := sigmoid(m.logit(row))
			grad := p - y[i]
			if y[i] > 0.5 {
				grad *= posWeight
			} else {
				grad *= negWeight
			}
			for j, v := range row {
				m.Weights[j] -= cfg.LearningRate * (grad*v + cfg.L2*m.Weights[j])
			}
			m.Bias -= cfg.LearningRate * grad
		}
	}
	return m
}

// PredictProba returns the predicted probability of the positive class.
func (m *LogisticRegression) PredictProba(x []float64) float64 {
	return sigmoid(m.logit(m.standardize(x)))
}

// logit is the linear predictor over an already-standardized row.
func (m *LogisticRegression) logit(z []float64) float64 {
	v := m.Bias
	for j, w := range m.Weights {
		if j < len(z) {
			v += w * z[j]
		}
	}
	return v
}

// fitScaler computes the per-feature mean and standard deviation.
// A zero-variance feature gets std 1 so standardizing maps it to 0.
func (m *LogisticRegression) fitScaler(X [][]float64) {
	nFeatures := len(X[0])
	m.Means = make([]float64, nFeatures)
	m.Stds = make([]float64, nFeatures)
	n := float64(len(X))
	for _, row := range X {
		for j, v := range row {
			m.Means[j] += v
		}
	}
	for j := range m.Means {
		m.Means[j] /= n
	}
	for _, row := range X {
		for j, v := range row {
			d := v - m.Means[j]
			m.Stds[j] += d * d
		}
	}
	for j := range m.Stds {
		m.Stds[j] = math.Sqrt(m.Stds[j] / n)
		if m.Stds[j] == 0 {
			m.Stds[j] = 1
		}
	}
}

func (m *LogisticRegression) standardize(x []float64) []float64 {
	if len(m.Means) == 0 {
		return x
	}
	z := make([]float64, len(x))
	for j, v := range x {
		if j < len(m.Means) {
			z[j] = (v - m.Means[j]) / m.Stds[j]
		} else {
			z[j] = v
		}
	}
	return z
}

// Importance reports the learned coefficient per feature name.
func (m *LogisticRegression) Importance(featureNames []string) map[string]float64 {
	imp := make(map[string]float64, len(featureNames))
	for j, name := range featureNames {
		if j < len(m.Weights) {
			imp[name] = m.Weights[j]
		}
	}
	return imp
}

func sigmoid(z float64) float64 {
	if z < -30 {
		return 0
	}
	if z > 30 {
		return 1
	}
	return 1.0 / (1.0 + math.Exp(-z))
}
