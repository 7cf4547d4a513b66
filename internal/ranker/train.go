//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package ranker implements the second stage of the recommender: it
// learns P(redemption | shown) from historical impressions and scores
// the candidate pool with the better of two hand-rolled models.
package ranker

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/pgEdge/pgedge-recommend/internal/config"
	"github.com/pgEdge/pgedge-recommend/internal/db"
	"github.com/pgEdge/pgedge-recommend/internal/drift"
	"github.com/pgEdge/pgedge-recommend/internal/features"
	"github.com/pgEdge/pgedge-recommend/internal/logging"
)

// Train builds the labeled training set as of refDate, fits both
// models, selects the one with the higher validation AUC, captures
// drift baselines, and saves the artifact under cfg.ModelsDir. An
// empty training set returns (nil, zero metrics, nil): nothing to
// learn from is not an error.
func Train(ctx context.Context, q db.Queryer, cfg *config.Config, refDate time.Time) (*Artifact, Metrics, error) {
	logging.Info().Time("reference_date", refDate).Msg("Training ranker")

	labeled, err := buildLabels(ctx, q, cfg, refDate)
	if err != nil {
		return nil, Metrics{}, err
	}
	if len(labeled) == 0 {
		logging.Warn().Msg("No training data available")
		return nil, Metrics{}, nil
	}

	sample := downsample(labeled, cfg)

	pairs := make([]features.Pair, len(sample))
	y := make([]float64, len(sample))
	var nPos float64
	for i, p := range sample {
		pairs[i] = features.Pair{CustomerID: p.customerID, OfferID: p.offerID}
		y[i] = p.label
		nPos += p.label
	}

	X, err := assembleMatrix(ctx, q, cfg, pairs, FeatureNames, refDate)
	if err != nil {
		return nil, Metrics{}, err
	}

	// The sample is already shuffled, so a positional split behaves
	// like a random holdout.
	split := int(float64(len(X)) * (1 - cfg.Training.ValidationSplit))
	if split < 1 {
		split = 1
	}
	XTrain, XVal := X[:split], X[split:]
	yTrain, yVal := y[:split], y[split:]

	metrics := Metrics{
		TrainRows:        len(XTrain),
		ValidationRows:   len(XVal),
		PositiveFraction: round4(nPos / float64(len(y))),
	}
	logging.Info().
		Int("train_rows", len(XTrain)).
		Int("validation_rows", len(XVal)).
		Float64("positive_fraction", metrics.PositiveFraction).
		Msg("Training set assembled")

	logreg := FitLogReg(XTrain, yTrain, cfg.Training.LogReg)
	metrics.LogRegAUC = round4(validationAUC(logreg.PredictProba, XVal, yVal))
	logging.Info().Float64("auc", metrics.LogRegAUC).Msg("Logistic regression trained")

	boosted := FitBoosted(XTrain, yTrain, cfg.Training.Boosted)
	metrics.BoostedAUC = round4(validationAUC(boosted.PredictProba, XVal, yVal))
	logging.Info().Float64("auc", metrics.BoostedAUC).Msg("Boosted trees trained")

	a := &Artifact{
		FeatureNames: FeatureNames,
		TrainDate:    refDate,
		LogReg:       logreg,
		Boosted:      boosted,
	}
	if metrics.BoostedAUC >= metrics.LogRegAUC {
		a.ModelName = ModelBoosted
		metrics.BestModel = ModelBoosted
		metrics.BestAUC = metrics.BoostedAUC
		metrics.FeatureImportance = boosted.Importance(FeatureNames)
	} else {
		a.ModelName = ModelLogReg
		metrics.BestModel = ModelLogReg
		metrics.BestAUC = metrics.LogRegAUC
		metrics.FeatureImportance = logreg.Importance(FeatureNames)
	}
	a.Metrics = metrics
	logging.Info().Str("model", a.ModelName).Float64("auc", metrics.BestAUC).Msg("Model selected")

	baselines, err := drift.BuildBaselines(ctx, q, cfg)
	if err != nil {
		return nil, Metrics{}, err
	}
	a.DriftBaselines = baselines

	if err := a.Save(cfg.ModelsDir); err != nil {
		return nil, Metrics{}, err
	}
	return a, metrics, nil
}

// validationAUC computes the ROC AUC of a scorer on the holdout. A
// single-class holdout is reported as 0.5.
func validationAUC(predict func([]float64) float64, X [][]float64, y []float64) float64 {
	scores := make([]float64, len(X))
	for i, row := range X {
		scores[i] = predict(row)
	}
	return rocAUC(y, scores)
}

// rocAUC is the rank-statistic form of ROC AUC, with the midrank
// correction for tied scores.
func rocAUC(y, scores []float64) float64 {
	var nPos, nNeg float64
	for _, label := range y {
		if label > 0.5 {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0.5
	}

	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return scores[idx[a]] < scores[idx[b]]
	})

	// Midranks over tied groups.
	ranks := make([]float64, len(scores))
	for i := 0; i < len(idx); {
		j := i
		for j < len(idx) && scores[idx[j]] == scores[idx[i]] {
			j++
		}
		mid := float64(i+j+1) / 2 // average of ranks i+1 .. j
		for k := i; k < j; k++ {
			ranks[idx[k]] = mid
		}
		i = j
	}

	var rankSum float64
	for i, label := range y {
		if label > 0.5 {
			rankSum += ranks[i]
		}
	}
	return (rankSum - nPos*(nPos+1)/2) / (nPos * nNeg)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
