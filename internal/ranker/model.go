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
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"

	"github.com/pgEdge/pgedge-recommend/internal/drift"
	"github.com/pgEdge/pgedge-recommend/internal/logging"
)

// ArtifactFile is the stable pointer name for the latest trained model.
const ArtifactFile = "ranker_latest.json"

// Model names recorded in the artifact.
const (
	ModelLogReg  = "logistic_regression"
	ModelBoosted = "boosted_trees"
)

// Metrics summarizes a training run.
type Metrics struct {
	LogRegAUC         float64            `json:"logreg_auc"`
	BoostedAUC        float64            `json:"boosted_auc"`
	BestModel         string             `json:"best_model"`
	BestAUC           float64            `json:"best_auc"`
	TrainRows         int                `json:"train_rows"`
	ValidationRows    int                `json:"validation_rows"`
	PositiveFraction  float64            `json:"positive_fraction"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
}

// Artifact is the persisted training output: both fitted models, the
// winner, the feature layout, and the drift baselines captured from
// the training population.
type Artifact struct {
	ModelName      string                     `json:"model_name"`
	FeatureNames   []string                   `json:"feature_names"`
	TrainDate      time.Time                  `json:"train_date"`
	Metrics        Metrics                    `json:"metrics"`
	LogReg         *LogisticRegression        `json:"logreg"`
	Boosted        *BoostedTrees              `json:"boosted"`
	DriftBaselines map[string]drift.Histogram `json:"drift_baselines"`
}

// PredictProba scores one feature vector with the winning model.
func (a *Artifact) PredictProba(x []float64) float64 {
	if a.ModelName == ModelBoosted && a.Boosted != nil {
		return a.Boosted.PredictProba(x)
	}
	return a.LogReg.PredictProba(x)
}

// Save writes the artifact atomically under dir.
func (a *Artifact) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create models dir: %w", err)
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode model artifact: %w", err)
	}

	path := filepath.Join(dir, ArtifactFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to install model artifact: %w", err)
	}
	logging.Info().Str("path", path).Str("model", a.ModelName).Msg("Model artifact saved")
	return nil
}

// Load reads the latest artifact from dir. A missing artifact is
// reported through os.IsNotExist on the wrapped error.
func Load(dir string) (*Artifact, error) {
	path := filepath.Join(dir, ArtifactFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact %s: %w", path, err)
	}
	logging.Info().
		Str("model", a.ModelName).
		Time("train_date", a.TrainDate).
		Float64("auc", a.Metrics.BestAUC).
		Msg("Model artifact loaded")
	return &a, nil
}
