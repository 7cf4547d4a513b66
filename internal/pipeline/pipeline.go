//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package pipeline orchestrates the daily batch run: features, model
// train-or-load, candidate generation, scoring, drift check, and
// offline evaluation, with a per-step audit trail in pipeline_runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"

	"github.com/pgEdge/pgedge-recommend/internal/candidates"
	"github.com/pgEdge/pgedge-recommend/internal/config"
	"github.com/pgEdge/pgedge-recommend/internal/db"
	"github.com/pgEdge/pgedge-recommend/internal/drift"
	"github.com/pgEdge/pgedge-recommend/internal/evaluate"
	"github.com/pgEdge/pgedge-recommend/internal/features"
	"github.com/pgEdge/pgedge-recommend/internal/logging"
	"github.com/pgEdge/pgedge-recommend/internal/ranker"
)

// Step names, in execution order.
const (
	StepFeatures   = "features"
	StepModel      = "model"
	StepCandidates = "candidates"
	StepScoring    = "scoring"
	StepDrift      = "drift"
	StepEvaluate   = "evaluate"
)

// Step execution statuses.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// StepResult records one step's outcome for the caller. The database
// audit trail in pipeline_runs carries the same information.
type StepResult struct {
	Status   string
	Duration time.Duration
	Err      error
}

// Results maps step name to outcome. Every attempted step appears,
// including failed ones; skipped dependents appear with StatusSkipped.
type Results map[string]StepResult

// Run executes the full pipeline for runDate. Step failures never
// abort the run outright: only steps depending on the failed one are
// skipped (scoring needs both the model and the candidate pool;
// everything else runs regardless). The returned error is reserved for
// audit-trail write failures.
func Run(ctx context.Context, q db.Queryer, cfg *config.Config, runDate time.Time) (Results, error) {
	logging.Info().Time("run_date", runDate).Msg("Starting daily pipeline")
	start := time.Now()
	results := Results{}

	_, err := runStep(ctx, q, runDate, StepFeatures, results, func() (any, error) {
		nCust, err := features.BuildCustomerFeatures(ctx, q, cfg, runDate)
		if err != nil {
			return nil, err
		}
		nOff, err := features.BuildOfferFeatures(ctx, q, runDate)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"customer_rows": nCust, "offer_rows": nOff}, nil
	})
	if err != nil {
		return results, err
	}

	var artifact *ranker.Artifact
	_, err = runStep(ctx, q, runDate, StepModel, results, func() (any, error) {
		a, err := trainOrLoad(ctx, q, cfg, runDate)
		if err != nil {
			return nil, err
		}
		artifact = a
		if a == nil {
			return map[string]string{"model": "none"}, nil
		}
		return map[string]any{"model": a.ModelName, "auc": a.Metrics.BestAUC}, nil
	})
	if err != nil {
		return results, err
	}

	_, err = runStep(ctx, q, runDate, StepCandidates, results, func() (any, error) {
		n, err := candidates.Generate(ctx, q, cfg, runDate)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"candidates": n}, nil
	})
	if err != nil {
		return results, err
	}

	if artifact == nil || results[StepModel].Status == StatusFailed || results[StepCandidates].Status == StatusFailed {
		logging.Warn().Msg("Skipping scoring: no model or candidate pool")
		results[StepScoring] = StepResult{Status: StatusSkipped}
	} else {
		_, err = runStep(ctx, q, runDate, StepScoring, results, func() (any, error) {
			n, err := ranker.Score(ctx, q, cfg, artifact, runDate)
			if err != nil {
				return nil, err
			}
			return map[string]int64{"recommendations": n}, nil
		})
		if err != nil {
			return results, err
		}
	}

	_, err = runStep(ctx, q, runDate, StepDrift, results, func() (any, error) {
		var baselines map[string]drift.Histogram
		if artifact != nil {
			baselines = artifact.DriftBaselines
		}
		alerts, err := drift.Check(ctx, q, cfg, runDate, baselines)
		if err != nil {
			return nil, err
		}
		if drift.ShouldRetrain(cfg, alerts) {
			logging.Warn().Int("alerts", len(alerts)).Msg("Drift-triggered retraining recommended")
		}
		return alerts, nil
	})
	if err != nil {
		return results, err
	}

	_, err = runStep(ctx, q, runDate, StepEvaluate, results, func() (any, error) {
		return evaluate.Run(ctx, q, cfg, runDate)
	})
	if err != nil {
		return results, err
	}

	logging.Info().
		Dur("elapsed", time.Since(start)).
		Msg("Daily pipeline finished")
	for step, r := range results {
		logging.Info().
			Str("step", step).
			Str("status", r.Status).
			Dur("duration", r.Duration).
			Msg("Step summary")
	}
	return results, nil
}

// trainOrLoad retrains on the scheduled weekday or when no artifact
// exists yet; otherwise it loads the latest artifact. A nil artifact
// with nil error means training found no data.
func trainOrLoad(ctx context.Context, q db.Queryer, cfg *config.Config, runDate time.Time) (*ranker.Artifact, error) {
	_, statErr := os.Stat(filepath.Join(cfg.ModelsDir, ranker.ArtifactFile))
	shouldTrain := int(runDate.Weekday()) == cfg.Training.RetrainWeekday || errors.Is(statErr, os.ErrNotExist)

	if shouldTrain {
		a, _, err := ranker.Train(ctx, q, cfg, runDate)
		return a, err
	}
	return ranker.Load(cfg.ModelsDir)
}

// runStep wraps a step with audit rows and timing. The step's returned
// value is serialized into the completed row's metadata; its error goes
// into the failed row's metadata. Step errors are folded into results,
// not returned; the error return is for audit writes only.
func runStep(ctx context.Context, q db.Queryer, runDate time.Time, step string, results Results, fn func() (any, error)) (any, error) {
	logging.Info().Str("step", step).Msg("Pipeline step starting")
	if err := logRun(ctx, q, runDate, step, StatusStarted, nil, nil); err != nil {
		return nil, err
	}

	t0 := time.Now()
	out, stepErr := fn()
	elapsed := time.Since(t0)

	if stepErr != nil {
		results[step] = StepResult{Status: StatusFailed, Duration: elapsed, Err: stepErr}
		logging.Error().Err(stepErr).Str("step", step).Msg("Pipeline step failed")
		msg := stepErr.Error()
		if err := logRun(ctx, q, runDate, step, StatusFailed, &elapsed, &msg); err != nil {
			return nil, err
		}
		return nil, nil
	}

	results[step] = StepResult{Status: StatusCompleted, Duration: elapsed}
	var metadata *string
	if out != nil {
		if data, err := json.Marshal(out); err == nil {
			s := string(data)
			metadata = &s
		}
	}
	if err := logRun(ctx, q, runDate, step, StatusCompleted, &elapsed, metadata); err != nil {
		return nil, err
	}
	logging.Info().Str("step", step).Dur("duration", elapsed).Msg("Pipeline step completed")
	return out, nil
}

func logRun(ctx context.Context, q db.Queryer, runDate time.Time, step, status string, duration *time.Duration, metadata *string) error {
	var secs *float64
	if duration != nil {
		s := duration.Seconds()
		secs = &s
	}
	if _, err := q.Exec(ctx, `
        INSERT INTO pipeline_runs (run_date, step, status, duration_seconds, metadata)
        VALUES ($1, $2, $3, $4, $5)
    `, runDate, step, status, secs, metadata); err != nil {
		return fmt.Errorf("failed to record pipeline step %s: %w", step, err)
	}
	return nil
}
