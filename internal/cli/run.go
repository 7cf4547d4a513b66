//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgEdge/pgedge-recommend/internal/db"
	"github.com/pgEdge/pgedge-recommend/internal/drift"
	"github.com/pgEdge/pgedge-recommend/internal/evaluate"
	"github.com/pgEdge/pgedge-recommend/internal/pipeline"
	"github.com/pgEdge/pgedge-recommend/internal/ranker"
)

var (
	runDate      string
	trainDate    string
	evaluateDate string
	driftDays    int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily recommendation pipeline",
	Long: `Run the full daily pipeline for a date: feature building, model
train-or-load, candidate generation, scoring, drift check, and offline
evaluation. Each step is recorded in pipeline_runs; a failing step only
skips the steps that depend on it.

Example:
  pgedge-recommend run --date 2026-02-11 --connection "postgres://..."`,
	RunE: runRun,
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the ranking model",
	Long: `Train both ranking models (logistic regression and boosted trees)
on impressions up to the given date, select the better one by validation
AUC, and save the artifact.`,
	RunE: runTrain,
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Compute offline metrics for a run date",
	RunE:  runEvaluate,
}

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Show recent drift history",
	RunE:  runDrift,
}

func init() {
	runCmd.Flags().StringVar(&runDate, "date", "",
		"run date, YYYY-MM-DD (default: today)")
	trainCmd.Flags().StringVar(&trainDate, "date", "",
		"training reference date, YYYY-MM-DD (default: today)")
	evaluateCmd.Flags().StringVar(&evaluateDate, "date", "",
		"run date to evaluate, YYYY-MM-DD (default: today)")
	driftCmd.Flags().IntVar(&driftDays, "days", 30,
		"days of drift history to show")
}

func resolveDate(flag string) (time.Time, error) {
	if flag == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	return parseDate(flag)
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	date, err := resolveDate(runDate)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Connection)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	results, err := pipeline.Run(ctx, pool, cfg, date)
	if err != nil {
		return err
	}
	for step, r := range results {
		if r.Status == pipeline.StatusFailed {
			return fmt.Errorf("pipeline step %s failed: %w", step, r.Err)
		}
	}
	return nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	date, err := resolveDate(trainDate)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Connection)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	artifact, metrics, err := ranker.Train(ctx, pool, cfg, date)
	if err != nil {
		return err
	}
	if artifact == nil {
		return fmt.Errorf("no training data available as of %s", date.Format("2006-01-02"))
	}
	cmd.Printf("Trained %s (AUC %.4f, %d train rows)\n",
		metrics.BestModel, metrics.BestAUC, metrics.TrainRows)
	return nil
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	date, err := resolveDate(evaluateDate)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Connection)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	metrics, err := evaluate.Run(ctx, pool, cfg, date)
	if err != nil {
		return err
	}
	if len(metrics) == 0 {
		cmd.Printf("No recommendations found for %s\n", date.Format("2006-01-02"))
		return nil
	}
	for _, key := range []string{
		evaluate.KeyNDCG, evaluate.KeyPrecision, evaluate.KeyRecall,
		evaluate.KeyMRR, evaluate.KeyRedemptionRate,
	} {
		cmd.Printf("%-24s %.4f\n", key, metrics[key])
	}
	return nil
}

func runDrift(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Connection)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	results, dates, err := drift.History(ctx, pool, driftDays*len(cfg.Drift.Features))
	if err != nil {
		return err
	}
	if len(results) == 0 {
		cmd.Println("No drift history recorded")
		return nil
	}
	for i, r := range results {
		cmd.Printf("%s  %-24s psi=%.4f  %s\n",
			dates[i].Format("2006-01-02"), r.Feature, r.PSI, r.Severity)
	}
	return nil
}
