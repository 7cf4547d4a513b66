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
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pgEdge/pgedge-recommend/internal/config"
	"github.com/pgEdge/pgedge-recommend/internal/db"
	"github.com/pgEdge/pgedge-recommend/internal/features"
	"github.com/pgEdge/pgedge-recommend/internal/logging"
)

// Score scores every candidate pair for runDate with the artifact's
// winning model and overwrites that date's recommendations with the
// per-customer top-N. Ranking is stable: ties keep candidate-pool
// order, ranks are dense from 1. Returns the number of recommendation
// rows written.
func Score(ctx context.Context, q db.Queryer, cfg *config.Config, a *Artifact, runDate time.Time) (int64, error) {
	logging.Info().Time("run_date", runDate).Msg("Scoring candidates")

	pairs, err := loadCandidatePairs(ctx, q, runDate)
	if err != nil {
		return 0, err
	}
	if len(pairs) == 0 {
		logging.Warn().Time("run_date", runDate).Msg("No candidates to score")
		return 0, nil
	}
	logging.Info().Int("pairs", len(pairs)).Msg("Candidate pairs loaded")

	X, err := assembleMatrix(ctx, q, cfg, pairs, a.FeatureNames, runDate)
	if err != nil {
		return 0, err
	}

	type scored struct {
		offerID int64
		score   float64
	}

	// Pairs arrive ordered by (customer, offer), so each customer's
	// block is contiguous.
	rows := make([][]any, 0, len(pairs))
	flush := func(customerID int64, block []scored) {
		sort.SliceStable(block, func(i, j int) bool {
			return block[i].score > block[j].score
		})
		n := len(block)
		if n > cfg.Scoring.TopN {
			n = cfg.Scoring.TopN
		}
		for rank := 0; rank < n; rank++ {
			rows = append(rows, []any{
				runDate, customerID, block[rank].offerID, block[rank].score, rank + 1,
			})
		}
	}

	var (
		curCustomer int64
		block       []scored
	)
	for i, p := range pairs {
		if i > 0 && p.CustomerID != curCustomer {
			flush(curCustomer, block)
			block = block[:0]
		}
		curCustomer = p.CustomerID
		block = append(block, scored{p.OfferID, a.PredictProba(X[i])})
	}
	flush(curCustomer, block)

	tx, err := q.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin scoring transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM recommendations WHERE run_date = $1`, runDate); err != nil {
		return 0, fmt.Errorf("failed to clear recommendations: %w", err)
	}
	written, err := tx.CopyFrom(ctx,
		pgx.Identifier{"recommendations"},
		[]string{"run_date", "customer_id", "offer_id", "score", "rank"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("failed to insert recommendations: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit recommendations: %w", err)
	}

	logging.Info().Int64("recommendations", written).Msg("Recommendations written")
	return written, nil
}

func loadCandidatePairs(ctx context.Context, q db.Queryer, runDate time.Time) ([]features.Pair, error) {
	rows, err := q.Query(ctx, `
        SELECT customer_id, offer_id
        FROM candidate_pool
        WHERE run_date = $1
        ORDER BY customer_id, offer_id
    `, runDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate pool: %w", err)
	}
	defer rows.Close()

	var pairs []features.Pair
	for rows.Next() {
		var p features.Pair
		if err := rows.Scan(&p.CustomerID, &p.OfferID); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}
