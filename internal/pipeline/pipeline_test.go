//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

//go:build integration
// +build integration

// End-to-end test for the daily pipeline.
// Run with: go test -tags=integration ./internal/pipeline/...
// Requires PostgreSQL to be available.
// Set PGEDGE_TEST_CONN environment variable to override connection string.

package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/pgEdge/pgedge-recommend/internal/candidates"
	"github.com/pgEdge/pgedge-recommend/internal/config"
	"github.com/pgEdge/pgedge-recommend/internal/db"
	"github.com/pgEdge/pgedge-recommend/internal/pipeline"
	"github.com/pgEdge/pgedge-recommend/internal/seed"
	"github.com/pgEdge/pgedge-recommend/internal/testutil"
)

func TestPipelineEndToEnd(t *testing.T) {
	baseConnStr := testutil.SkipIfNoPostgres(t)

	testConnStr := testutil.CreateTestDB(t, baseConnStr, "pipeline")
	dbName := testutil.GetDBNameFromConnStr(testConnStr)

	cleanup := testutil.NewTestCleanup(t, baseConnStr, dbName)
	t.Cleanup(cleanup.Cleanup)

	pool := testutil.ConnectTestDB(t, testConnStr)
	cleanup.SetPool(pool)

	ctx := context.Background()
	runDate := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	cfg := config.DefaultConfig()
	cfg.ModelsDir = t.TempDir()

	if err := db.CreateSchema(ctx, pool); err != nil {
		t.Fatalf("CreateSchema failed: %v", err)
	}
	if err := seed.Run(ctx, pool, seed.DefaultScale(), runDate); err != nil {
		t.Fatalf("Seeding failed: %v", err)
	}

	results, err := pipeline.Run(ctx, pool, cfg, runDate)
	if err != nil {
		t.Fatalf("Pipeline run failed: %v", err)
	}

	t.Run("StepStatuses", func(t *testing.T) {
		steps := []string{
			pipeline.StepFeatures,
			pipeline.StepModel,
			pipeline.StepCandidates,
			pipeline.StepScoring,
			pipeline.StepDrift,
			pipeline.StepEvaluate,
		}
		for _, step := range steps {
			r, ok := results[step]
			if !ok {
				t.Errorf("Step %s missing from results", step)
				continue
			}
			if r.Status != pipeline.StatusCompleted {
				t.Errorf("Step %s status = %s, want %s (err: %v)",
					step, r.Status, pipeline.StatusCompleted, r.Err)
			}
		}
	})

	t.Run("FeatureInvariants", func(t *testing.T) {
		var nCust, nRows int64
		if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM customers`).Scan(&nCust); err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM customer_features`).Scan(&nRows); err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if nRows != nCust {
			t.Errorf("customer_features has %d rows for %d customers", nRows, nCust)
		}

		var badCust int64
		if err := pool.QueryRow(ctx, `
            SELECT COUNT(*) FROM customer_features
            WHERE promo_affinity < 0 OR promo_affinity > 1
               OR tier2_purchase_ratio < 0 OR tier2_purchase_ratio > 1
               OR tier3_purchase_ratio < 0 OR tier3_purchase_ratio > 1
               OR fresh_category_ratio < 0 OR fresh_category_ratio > 1
               OR business_order_ratio < 0 OR business_order_ratio > 1
        `).Scan(&badCust); err != nil {
			t.Fatalf("Customer ratio check failed: %v", err)
		}
		if badCust != 0 {
			t.Errorf("%d customer feature rows have ratios outside [0,1]", badCust)
		}

		var badOffer int64
		if err := pool.QueryRow(ctx, `
            SELECT COUNT(*) FROM offer_features
            WHERE discount_depth < 0 OR discount_depth > 1
               OR days_until_expiry < 0
               OR historical_redemption_rate < 0 OR historical_redemption_rate > 1
        `).Scan(&badOffer); err != nil {
			t.Fatalf("Offer feature check failed: %v", err)
		}
		if badOffer != 0 {
			t.Errorf("%d offer feature rows violate range constraints", badOffer)
		}
	})

	t.Run("CandidatePool", func(t *testing.T) {
		var total int64
		if err := pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM candidate_pool WHERE run_date = $1`, runDate,
		).Scan(&total); err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if total == 0 {
			t.Fatal("Candidate pool is empty")
		}

		var overCap int64
		if err := pool.QueryRow(ctx, `
            SELECT COUNT(*) FROM (
                SELECT customer_id FROM candidate_pool
                WHERE run_date = $1
                GROUP BY customer_id
                HAVING COUNT(*) > $2
            ) t
        `, runDate, cfg.Candidates.PoolSize).Scan(&overCap); err != nil {
			t.Fatalf("Cap check failed: %v", err)
		}
		if overCap != 0 {
			t.Errorf("%d customers exceed the pool cap of %d", overCap, cfg.Candidates.PoolSize)
		}

		var dups int64
		if err := pool.QueryRow(ctx, `
            SELECT COUNT(*) FROM (
                SELECT customer_id, offer_id FROM candidate_pool
                WHERE run_date = $1
                GROUP BY customer_id, offer_id
                HAVING COUNT(*) > 1
            ) t
        `, runDate).Scan(&dups); err != nil {
			t.Fatalf("Dedup check failed: %v", err)
		}
		if dups != 0 {
			t.Errorf("%d duplicate customer/offer pairs in candidate pool", dups)
		}
	})

	t.Run("EligibilityScopes", func(t *testing.T) {
		var bad int64
		if err := pool.QueryRow(ctx, `
            SELECT COUNT(*)
            FROM candidate_pool cp
            JOIN offers o ON cp.offer_id = o.offer_id
            JOIN customers c ON cp.customer_id = c.customer_id
            WHERE cp.run_date = $1
              AND ((o.store_scope IS NOT NULL AND NOT c.home_store_id = ANY(o.store_scope))
                OR (o.business_type_scope IS NOT NULL AND NOT c.business_type = ANY(o.business_type_scope))
                OR (o.business_subtype_scope IS NOT NULL AND NOT c.business_subtype = ANY(o.business_subtype_scope))
                OR (o.loyalty_tier_scope IS NOT NULL AND NOT c.loyalty_tier = ANY(o.loyalty_tier_scope)))
        `, runDate).Scan(&bad); err != nil {
			t.Fatalf("Scope check failed: %v", err)
		}
		if bad != 0 {
			t.Errorf("%d candidate rows violate offer eligibility scopes", bad)
		}
	})

	t.Run("Recommendations", func(t *testing.T) {
		var total int64
		if err := pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM recommendations WHERE run_date = $1`, runDate,
		).Scan(&total); err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if total == 0 {
			t.Fatal("No recommendations written")
		}

		var overTop int64
		if err := pool.QueryRow(ctx, `
            SELECT COUNT(*) FROM (
                SELECT customer_id FROM recommendations
                WHERE run_date = $1
                GROUP BY customer_id
                HAVING COUNT(*) > $2
            ) t
        `, runDate, cfg.Scoring.TopN).Scan(&overTop); err != nil {
			t.Fatalf("TopN check failed: %v", err)
		}
		if overTop != 0 {
			t.Errorf("%d customers have more than %d recommendations", overTop, cfg.Scoring.TopN)
		}

		var badScores int64
		if err := pool.QueryRow(ctx, `
            SELECT COUNT(*) FROM recommendations
            WHERE run_date = $1 AND (score < 0 OR score > 1)
        `, runDate).Scan(&badScores); err != nil {
			t.Fatalf("Score range check failed: %v", err)
		}
		if badScores != 0 {
			t.Errorf("%d recommendation scores outside [0,1]", badScores)
		}

		// Ranks within each customer must be exactly 1..N.
		var badRanks int64
		if err := pool.QueryRow(ctx, `
            SELECT COUNT(*) FROM (
                SELECT customer_id
                FROM recommendations
                WHERE run_date = $1
                GROUP BY customer_id
                HAVING MIN(rank) <> 1
                    OR MAX(rank) <> COUNT(*)
                    OR COUNT(DISTINCT rank) <> COUNT(*)
            ) t
        `, runDate).Scan(&badRanks); err != nil {
			t.Fatalf("Rank check failed: %v", err)
		}
		if badRanks != 0 {
			t.Errorf("%d customers have non-contiguous or duplicate ranks", badRanks)
		}
	})

	t.Run("AuditTrail", func(t *testing.T) {
		var completed int64
		if err := pool.QueryRow(ctx, `
            SELECT COUNT(*) FROM pipeline_runs
            WHERE run_date = $1 AND status = 'completed'
        `, runDate).Scan(&completed); err != nil {
			t.Fatalf("Audit query failed: %v", err)
		}
		if completed < 6 {
			t.Errorf("Expected at least 6 completed audit rows, got %d", completed)
		}
	})

	t.Run("RerunIdempotent", func(t *testing.T) {
		var before int64
		if err := pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM candidate_pool WHERE run_date = $1`, runDate,
		).Scan(&before); err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if _, err := candidates.Generate(ctx, pool, cfg, runDate); err != nil {
			t.Fatalf("Second generation failed: %v", err)
		}
		var after int64
		if err := pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM candidate_pool WHERE run_date = $1`, runDate,
		).Scan(&after); err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if before != after {
			t.Errorf("Rerun changed candidate count: %d -> %d", before, after)
		}
	})
}
