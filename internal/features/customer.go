//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package features builds the customer, offer, and interaction feature
// tables consumed by candidate generation, training, and scoring. All
// aggregates are windowed to a configurable lookback ending at the run
// date, and the customer/offer tables are fully rebuilt on every run.
package features

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pgEdge/pgedge-recommend/internal/config"
	"github.com/pgEdge/pgedge-recommend/internal/db"
	"github.com/pgEdge/pgedge-recommend/internal/logging"
)

// RecencySentinel is the recency value for customers with no orders in
// the lookback window.
const RecencySentinel = 999.0

const insertCustomerFeaturesSQL = `
INSERT INTO customer_features (
    customer_id, recency_days, frequency, monetary, promo_affinity,
    avg_basket_size, avg_basket_quantity, category_entropy, top_categories,
    avg_discount_depth, tier2_purchase_ratio, tier3_purchase_ratio,
    fresh_category_ratio, business_order_ratio,
    business_type, loyalty_tier, reference_date
)
WITH order_stats AS (
    SELECT
        o.customer_id,
        ($1::date - MAX(o.order_date))::double precision AS recency_days,
        COUNT(DISTINCT o.order_id)::integer AS frequency,
        SUM(o.total_amount) AS monetary,
        AVG(o.num_items)::double precision AS avg_basket_size,
        AVG(CASE WHEN o.purchase_mode = 'business' THEN 1.0 ELSE 0.0 END)
            AS business_order_ratio
    FROM orders o
    WHERE o.order_date <= $1::date AND o.order_date > $1::date - $2::integer
    GROUP BY o.customer_id
),
item_stats AS (
    SELECT
        o.customer_id,
        SUM(CASE WHEN oi.is_promo THEN 1.0 ELSE 0.0 END)
            / GREATEST(COUNT(*), 1) AS promo_affinity,
        AVG(CASE WHEN oi.is_promo
                 THEN oi.discount_amount / GREATEST(oi.unit_price, 0.01)
            END) AS avg_discount_depth,
        SUM(oi.quantity)::double precision
            / GREATEST(COUNT(DISTINCT o.order_id), 1) AS avg_basket_quantity,
        AVG(CASE WHEN oi.price_tier = 2 THEN 1.0 ELSE 0.0 END) AS tier2_ratio,
        AVG(CASE WHEN oi.price_tier = 3 THEN 1.0 ELSE 0.0 END) AS tier3_ratio,
        AVG(CASE WHEN p.category = ANY($3::text[]) THEN 1.0 ELSE 0.0 END)
            AS fresh_ratio
    FROM orders o
    JOIN order_items oi ON o.order_id = oi.order_id
    JOIN products p ON oi.product_id = p.product_id
    WHERE o.order_date <= $1::date AND o.order_date > $1::date - $2::integer
    GROUP BY o.customer_id
)
SELECT
    c.customer_id,
    COALESCE(os.recency_days, 999.0),
    COALESCE(os.frequency, 0),
    COALESCE(os.monetary, 0.0),
    COALESCE(ist.promo_affinity, 0.0),
    COALESCE(os.avg_basket_size, 0.0),
    COALESCE(ist.avg_basket_quantity, 0.0),
    0.0,
    '{}'::text[],
    COALESCE(ist.avg_discount_depth, 0.0),
    COALESCE(ist.tier2_ratio, 0.0),
    COALESCE(ist.tier3_ratio, 0.0),
    COALESCE(ist.fresh_ratio, 0.0),
    COALESCE(os.business_order_ratio, 0.0),
    c.business_type,
    c.loyalty_tier,
    $1::date
FROM customers c
LEFT JOIN order_stats os ON c.customer_id = os.customer_id
LEFT JOIN item_stats ist ON c.customer_id = ist.customer_id
`

// BuildCustomerFeatures rebuilds the customer_features table for runDate.
// Every customer gets exactly one row; customers with no activity in the
// window get zero/sentinel defaults. Returns the row count written.
func BuildCustomerFeatures(ctx context.Context, q db.Queryer, cfg *config.Config, runDate time.Time) (int64, error) {
	logging.Info().Str("run_date", runDate.Format(time.DateOnly)).
		Msg("Building customer features")

	if _, err := q.Exec(ctx, "DELETE FROM customer_features"); err != nil {
		return 0, fmt.Errorf("failed to clear customer_features: %w", err)
	}

	tag, err := q.Exec(ctx, insertCustomerFeaturesSQL,
		runDate, cfg.Features.LookbackDays, cfg.Features.FreshCategories)
	if err != nil {
		return 0, fmt.Errorf("failed to build customer_features: %w", err)
	}

	if err := updateCategoryFeatures(ctx, q, cfg, runDate); err != nil {
		return 0, err
	}

	logging.Info().Int64("rows", tag.RowsAffected()).Msg("Customer features built")
	return tag.RowsAffected(), nil
}

// updateCategoryFeatures fills in Shannon entropy and the top-3 purchase
// categories, which need per-customer category distributions.
func updateCategoryFeatures(ctx context.Context, q db.Queryer, cfg *config.Config, runDate time.Time) error {
	rows, err := q.Query(ctx, `
        SELECT o.customer_id, p.category, COUNT(*)::bigint
        FROM orders o
        JOIN order_items oi ON o.order_id = oi.order_id
        JOIN products p ON oi.product_id = p.product_id
        WHERE o.order_date <= $1::date AND o.order_date > $1::date - $2::integer
        GROUP BY o.customer_id, p.category
    `, runDate, cfg.Features.LookbackDays)
	if err != nil {
		return fmt.Errorf("failed to query category counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]map[string]int64)
	for rows.Next() {
		var (
			cid int64
			cat string
			n   int64
		)
		if err := rows.Scan(&cid, &cat, &n); err != nil {
			return fmt.Errorf("failed to scan category count: %w", err)
		}
		if counts[cid] == nil {
			counts[cid] = make(map[string]int64)
		}
		counts[cid][cat] += n
	}
	if err := rows.Err(); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := q.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to update category features: %w", err)
		}
		batch = &pgx.Batch{}
		return nil
	}

	for cid, catCounts := range counts {
		entropy, top := CategoryEntropy(catCounts)
		batch.Queue(`
            UPDATE customer_features
            SET category_entropy = $1, top_categories = $2
            WHERE customer_id = $3
        `, entropy, top, cid)
		if batch.Len() >= 1000 {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// CategoryEntropy computes the Shannon entropy (base 2) of a category
// count distribution and the top-3 categories by count, ties broken by
// category name for reproducibility.
func CategoryEntropy(catCounts map[string]int64) (float64, []string) {
	var total int64
	for _, n := range catCounts {
		total += n
	}
	if total == 0 {
		return 0, []string{}
	}

	entropy := 0.0
	type catCount struct {
		cat string
		n   int64
	}
	sorted := make([]catCount, 0, len(catCounts))
	for cat, n := range catCounts {
		if n > 0 {
			p := float64(n) / float64(total)
			entropy -= p * math.Log2(p)
		}
		sorted = append(sorted, catCount{cat, n})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].n != sorted[j].n {
			return sorted[i].n > sorted[j].n
		}
		return sorted[i].cat < sorted[j].cat
	})

	top := make([]string, 0, 3)
	for i := 0; i < len(sorted) && i < 3; i++ {
		top = append(top, sorted[i].cat)
	}
	return entropy, top
}
