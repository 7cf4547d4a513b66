//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package features

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pgEdge/pgedge-recommend/internal/db"
	"github.com/pgEdge/pgedge-recommend/internal/logging"
	"github.com/pgEdge/pgedge-recommend/internal/offers"
)

// BuildOfferFeatures rebuilds the offer_features table for runDate.
// Discount depth comes from the offers formula table so training, scoring,
// and feature building can never disagree on a mechanism's depth.
// Returns the row count written.
func BuildOfferFeatures(ctx context.Context, q db.Queryer, runDate time.Time) (int64, error) {
	logging.Info().Str("run_date", runDate.Format(time.DateOnly)).
		Msg("Building offer features")

	all, err := offers.LoadAll(ctx, q)
	if err != nil {
		return 0, err
	}

	impCounts, err := countByOffer(ctx, q,
		`SELECT offer_id, COUNT(*)::bigint FROM impressions
         WHERE shown_date <= $1::date GROUP BY offer_id`, runDate)
	if err != nil {
		return 0, fmt.Errorf("failed to count impressions: %w", err)
	}
	redCounts, err := countByOffer(ctx, q,
		`SELECT offer_id, COUNT(*)::bigint FROM redemptions
         WHERE redeemed_date <= $1::date GROUP BY offer_id`, runDate)
	if err != nil {
		return 0, fmt.Errorf("failed to count redemptions: %w", err)
	}

	if _, err := q.Exec(ctx, "DELETE FROM offer_features"); err != nil {
		return 0, fmt.Errorf("failed to clear offer_features: %w", err)
	}

	rows := make([][]any, 0, len(all))
	for _, o := range all {
		depth, err := o.Depth()
		if err != nil {
			return 0, fmt.Errorf("offer %d: %w", o.ID, err)
		}

		daysUntilExpiry := int(o.EndDate.Sub(runDate).Hours() / 24)
		if daysUntilExpiry < 0 {
			daysUntilExpiry = 0
		}

		imps := impCounts[o.ID]
		reds := redCounts[o.ID]
		denom := imps
		if denom < 1 {
			denom = 1
		}

		rows = append(rows, []any{
			o.ID,
			depth,
			o.BasePrice * o.Margin * depth,
			daysUntilExpiry,
			float64(reds) / float64(denom),
			imps,
			reds,
			o.Category,
			o.Brand,
			o.BasePrice,
			runDate,
		})
	}

	n, err := q.CopyFrom(ctx,
		pgx.Identifier{"offer_features"},
		[]string{
			"offer_id", "discount_depth", "margin_impact", "days_until_expiry",
			"historical_redemption_rate", "total_impressions", "total_redemptions",
			"category", "brand", "base_price", "reference_date",
		},
		pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("failed to insert offer_features: %w", err)
	}

	logging.Info().Int64("rows", n).Msg("Offer features built")
	return n, nil
}

func countByOffer(ctx context.Context, q db.Queryer, sql string, runDate time.Time) (map[int64]int64, error) {
	rows, err := q.Query(ctx, sql, runDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int64]int64)
	for rows.Next() {
		var id, n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}
