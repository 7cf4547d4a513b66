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
	"math/rand"
	"sort"
	"time"

	"github.com/pgEdge/pgedge-recommend/internal/config"
	"github.com/pgEdge/pgedge-recommend/internal/db"
	"github.com/pgEdge/pgedge-recommend/internal/features"
	"github.com/pgEdge/pgedge-recommend/internal/logging"
)

// FeatureNames is the canonical model input order. The artifact records
// the list it was trained with, so scoring stays consistent even if
// this list changes between releases.
var FeatureNames = []string{
	"recency_days",
	"frequency",
	"monetary",
	"promo_affinity",
	"avg_basket_size",
	"avg_basket_quantity",
	"category_entropy",
	"avg_discount_depth",
	"tier2_purchase_ratio",
	"tier3_purchase_ratio",
	"fresh_category_ratio",
	"business_order_ratio",
	"discount_depth",
	"margin_impact",
	"days_until_expiry",
	"historical_redemption_rate",
	"bought_product_before",
	"days_since_last_cat_purchase",
	"category_affinity_score",
	"discount_depth_vs_usual",
	"price_sensitivity_match",
	"business_type_scope_match",
}

const (
	nCustomerFeatures    = 12
	nOfferFeatures       = 4
	nInteractionFeatures = 6
)

// labeledPair is one deduplicated (customer, offer) impression with its
// redemption label.
type labeledPair struct {
	customerID int64
	offerID    int64
	label      float64
}

// buildLabels constructs the labeled pair set: an impression is
// positive when the same customer redeemed the same offer within the
// attribution window of being shown it. Pairs are deduplicated; a pair
// with both outcomes contributes one positive and one negative, same
// as the raw impressions would after dedup.
func buildLabels(ctx context.Context, q db.Queryer, cfg *config.Config, refDate time.Time) ([]labeledPair, error) {
	rows, err := q.Query(ctx, `
        SELECT DISTINCT i.customer_id, i.offer_id,
               CASE WHEN r.redemption_id IS NOT NULL THEN 1 ELSE 0 END AS label
        FROM impressions i
        LEFT JOIN redemptions r
            ON r.customer_id = i.customer_id
            AND r.offer_id = i.offer_id
            AND r.redeemed_date >= i.shown_date
            AND r.redeemed_date <= i.shown_date + $2::integer
        WHERE i.shown_date <= $1::date
        ORDER BY i.customer_id, i.offer_id, label
    `, refDate, cfg.Training.AttributionWindowDays)
	if err != nil {
		return nil, fmt.Errorf("failed to query labeled impressions: %w", err)
	}
	defer rows.Close()

	var pairs []labeledPair
	for rows.Next() {
		var p labeledPair
		if err := rows.Scan(&p.customerID, &p.offerID, &p.label); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// downsample caps negatives at ratio * positives with a seeded uniform
// sample, then shuffles the combined set with the same source. The
// input must already be deterministically ordered.
func downsample(pairs []labeledPair, cfg *config.Config) []labeledPair {
	var positives, negatives []labeledPair
	for _, p := range pairs {
		if p.label > 0.5 {
			positives = append(positives, p)
		} else {
			negatives = append(negatives, p)
		}
	}
	logging.Info().
		Int("positives", len(positives)).
		Int("negatives", len(negatives)).
		Msg("Raw training labels")

	rng := rand.New(rand.NewSource(cfg.Training.Seed))
	nNeg := len(positives) * cfg.Training.NegativeSampleRatio
	if nNeg > 0 && nNeg < len(negatives) {
		perm := rng.Perm(len(negatives))[:nNeg]
		sort.Ints(perm)
		sampled := make([]labeledPair, nNeg)
		for i, idx := range perm {
			sampled[i] = negatives[idx]
		}
		negatives = sampled
	}

	out := make([]labeledPair, 0, len(positives)+len(negatives))
	out = append(out, positives...)
	out = append(out, negatives...)
	rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

// featureStore holds the loaded per-customer, per-offer, and pairwise
// feature blocks the matrix is assembled from.
type featureStore struct {
	customer    map[int64][]float64 // nCustomerFeatures per entry
	offer       map[int64][]float64 // nOfferFeatures per entry
	interaction map[[2]int64][]float64
}

// loadFeatureStore reads the persisted feature tables and computes
// fresh interaction features for exactly the given pairs. Missing joins
// are zero-filled at assembly time.
func loadFeatureStore(ctx context.Context, q db.Queryer, cfg *config.Config, pairs []features.Pair, refDate time.Time) (*featureStore, error) {
	fs := &featureStore{
		customer:    make(map[int64][]float64),
		offer:       make(map[int64][]float64),
		interaction: make(map[[2]int64][]float64, len(pairs)),
	}

	custRows, err := q.Query(ctx, `
        SELECT customer_id, recency_days, frequency::double precision, monetary,
               promo_affinity, avg_basket_size, avg_basket_quantity,
               category_entropy, avg_discount_depth,
               tier2_purchase_ratio, tier3_purchase_ratio,
               fresh_category_ratio, business_order_ratio
        FROM customer_features
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to query customer features: %w", err)
	}
	defer custRows.Close()
	for custRows.Next() {
		var cid int64
		v := make([]float64, nCustomerFeatures)
		dest := make([]any, 0, nCustomerFeatures+1)
		dest = append(dest, &cid)
		for i := range v {
			dest = append(dest, &v[i])
		}
		if err := custRows.Scan(dest...); err != nil {
			return nil, err
		}
		fs.customer[cid] = v
	}
	if err := custRows.Err(); err != nil {
		return nil, err
	}

	offerRows, err := q.Query(ctx, `
        SELECT offer_id, discount_depth, margin_impact,
               days_until_expiry::double precision, historical_redemption_rate
        FROM offer_features
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to query offer features: %w", err)
	}
	defer offerRows.Close()
	for offerRows.Next() {
		var oid int64
		v := make([]float64, nOfferFeatures)
		if err := offerRows.Scan(&oid, &v[0], &v[1], &v[2], &v[3]); err != nil {
			return nil, err
		}
		fs.offer[oid] = v
	}
	if err := offerRows.Err(); err != nil {
		return nil, err
	}

	inter, err := features.BuildInteractionFeatures(ctx, q, cfg, pairs, refDate)
	if err != nil {
		return nil, err
	}
	for _, r := range inter {
		fs.interaction[[2]int64{r.CustomerID, r.OfferID}] = []float64{
			r.BoughtProductBefore,
			r.DaysSinceCategoryPurchase,
			r.CategoryAffinityScore,
			r.DiscountDepthVsUsual,
			r.PriceSensitivityMatch,
			r.BusinessTypeScopeMatch,
		}
	}

	return fs, nil
}

// vector assembles the model input for one pair in featureNames order.
// Names the store does not recognize are zero-filled; assembleMatrix
// warns about them once.
func (fs *featureStore) vector(customerID, offerID int64, featureNames []string) []float64 {
	cust := fs.customer[customerID]
	off := fs.offer[offerID]
	inter := fs.interaction[[2]int64{customerID, offerID}]

	x := make([]float64, len(featureNames))
	for i, name := range featureNames {
		pos, ok := featureIndex[name]
		if !ok {
			continue
		}
		switch {
		case pos < nCustomerFeatures:
			if cust != nil {
				x[i] = cust[pos]
			}
		case pos < nCustomerFeatures+nOfferFeatures:
			if off != nil {
				x[i] = off[pos-nCustomerFeatures]
			}
		default:
			if inter != nil {
				x[i] = inter[pos-nCustomerFeatures-nOfferFeatures]
			}
		}
	}
	return x
}

// featureIndex positions each canonical feature name within the
// concatenated (customer, offer, interaction) vector.
var featureIndex = func() map[string]int {
	m := make(map[string]int, len(FeatureNames))
	for i, name := range FeatureNames {
		m[name] = i
	}
	return m
}()

// assembleMatrix builds the feature matrix for pairs, in pair order.
func assembleMatrix(ctx context.Context, q db.Queryer, cfg *config.Config, pairs []features.Pair, featureNames []string, refDate time.Time) ([][]float64, error) {
	for _, name := range featureNames {
		if _, ok := featureIndex[name]; !ok {
			logging.Warn().Str("feature", name).Msg("Unknown model feature; filling with zeros")
		}
	}

	fs, err := loadFeatureStore(ctx, q, cfg, pairs, refDate)
	if err != nil {
		return nil, err
	}

	X := make([][]float64, len(pairs))
	for i, p := range pairs {
		X[i] = fs.vector(p.CustomerID, p.OfferID, featureNames)
	}
	return X, nil
}
