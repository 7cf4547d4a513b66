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

	"github.com/pgEdge/pgedge-recommend/internal/config"
	"github.com/pgEdge/pgedge-recommend/internal/db"
	"github.com/pgEdge/pgedge-recommend/internal/logging"
	"github.com/pgEdge/pgedge-recommend/internal/offers"
)

// DaysSinceSentinel marks "never purchased in this category".
const DaysSinceSentinel = 999.0

// Pair identifies a (customer, offer) pair to featurize.
type Pair struct {
	CustomerID int64
	OfferID    int64
}

// InteractionRow holds the pairwise features for one pair. Pairs that
// reference an unknown offer get sentinel defaults rather than an error.
type InteractionRow struct {
	CustomerID                int64
	OfferID                   int64
	BoughtProductBefore       float64
	DaysSinceCategoryPurchase float64
	CategoryAffinityScore     float64
	DiscountDepthVsUsual      float64
	PriceSensitivityMatch     float64
	BusinessTypeScopeMatch    float64
}

// BuildInteractionFeatures computes pairwise features for exactly the
// supplied pairs; the customer x offer cross product is never
// materialized. An empty pair list returns an empty slice.
func BuildInteractionFeatures(ctx context.Context, q db.Queryer, cfg *config.Config, pairs []Pair, refDate time.Time) ([]InteractionRow, error) {
	if len(pairs) == 0 {
		return []InteractionRow{}, nil
	}

	logging.Debug().Int("pairs", len(pairs)).Msg("Computing interaction features")

	offerByID := make(map[int64]*offers.Offer)
	depthByID := make(map[int64]float64)
	all, err := offers.LoadAll(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, o := range all {
		depth, err := o.Depth()
		if err != nil {
			return nil, fmt.Errorf("offer %d: %w", o.ID, err)
		}
		offerByID[o.ID] = o
		depthByID[o.ID] = depth
	}

	customerIDs := uniqueCustomers(pairs)

	bought, err := purchasedProducts(ctx, q, customerIDs, refDate)
	if err != nil {
		return nil, err
	}
	lastCatDate, catCounts, catTotals, err := categoryHistory(ctx, q, customerIDs, refDate)
	if err != nil {
		return nil, err
	}
	custDepth, custType, err := customerProfile(ctx, q, customerIDs)
	if err != nil {
		return nil, err
	}

	in := &interactionInputs{
		offers:    offerByID,
		depths:    depthByID,
		bought:    bought,
		lastCat:   lastCatDate,
		catCounts: catCounts,
		catTotals: catTotals,
		custDepth: custDepth,
		custType:  custType,
	}

	out := make([]InteractionRow, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, in.row(cfg, p, refDate))
	}
	return out, nil
}

// interactionInputs holds the pre-joined lookup tables the per-pair
// assembly reads.
type interactionInputs struct {
	offers    map[int64]*offers.Offer
	depths    map[int64]float64
	bought    map[int64]map[int64]struct{}
	lastCat   map[int64]map[string]time.Time
	catCounts map[int64]map[string]int64
	catTotals map[int64]int64
	custDepth map[int64]float64
	custType  map[int64]string
}

func (in *interactionInputs) row(cfg *config.Config, p Pair, refDate time.Time) InteractionRow {
	row := InteractionRow{
		CustomerID:                p.CustomerID,
		OfferID:                   p.OfferID,
		DaysSinceCategoryPurchase: DaysSinceSentinel,
	}

	o, ok := in.offers[p.OfferID]
	if !ok {
		return row
	}

	if prods, ok := in.bought[p.CustomerID]; ok {
		if _, ok := prods[o.ProductID]; ok {
			row.BoughtProductBefore = 1
		}
	}

	if dates, ok := in.lastCat[p.CustomerID]; ok {
		if last, ok := dates[o.Category]; ok {
			row.DaysSinceCategoryPurchase = refDate.Sub(last).Hours() / 24
		}
	}

	total := in.catTotals[p.CustomerID]
	if total > 0 {
		row.CategoryAffinityScore =
			float64(in.catCounts[p.CustomerID][o.Category]) / float64(total)
	}

	depth := in.depths[p.OfferID]
	row.DiscountDepthVsUsual = depth - in.custDepth[p.CustomerID]

	bt := in.custType[p.CustomerID]
	row.PriceSensitivityMatch = cfg.SensitivityFor(bt) * depth

	// An unrestricted business-type scope counts as a match.
	if o.AdmitsBusinessType(bt) {
		row.BusinessTypeScopeMatch = 1
	}

	return row
}

func uniqueCustomers(pairs []Pair) []int64 {
	seen := make(map[int64]struct{}, len(pairs))
	ids := make([]int64, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := seen[p.CustomerID]; ok {
			continue
		}
		seen[p.CustomerID] = struct{}{}
		ids = append(ids, p.CustomerID)
	}
	return ids
}

func purchasedProducts(ctx context.Context, q db.Queryer, customerIDs []int64, refDate time.Time) (map[int64]map[int64]struct{}, error) {
	rows, err := q.Query(ctx, `
        SELECT DISTINCT o.customer_id, oi.product_id
        FROM orders o
        JOIN order_items oi ON o.order_id = oi.order_id
        WHERE o.order_date <= $1::date AND o.customer_id = ANY($2)
    `, refDate, customerIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchased products: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]map[int64]struct{})
	for rows.Next() {
		var cid, pid int64
		if err := rows.Scan(&cid, &pid); err != nil {
			return nil, err
		}
		if out[cid] == nil {
			out[cid] = make(map[int64]struct{})
		}
		out[cid][pid] = struct{}{}
	}
	return out, rows.Err()
}

func categoryHistory(ctx context.Context, q db.Queryer, customerIDs []int64, refDate time.Time) (map[int64]map[string]time.Time, map[int64]map[string]int64, map[int64]int64, error) {
	rows, err := q.Query(ctx, `
        SELECT o.customer_id, p.category, MAX(o.order_date), COUNT(*)::bigint
        FROM orders o
        JOIN order_items oi ON o.order_id = oi.order_id
        JOIN products p ON oi.product_id = p.product_id
        WHERE o.order_date <= $1::date AND o.customer_id = ANY($2)
        GROUP BY o.customer_id, p.category
    `, refDate, customerIDs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to query category history: %w", err)
	}
	defer rows.Close()

	lastDate := make(map[int64]map[string]time.Time)
	counts := make(map[int64]map[string]int64)
	totals := make(map[int64]int64)
	for rows.Next() {
		var (
			cid  int64
			cat  string
			last time.Time
			n    int64
		)
		if err := rows.Scan(&cid, &cat, &last, &n); err != nil {
			return nil, nil, nil, err
		}
		if lastDate[cid] == nil {
			lastDate[cid] = make(map[string]time.Time)
			counts[cid] = make(map[string]int64)
		}
		lastDate[cid][cat] = last
		counts[cid][cat] = n
		totals[cid] += n
	}
	return lastDate, counts, totals, rows.Err()
}

func customerProfile(ctx context.Context, q db.Queryer, customerIDs []int64) (map[int64]float64, map[int64]string, error) {
	rows, err := q.Query(ctx, `
        SELECT customer_id, avg_discount_depth, business_type
        FROM customer_features
        WHERE customer_id = ANY($1)
    `, customerIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query customer profile: %w", err)
	}
	defer rows.Close()

	depths := make(map[int64]float64)
	types := make(map[int64]string)
	for rows.Next() {
		var (
			cid   int64
			depth float64
			bt    string
		)
		if err := rows.Scan(&cid, &depth, &bt); err != nil {
			return nil, nil, err
		}
		depths[cid] = depth
		types[cid] = bt
	}
	return depths, types, rows.Err()
}
