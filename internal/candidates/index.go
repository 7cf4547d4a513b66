//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package candidates

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pgEdge/pgedge-recommend/internal/db"
	"github.com/pgEdge/pgedge-recommend/internal/offers"
)

// runIndex holds the per-run lookup structures every strategy reads.
// Building it is O(active_offers + impressions); everything after is
// map lookups over sorted slices, so candidate generation stays linear
// in the customer count.
type runIndex struct {
	offersByID map[int64]*offers.Offer

	// catOffers maps product category to active offer ids, ascending.
	catOffers map[string][]int64

	// categories lists every category with at least one active offer,
	// sorted by name. Backfill and cross-sell iterate this.
	categories []string

	// productOffers maps product id to active offer ids, ascending.
	productOffers map[int64][]int64

	// segPopular maps business type to active offer ids sorted by
	// historical impression count descending, ties by offer id.
	segPopular map[string][]int64

	// highMargin lists active offer ids by base_price * margin
	// descending, ties by offer id.
	highMargin []int64

	// bulkOffers lists active volume-oriented offers (volume_bonus and
	// bundle discount types) by offer id. The tier-upgrade strategy
	// proposes these to customers under-using bulk pricing.
	bulkOffers []int64

	// ownBrand lists active offers on retailer-owned-brand products.
	ownBrand []int64
}

func buildRunIndex(ctx context.Context, q db.Queryer, runDate time.Time) (*runIndex, error) {
	active, err := offers.LoadActive(ctx, q, runDate)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return &runIndex{}, nil
	}

	ix := &runIndex{
		offersByID:    make(map[int64]*offers.Offer, len(active)),
		catOffers:     make(map[string][]int64),
		productOffers: make(map[int64][]int64),
		segPopular:    make(map[string][]int64),
	}

	type marginEntry struct {
		id     int64
		margin float64
	}
	margins := make([]marginEntry, 0, len(active))

	for _, o := range active {
		ix.offersByID[o.ID] = o
		ix.catOffers[o.Category] = append(ix.catOffers[o.Category], o.ID)
		ix.productOffers[o.ProductID] = append(ix.productOffers[o.ProductID], o.ID)
		margins = append(margins, marginEntry{o.ID, o.BasePrice * o.Margin})
		if o.DiscountType == offers.VolumeBonus || o.DiscountType == offers.Bundle {
			ix.bulkOffers = append(ix.bulkOffers, o.ID)
		}
		if o.OwnBrand {
			ix.ownBrand = append(ix.ownBrand, o.ID)
		}
	}

	// LoadActive returns offers ordered by id, so the per-category and
	// per-product lists are already ascending.
	for cat := range ix.catOffers {
		ix.categories = append(ix.categories, cat)
	}
	sort.Strings(ix.categories)

	sort.Slice(margins, func(i, j int) bool {
		if margins[i].margin != margins[j].margin {
			return margins[i].margin > margins[j].margin
		}
		return margins[i].id < margins[j].id
	})
	ix.highMargin = make([]int64, len(margins))
	for i, m := range margins {
		ix.highMargin[i] = m.id
	}

	if err := ix.loadSegmentPopularity(ctx, q); err != nil {
		return nil, err
	}

	return ix, nil
}

// loadSegmentPopularity ranks active offers by impression volume within
// each business type.
func (ix *runIndex) loadSegmentPopularity(ctx context.Context, q db.Queryer) error {
	rows, err := q.Query(ctx, `
        SELECT c.business_type, i.offer_id, COUNT(*)::bigint
        FROM impressions i
        JOIN customers c ON i.customer_id = c.customer_id
        GROUP BY c.business_type, i.offer_id
    `)
	if err != nil {
		return fmt.Errorf("failed to query segment popularity: %w", err)
	}
	defer rows.Close()

	type popEntry struct {
		id    int64
		count int64
	}
	bySeg := make(map[string][]popEntry)
	for rows.Next() {
		var (
			seg string
			oid int64
			n   int64
		)
		if err := rows.Scan(&seg, &oid, &n); err != nil {
			return err
		}
		if _, ok := ix.offersByID[oid]; !ok {
			continue
		}
		bySeg[seg] = append(bySeg[seg], popEntry{oid, n})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for seg, entries := range bySeg {
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].count != entries[j].count {
				return entries[i].count > entries[j].count
			}
			return entries[i].id < entries[j].id
		})
		ids := make([]int64, len(entries))
		for i, e := range entries {
			ids[i] = e.id
		}
		ix.segPopular[seg] = ids
	}
	return nil
}
