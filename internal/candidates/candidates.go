//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package candidates implements the retrieval stage of the recommender:
// for every customer it blends a configurable ordered list of heuristic
// strategies into a deduplicated, eligibility-filtered candidate pool.
package candidates

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pgEdge/pgedge-recommend/internal/config"
	"github.com/pgEdge/pgedge-recommend/internal/db"
	"github.com/pgEdge/pgedge-recommend/internal/logging"
)

// customerCtx carries one customer's retrieval inputs through the
// strategy chain.
type customerCtx struct {
	id              int64
	businessType    string
	businessSubtype string
	loyaltyTier     string
	homeStoreID     int32

	topCategories []string
	tier3Ratio    float64

	// pastProducts is sorted ascending so repeat-purchase iteration is
	// reproducible across runs.
	pastProducts   []int64
	pastCategories map[string]struct{}
}

// pool accumulates one customer's candidates. Offers are claimed in
// strategy order; a later strategy never overwrites an earlier claim,
// so the recorded provenance is always the first strategy to propose
// the pair.
type pool struct {
	cap      int
	ix       *runIndex
	cust     *customerCtx
	order    []int64
	strategy map[int64]string
}

func newPool(cap int, ix *runIndex, cust *customerCtx) *pool {
	return &pool{
		cap:      cap,
		ix:       ix,
		cust:     cust,
		strategy: make(map[int64]string),
	}
}

func (p *pool) full() bool { return len(p.order) >= p.cap }

// claim adds an offer under the given strategy tag if the pool has
// room, the pair is new, and the offer's scopes admit the customer.
func (p *pool) claim(offerID int64, strategy string) bool {
	if p.full() {
		return false
	}
	if _, taken := p.strategy[offerID]; taken {
		return false
	}
	o, ok := p.ix.offersByID[offerID]
	if !ok {
		return false
	}
	c := p.cust
	if !o.Admits(c.homeStoreID, c.businessType, c.businessSubtype, c.loyaltyTier) {
		return false
	}
	p.strategy[offerID] = strategy
	p.order = append(p.order, offerID)
	return true
}

// strategyFunc proposes offers for one customer, claiming at most limit
// of them into the pool.
type strategyFunc func(g *generator, p *pool, limit int)

// strategyFuncs is the registry of known strategies. The order and caps
// applied per customer come from configuration, not from this map.
var strategyFuncs = map[string]strategyFunc{
	config.StrategyCategoryAffinity: (*generator).categoryAffinity,
	config.StrategySegmentPopular:   (*generator).segmentPopular,
	config.StrategyRepeatPurchase:   (*generator).repeatPurchase,
	config.StrategyHighMargin:       (*generator).highMargin,
	config.StrategyTierUpgrade:      (*generator).tierUpgrade,
	config.StrategyCrossSell:        (*generator).crossSell,
	config.StrategyOwnBrand:         (*generator).ownBrand,
}

type generator struct {
	cfg *config.Config
	ix  *runIndex
}

// Generate rebuilds the candidate pool for runDate. Prior rows for the
// date are deleted first, so reruns are idempotent. Returns the number
// of candidate rows written. Zero active offers is not an error: the
// pool stays empty for that date.
func Generate(ctx context.Context, q db.Queryer, cfg *config.Config, runDate time.Time) (int64, error) {
	for _, s := range cfg.Candidates.Strategies {
		if _, ok := strategyFuncs[s.Name]; !ok {
			return 0, fmt.Errorf("unknown candidate strategy %q", s.Name)
		}
	}

	logging.Info().Time("run_date", runDate).Msg("Generating candidate pool")

	if _, err := q.Exec(ctx, `DELETE FROM candidate_pool WHERE run_date = $1`, runDate); err != nil {
		return 0, fmt.Errorf("failed to clear candidate pool: %w", err)
	}

	ix, err := buildRunIndex(ctx, q, runDate)
	if err != nil {
		return 0, err
	}
	if len(ix.offersByID) == 0 {
		logging.Warn().Time("run_date", runDate).Msg("No active offers; candidate pool left empty")
		return 0, nil
	}
	logging.Info().Int("active_offers", len(ix.offersByID)).Msg("Run index built")

	g := &generator{cfg: cfg, ix: ix}

	var (
		total     int64
		customers int64
		lastID    int64
	)
	for {
		batch, err := loadCustomerBatch(ctx, q, cfg, lastID, runDate)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			break
		}
		lastID = batch[len(batch)-1].id
		customers += int64(len(batch))

		rows := make([][]any, 0, len(batch)*8)
		for i := range batch {
			p := newPool(cfg.Candidates.PoolSize, ix, &batch[i])
			for _, s := range cfg.Candidates.Strategies {
				if p.full() {
					break
				}
				strategyFuncs[s.Name](g, p, s.Limit)
			}
			for _, oid := range p.order {
				rows = append(rows, []any{runDate, batch[i].id, oid, p.strategy[oid]})
			}
		}

		n, err := q.CopyFrom(ctx,
			pgx.Identifier{"candidate_pool"},
			[]string{"run_date", "customer_id", "offer_id", "strategy"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return total, fmt.Errorf("failed to insert candidate batch: %w", err)
		}
		total += n
	}

	avg := float64(0)
	if customers > 0 {
		avg = float64(total) / float64(customers)
	}
	logging.Info().
		Int64("candidates", total).
		Int64("customers", customers).
		Float64("avg_per_customer", avg).
		Msg("Candidate pool generated")
	return total, nil
}

// categoryAffinity proposes offers from the customer's top purchase
// categories, backfilling from the remaining categories when the top
// ones cannot fill the cap.
func (g *generator) categoryAffinity(p *pool, limit int) {
	claimed := 0
	claimCat := func(cat string) {
		for _, oid := range g.ix.catOffers[cat] {
			if claimed >= limit || p.full() {
				return
			}
			if p.claim(oid, config.StrategyCategoryAffinity) {
				claimed++
			}
		}
	}

	top := make(map[string]struct{}, len(p.cust.topCategories))
	for _, cat := range p.cust.topCategories {
		top[cat] = struct{}{}
		claimCat(cat)
	}
	if claimed >= limit {
		return
	}
	for _, cat := range g.ix.categories {
		if claimed >= limit || p.full() {
			return
		}
		if _, ok := top[cat]; ok {
			continue
		}
		claimCat(cat)
	}
}

// segmentPopular proposes the offers most shown to the customer's
// business type, most popular first.
func (g *generator) segmentPopular(p *pool, limit int) {
	claimed := 0
	for _, oid := range g.ix.segPopular[p.cust.businessType] {
		if claimed >= limit || p.full() {
			return
		}
		if p.claim(oid, config.StrategySegmentPopular) {
			claimed++
		}
	}
}

// repeatPurchase proposes offers on products the customer bought in the
// lookback window.
func (g *generator) repeatPurchase(p *pool, limit int) {
	claimed := 0
	for _, pid := range p.cust.pastProducts {
		for _, oid := range g.ix.productOffers[pid] {
			if claimed >= limit || p.full() {
				return
			}
			if p.claim(oid, config.StrategyRepeatPurchase) {
				claimed++
			}
		}
	}
}

// highMargin proposes the globally highest-margin offers, independent
// of customer history.
func (g *generator) highMargin(p *pool, limit int) {
	claimed := 0
	for _, oid := range g.ix.highMargin {
		if claimed >= limit || p.full() {
			return
		}
		if p.claim(oid, config.StrategyHighMargin) {
			claimed++
		}
	}
}

// tierUpgrade nudges customers under-using bulk pricing toward
// volume-oriented offers. Customers at or above the tier-3 ratio
// threshold are skipped.
func (g *generator) tierUpgrade(p *pool, limit int) {
	if p.cust.tier3Ratio >= g.cfg.Candidates.TierUpgradeThreshold {
		return
	}
	claimed := 0
	for _, oid := range g.ix.bulkOffers {
		if claimed >= limit || p.full() {
			return
		}
		if p.claim(oid, config.StrategyTierUpgrade) {
			claimed++
		}
	}
}

// crossSell proposes offers from categories the customer has not
// purchased from in the lookback window.
func (g *generator) crossSell(p *pool, limit int) {
	claimed := 0
	for _, cat := range g.ix.categories {
		if _, bought := p.cust.pastCategories[cat]; bought {
			continue
		}
		for _, oid := range g.ix.catOffers[cat] {
			if claimed >= limit || p.full() {
				return
			}
			if p.claim(oid, config.StrategyCrossSell) {
				claimed++
			}
		}
	}
}

// ownBrand proposes offers on retailer-owned-brand products.
func (g *generator) ownBrand(p *pool, limit int) {
	claimed := 0
	for _, oid := range g.ix.ownBrand {
		if claimed >= limit || p.full() {
			return
		}
		if p.claim(oid, config.StrategyOwnBrand) {
			claimed++
		}
	}
}

// loadCustomerBatch pages through customers by id, loading the batch's
// retrieval inputs (feature row, lookback purchases) in bulk.
func loadCustomerBatch(ctx context.Context, q db.Queryer, cfg *config.Config, afterID int64, runDate time.Time) ([]customerCtx, error) {
	rows, err := q.Query(ctx, `
        SELECT customer_id, business_type, business_subtype, loyalty_tier, home_store_id
        FROM customers
        WHERE customer_id > $1
        ORDER BY customer_id
        LIMIT $2
    `, afterID, cfg.Candidates.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var batch []customerCtx
	index := make(map[int64]int)
	for rows.Next() {
		var c customerCtx
		if err := rows.Scan(&c.id, &c.businessType, &c.businessSubtype, &c.loyaltyTier, &c.homeStoreID); err != nil {
			return nil, err
		}
		c.pastCategories = make(map[string]struct{})
		index[c.id] = len(batch)
		batch = append(batch, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(batch))
	for i, c := range batch {
		ids[i] = c.id
	}

	featRows, err := q.Query(ctx, `
        SELECT customer_id, top_categories, tier3_purchase_ratio
        FROM customer_features
        WHERE customer_id = ANY($1)
    `, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query customer features: %w", err)
	}
	defer featRows.Close()
	for featRows.Next() {
		var (
			cid  int64
			cats []string
			t3   float64
		)
		if err := featRows.Scan(&cid, &cats, &t3); err != nil {
			return nil, err
		}
		if i, ok := index[cid]; ok {
			batch[i].topCategories = cats
			batch[i].tier3Ratio = t3
		}
	}
	if err := featRows.Err(); err != nil {
		return nil, err
	}

	purchRows, err := q.Query(ctx, `
        SELECT DISTINCT o.customer_id, oi.product_id, p.category
        FROM orders o
        JOIN order_items oi ON o.order_id = oi.order_id
        JOIN products p ON oi.product_id = p.product_id
        WHERE o.order_date <= $1::date
          AND o.order_date > $1::date - $2::integer
          AND o.customer_id = ANY($3)
    `, runDate, cfg.Features.LookbackDays, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query lookback purchases: %w", err)
	}
	defer purchRows.Close()
	for purchRows.Next() {
		var (
			cid int64
			pid int64
			cat string
		)
		if err := purchRows.Scan(&cid, &pid, &cat); err != nil {
			return nil, err
		}
		if i, ok := index[cid]; ok {
			batch[i].pastProducts = append(batch[i].pastProducts, pid)
			batch[i].pastCategories[cat] = struct{}{}
		}
	}
	if err := purchRows.Err(); err != nil {
		return nil, err
	}

	for i := range batch {
		sort.Slice(batch[i].pastProducts, func(a, b int) bool {
			return batch[i].pastProducts[a] < batch[i].pastProducts[b]
		})
	}
	return batch, nil
}
