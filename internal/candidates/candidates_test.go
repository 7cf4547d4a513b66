package candidates

import (
	"reflect"
	"testing"

	"github.com/pgEdge/pgedge-recommend/internal/config"
	"github.com/pgEdge/pgedge-recommend/internal/offers"
)

// testIndex builds a runIndex from a flat offer list the way
// buildRunIndex would, without a database.
func testIndex(t *testing.T, active []*offers.Offer) *runIndex {
	t.Helper()
	ix := &runIndex{
		offersByID:    make(map[int64]*offers.Offer),
		catOffers:     make(map[string][]int64),
		productOffers: make(map[int64][]int64),
		segPopular:    make(map[string][]int64),
	}
	seen := make(map[string]struct{})
	for _, o := range active {
		ix.offersByID[o.ID] = o
		ix.catOffers[o.Category] = append(ix.catOffers[o.Category], o.ID)
		ix.productOffers[o.ProductID] = append(ix.productOffers[o.ProductID], o.ID)
		if _, ok := seen[o.Category]; !ok {
			seen[o.Category] = struct{}{}
			ix.categories = append(ix.categories, o.Category)
		}
		if o.DiscountType == offers.VolumeBonus || o.DiscountType == offers.Bundle {
			ix.bulkOffers = append(ix.bulkOffers, o.ID)
		}
		if o.OwnBrand {
			ix.ownBrand = append(ix.ownBrand, o.ID)
		}
		ix.highMargin = append(ix.highMargin, o.ID)
	}
	return ix
}

func testOffers() []*offers.Offer {
	return []*offers.Offer{
		{ID: 1, ProductID: 10, Category: "dairy", DiscountType: offers.Percentage},
		{ID: 2, ProductID: 11, Category: "dairy", DiscountType: offers.VolumeBonus},
		{ID: 3, ProductID: 12, Category: "beverages", DiscountType: offers.Percentage, OwnBrand: true},
		{ID: 4, ProductID: 13, Category: "snacks", DiscountType: offers.Bundle},
	}
}

func TestPoolClaim(t *testing.T) {
	ix := testIndex(t, testOffers())
	cust := &customerCtx{id: 1, businessType: "horeca"}
	p := newPool(3, ix, cust)

	if !p.claim(1, "a") {
		t.Error("First claim should succeed")
	}
	if p.claim(1, "b") {
		t.Error("Duplicate offer must not be claimed twice")
	}
	if p.strategy[1] != "a" {
		t.Errorf("Provenance = %q, want first-claiming strategy %q", p.strategy[1], "a")
	}
	if p.claim(99, "a") {
		t.Error("Unknown offer id must be rejected")
	}
	p.claim(2, "a")
	p.claim(3, "a")
	if !p.full() {
		t.Error("Pool should be full at capacity 3")
	}
	if p.claim(4, "a") {
		t.Error("Claim against a full pool must fail")
	}
	if !reflect.DeepEqual(p.order, []int64{1, 2, 3}) {
		t.Errorf("Claim order = %v, want [1 2 3]", p.order)
	}
}

func TestPoolClaimEligibility(t *testing.T) {
	scoped := &offers.Offer{ID: 1, ProductID: 10, Category: "dairy", DiscountType: offers.Percentage}
	scoped.SetScopes(nil, []string{"kiosk"}, nil, nil)
	ix := testIndex(t, []*offers.Offer{scoped})

	horeca := &customerCtx{id: 1, businessType: "horeca"}
	if newPool(10, ix, horeca).claim(1, "a") {
		t.Error("Offer scoped to kiosk must not admit a horeca customer")
	}

	kiosk := &customerCtx{id: 2, businessType: "kiosk"}
	if !newPool(10, ix, kiosk).claim(1, "a") {
		t.Error("Offer scoped to kiosk should admit a kiosk customer")
	}
}

func TestCategoryAffinityBackfill(t *testing.T) {
	ix := testIndex(t, testOffers())
	g := &generator{cfg: config.DefaultConfig(), ix: ix}
	cust := &customerCtx{id: 1, topCategories: []string{"dairy"}}
	p := newPool(10, ix, cust)

	g.categoryAffinity(p, 3)

	// Top category first (offers 1, 2), then backfill in category name
	// order: beverages before snacks.
	if !reflect.DeepEqual(p.order, []int64{1, 2, 3}) {
		t.Errorf("Claim order = %v, want [1 2 3]", p.order)
	}
	for _, oid := range p.order {
		if p.strategy[oid] != config.StrategyCategoryAffinity {
			t.Errorf("Offer %d attributed to %q", oid, p.strategy[oid])
		}
	}
}

func TestRepeatPurchase(t *testing.T) {
	ix := testIndex(t, testOffers())
	g := &generator{cfg: config.DefaultConfig(), ix: ix}
	cust := &customerCtx{id: 1, pastProducts: []int64{11, 13}}
	p := newPool(10, ix, cust)

	g.repeatPurchase(p, 10)
	if !reflect.DeepEqual(p.order, []int64{2, 4}) {
		t.Errorf("Claim order = %v, want [2 4]", p.order)
	}
}

func TestTierUpgradeThreshold(t *testing.T) {
	ix := testIndex(t, testOffers())
	cfg := config.DefaultConfig()
	g := &generator{cfg: cfg, ix: ix}

	heavy := &customerCtx{id: 1, tier3Ratio: cfg.Candidates.TierUpgradeThreshold}
	p := newPool(10, ix, heavy)
	g.tierUpgrade(p, 10)
	if len(p.order) != 0 {
		t.Errorf("Customer at threshold should get no tier-upgrade offers, got %v", p.order)
	}

	light := &customerCtx{id: 2, tier3Ratio: 0.1}
	p = newPool(10, ix, light)
	g.tierUpgrade(p, 10)
	// Volume-oriented offers only: 2 (volume_bonus) and 4 (bundle).
	if !reflect.DeepEqual(p.order, []int64{2, 4}) {
		t.Errorf("Claim order = %v, want [2 4]", p.order)
	}
}

func TestCrossSellSkipsPurchasedCategories(t *testing.T) {
	ix := testIndex(t, testOffers())
	g := &generator{cfg: config.DefaultConfig(), ix: ix}
	cust := &customerCtx{
		id:             1,
		pastCategories: map[string]struct{}{"dairy": {}},
	}
	p := newPool(10, ix, cust)

	g.crossSell(p, 10)
	if !reflect.DeepEqual(p.order, []int64{3, 4}) {
		t.Errorf("Claim order = %v, want [3 4]", p.order)
	}
}

func TestOwnBrand(t *testing.T) {
	ix := testIndex(t, testOffers())
	g := &generator{cfg: config.DefaultConfig(), ix: ix}
	p := newPool(10, ix, &customerCtx{id: 1})

	g.ownBrand(p, 10)
	if !reflect.DeepEqual(p.order, []int64{3}) {
		t.Errorf("Claim order = %v, want [3]", p.order)
	}
}

func TestStrategyLimitCountsClaims(t *testing.T) {
	// Offer 1 is scoped away from the customer; the limit of 1 must
	// still allow the strategy to claim an eligible offer after the
	// rejection.
	scoped := &offers.Offer{ID: 1, ProductID: 10, Category: "dairy", DiscountType: offers.Percentage}
	scoped.SetScopes(nil, []string{"kiosk"}, nil, nil)
	open := &offers.Offer{ID: 2, ProductID: 11, Category: "dairy", DiscountType: offers.Percentage}
	ix := testIndex(t, []*offers.Offer{scoped, open})

	g := &generator{cfg: config.DefaultConfig(), ix: ix}
	cust := &customerCtx{id: 1, businessType: "horeca", topCategories: []string{"dairy"}}
	p := newPool(10, ix, cust)

	g.categoryAffinity(p, 1)
	if !reflect.DeepEqual(p.order, []int64{2}) {
		t.Errorf("Claim order = %v, want [2]", p.order)
	}
}

func TestStrategyRegistryCoversDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	for _, s := range cfg.Candidates.Strategies {
		if _, ok := strategyFuncs[s.Name]; !ok {
			t.Errorf("Default strategy %q has no registered implementation", s.Name)
		}
	}
}
