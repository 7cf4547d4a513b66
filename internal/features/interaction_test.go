package features

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/pgEdge/pgedge-recommend/internal/config"
	"github.com/pgEdge/pgedge-recommend/internal/offers"
)

func TestBuildInteractionFeaturesEmptyPairs(t *testing.T) {
	rows, err := BuildInteractionFeatures(
		context.Background(), nil, config.DefaultConfig(), nil,
		time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if rows == nil {
		t.Fatal("Expected empty slice, got nil")
	}
	if len(rows) != 0 {
		t.Errorf("Expected 0 rows, got %d", len(rows))
	}
}

func TestInteractionRowUnknownOffer(t *testing.T) {
	in := &interactionInputs{offers: map[int64]*offers.Offer{}}
	refDate := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	row := in.row(config.DefaultConfig(), Pair{CustomerID: 1, OfferID: 99}, refDate)

	if row.CustomerID != 1 || row.OfferID != 99 {
		t.Errorf("Pair identity = (%d, %d), want (1, 99)", row.CustomerID, row.OfferID)
	}
	if row.BoughtProductBefore != 0 {
		t.Errorf("BoughtProductBefore = %v, want 0", row.BoughtProductBefore)
	}
	if row.DaysSinceCategoryPurchase != DaysSinceSentinel {
		t.Errorf("DaysSinceCategoryPurchase = %v, want sentinel %v",
			row.DaysSinceCategoryPurchase, DaysSinceSentinel)
	}
	if row.CategoryAffinityScore != 0 {
		t.Errorf("CategoryAffinityScore = %v, want 0", row.CategoryAffinityScore)
	}
	if row.DiscountDepthVsUsual != 0 || row.PriceSensitivityMatch != 0 || row.BusinessTypeScopeMatch != 0 {
		t.Errorf("Unknown offer must produce zero-valued features, got %+v", row)
	}
}

func TestInteractionRowKnownOffer(t *testing.T) {
	refDate := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	o := &offers.Offer{ID: 5, ProductID: 10, Category: "dairy"}

	in := &interactionInputs{
		offers: map[int64]*offers.Offer{5: o},
		depths: map[int64]float64{5: 0.2},
		bought: map[int64]map[int64]struct{}{
			1: {10: {}},
		},
		lastCat: map[int64]map[string]time.Time{
			1: {"dairy": refDate.AddDate(0, 0, -5)},
		},
		catCounts: map[int64]map[string]int64{
			1: {"dairy": 3, "beverages": 1},
		},
		catTotals: map[int64]int64{1: 4},
		custDepth: map[int64]float64{1: 0.05},
		custType:  map[int64]string{1: "kiosk"},
	}

	cfg := config.DefaultConfig()
	row := in.row(cfg, Pair{CustomerID: 1, OfferID: 5}, refDate)

	if row.BoughtProductBefore != 1 {
		t.Errorf("BoughtProductBefore = %v, want 1", row.BoughtProductBefore)
	}
	if row.DaysSinceCategoryPurchase != 5 {
		t.Errorf("DaysSinceCategoryPurchase = %v, want 5", row.DaysSinceCategoryPurchase)
	}
	if row.CategoryAffinityScore != 0.75 {
		t.Errorf("CategoryAffinityScore = %v, want 0.75", row.CategoryAffinityScore)
	}
	if math.Abs(row.DiscountDepthVsUsual-0.15) > 1e-12 {
		t.Errorf("DiscountDepthVsUsual = %v, want 0.15", row.DiscountDepthVsUsual)
	}
	want := cfg.SensitivityFor("kiosk") * 0.2
	if math.Abs(row.PriceSensitivityMatch-want) > 1e-12 {
		t.Errorf("PriceSensitivityMatch = %v, want %v", row.PriceSensitivityMatch, want)
	}
	if row.BusinessTypeScopeMatch != 1 {
		t.Errorf("Unrestricted scope should count as match, got %v", row.BusinessTypeScopeMatch)
	}
}

func TestInteractionRowScopeMismatch(t *testing.T) {
	refDate := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	o := &offers.Offer{ID: 5, ProductID: 10, Category: "dairy"}
	o.SetScopes(nil, []string{"horeca"}, nil, nil)

	in := &interactionInputs{
		offers:   map[int64]*offers.Offer{5: o},
		depths:   map[int64]float64{5: 0.2},
		custType: map[int64]string{1: "kiosk"},
	}

	row := in.row(config.DefaultConfig(), Pair{CustomerID: 1, OfferID: 5}, refDate)
	if row.BusinessTypeScopeMatch != 0 {
		t.Errorf("Scope excluding the customer must not match, got %v", row.BusinessTypeScopeMatch)
	}
}
