//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package offers

import (
	"context"
	"fmt"
	"time"

	"github.com/pgEdge/pgedge-recommend/internal/db"
)

// Offer is an active promotion joined with its product attributes.
type Offer struct {
	ID            int64
	ProductID     int64
	DiscountType  DiscountType
	DiscountValue float64
	StartDate     time.Time
	EndDate       time.Time

	// Product attributes
	Category  string
	Brand     string
	OwnBrand  bool
	BasePrice float64 // tier-1 unit price
	Margin    float64

	// Eligibility scopes; a nil set means unrestricted for that dimension.
	storeScope           map[int32]struct{}
	businessTypeScope    map[string]struct{}
	businessSubtypeScope map[string]struct{}
	loyaltyTierScope     map[string]struct{}
}

// Depth returns the offer's effective discount depth.
func (o *Offer) Depth() (float64, error) {
	return DiscountDepth(o.DiscountType, o.DiscountValue, o.BasePrice)
}

// Admits reports whether the offer's eligibility scopes admit a customer.
// Every non-nil scope dimension must contain the customer's value; a
// single failing dimension disqualifies the offer.
func (o *Offer) Admits(storeID int32, businessType, businessSubtype, loyaltyTier string) bool {
	if o.storeScope != nil {
		if _, ok := o.storeScope[storeID]; !ok {
			return false
		}
	}
	if o.businessTypeScope != nil {
		if _, ok := o.businessTypeScope[businessType]; !ok {
			return false
		}
	}
	if o.businessSubtypeScope != nil {
		if _, ok := o.businessSubtypeScope[businessSubtype]; !ok {
			return false
		}
	}
	if o.loyaltyTierScope != nil {
		if _, ok := o.loyaltyTierScope[loyaltyTier]; !ok {
			return false
		}
	}
	return true
}

// AdmitsBusinessType checks the business-type scope dimension alone,
// ignoring the store, subtype, and tier dimensions.
func (o *Offer) AdmitsBusinessType(businessType string) bool {
	if o.businessTypeScope == nil {
		return true
	}
	_, ok := o.businessTypeScope[businessType]
	return ok
}

// SetScopes installs the scope allow-sets. A nil slice means unrestricted;
// an empty non-nil slice admits nobody.
func (o *Offer) SetScopes(stores []int32, businessTypes, businessSubtypes, loyaltyTiers []string) {
	o.storeScope = intSet(stores)
	o.businessTypeScope = strSet(businessTypes)
	o.businessSubtypeScope = strSet(businessSubtypes)
	o.loyaltyTierScope = strSet(loyaltyTiers)
}

func intSet(vals []int32) map[int32]struct{} {
	if vals == nil {
		return nil
	}
	s := make(map[int32]struct{}, len(vals))
	for _, v := range vals {
		s[v] = struct{}{}
	}
	return s
}

func strSet(vals []string) map[string]struct{} {
	if vals == nil {
		return nil
	}
	s := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		s[v] = struct{}{}
	}
	return s
}

const selectOffersSQL = `
SELECT o.offer_id, o.product_id, o.discount_type, o.discount_value,
       o.start_date, o.end_date,
       o.store_scope, o.business_type_scope,
       o.business_subtype_scope, o.loyalty_tier_scope,
       p.category, p.brand, p.own_brand, p.tier1_price, p.margin
FROM offers o
JOIN products p ON o.product_id = p.product_id
`

// LoadActive loads the offers whose validity window contains runDate.
func LoadActive(ctx context.Context, q db.Queryer, runDate time.Time) ([]*Offer, error) {
	return load(ctx, q,
		selectOffersSQL+`WHERE o.start_date <= $1 AND o.end_date >= $1 ORDER BY o.offer_id`,
		runDate)
}

// LoadAll loads every offer regardless of validity window. Feature
// builders use this so historical pairs can still be featurized.
func LoadAll(ctx context.Context, q db.Queryer) ([]*Offer, error) {
	return load(ctx, q, selectOffersSQL+`ORDER BY o.offer_id`)
}

func load(ctx context.Context, q db.Queryer, sql string, args ...any) ([]*Offer, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}
	defer rows.Close()

	var out []*Offer
	for rows.Next() {
		var (
			o                Offer
			discountType     string
			stores           []int32
			businessTypes    []string
			businessSubtypes []string
			loyaltyTiers     []string
		)
		if err := rows.Scan(
			&o.ID, &o.ProductID, &discountType, &o.DiscountValue,
			&o.StartDate, &o.EndDate,
			&stores, &businessTypes, &businessSubtypes, &loyaltyTiers,
			&o.Category, &o.Brand, &o.OwnBrand, &o.BasePrice, &o.Margin,
		); err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		o.DiscountType = DiscountType(discountType)
		if !o.DiscountType.Valid() {
			return nil, fmt.Errorf("offer %d has unknown discount type %q", o.ID, discountType)
		}
		o.SetScopes(stores, businessTypes, businessSubtypes, loyaltyTiers)
		out = append(out, &o)
	}
	return out, rows.Err()
}
