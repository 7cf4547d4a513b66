//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package seed populates a schema with a deterministic synthetic
// wholesale fixture: customers, catalog, offers, and a purchase and
// impression history dense enough to train and evaluate on.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"

	"github.com/pgEdge/pgedge-recommend/internal/db"
	"github.com/pgEdge/pgedge-recommend/internal/logging"
)

// Scale sets the fixture size.
type Scale struct {
	Customers   int
	Products    int
	Offers      int
	HistoryDays int
	Seed        uint64
}

// DefaultScale mirrors the fixture used by the end-to-end tests.
func DefaultScale() Scale {
	return Scale{
		Customers:   100,
		Products:    50,
		Offers:      10,
		HistoryDays: 90,
		Seed:        42,
	}
}

var (
	businessTypes    = []string{"horeca", "kiosk", "office", "trader"}
	businessSubtypes = map[string][]string{
		"horeca": {"restaurant", "hotel", "catering"},
		"kiosk":  {"convenience", "newsstand"},
		"office": {"company", "public_sector"},
		"trader": {"reseller", "market_stall"},
	}
	loyaltyTiers = []string{"bronze", "silver", "gold"}
	categories   = []string{
		"dairy", "produce", "bakery", "meat", "seafood", "deli",
		"beverages", "snacks", "cleaning", "paper_goods",
	}
	discountTypes = []string{
		"percentage", "fixed_amount", "buy_x_get_y",
		"volume_bonus", "bundle", "free_gift",
	}
	channels = []string{"email", "app", "print"}
)

const nStores = 5

// Run populates the schema as of endDate, generating history for the
// preceding scale.HistoryDays days. The fixture is fully determined by
// scale.Seed.
func Run(ctx context.Context, q db.Queryer, scale Scale, endDate time.Time) error {
	logging.Info().
		Int("customers", scale.Customers).
		Int("products", scale.Products).
		Int("offers", scale.Offers).
		Int("history_days", scale.HistoryDays).
		Msg("Seeding fixture data")

	f := gofakeit.New(scale.Seed)
	rng := rand.New(rand.NewSource(int64(scale.Seed)))
	startDate := endDate.AddDate(0, 0, -scale.HistoryDays)

	if err := seedCustomers(ctx, q, rng, scale, startDate); err != nil {
		return err
	}
	products, err := seedProducts(ctx, q, f, rng, scale)
	if err != nil {
		return err
	}
	offers, err := seedOffers(ctx, q, rng, scale, products, startDate, endDate)
	if err != nil {
		return err
	}
	if err := seedHistory(ctx, q, rng, scale, products, offers, startDate, endDate); err != nil {
		return err
	}

	logging.Info().Msg("Fixture data seeded")
	return nil
}

func seedCustomers(ctx context.Context, q db.Queryer, rng *rand.Rand, scale Scale, startDate time.Time) error {
	rows := make([][]any, 0, scale.Customers)
	for i := 1; i <= scale.Customers; i++ {
		bt := businessTypes[rng.Intn(len(businessTypes))]
		subs := businessSubtypes[bt]
		created := startDate.AddDate(0, 0, -rng.Intn(365))
		rows = append(rows, []any{
			int64(i),
			bt,
			subs[rng.Intn(len(subs))],
			loyaltyTiers[rng.Intn(len(loyaltyTiers))],
			int32(1 + rng.Intn(nStores)),
			created,
		})
	}
	_, err := q.CopyFrom(ctx, pgx.Identifier{"customers"},
		[]string{"customer_id", "business_type", "business_subtype", "loyalty_tier", "home_store_id", "created_date"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to seed customers: %w", err)
	}
	return nil
}

type seededProduct struct {
	id       int64
	category string
	price    float64
}

func seedProducts(ctx context.Context, q db.Queryer, f *gofakeit.Faker, rng *rand.Rand, scale Scale) ([]seededProduct, error) {
	products := make([]seededProduct, 0, scale.Products)
	rows := make([][]any, 0, scale.Products)
	for i := 1; i <= scale.Products; i++ {
		category := categories[i%len(categories)]
		price := f.Price(1.0, 80.0)
		tier2 := price * (0.85 + rng.Float64()*0.10)
		tier3 := tier2 * (0.85 + rng.Float64()*0.10)
		ownBrand := rng.Float64() < 0.2
		brand := f.Company()
		if ownBrand {
			brand = "Housemark"
		}
		rows = append(rows, []any{
			int64(i), category, brand, ownBrand,
			price, tier2, 10, tier3, 50,
			0.10 + rng.Float64()*0.30,
		})
		products = append(products, seededProduct{int64(i), category, price})
	}
	_, err := q.CopyFrom(ctx, pgx.Identifier{"products"},
		[]string{"product_id", "category", "brand", "own_brand", "tier1_price", "tier2_price", "tier2_min_qty", "tier3_price", "tier3_min_qty", "margin"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return nil, fmt.Errorf("failed to seed products: %w", err)
	}
	return products, nil
}

type seededOffer struct {
	id        int64
	productID int64
}

func seedOffers(ctx context.Context, q db.Queryer, rng *rand.Rand, scale Scale, products []seededProduct, startDate, endDate time.Time) ([]seededOffer, error) {
	offers := make([]seededOffer, 0, scale.Offers)
	rows := make([][]any, 0, scale.Offers)
	for i := 1; i <= scale.Offers; i++ {
		p := products[rng.Intn(len(products))]
		dt := discountTypes[rng.Intn(len(discountTypes))]
		var value float64
		switch dt {
		case "percentage":
			value = float64(5 + rng.Intn(30))
		case "fixed_amount":
			value = 1 + rng.Float64()*5
		default:
			value = 0
		}

		// Most offers span the whole history so every run date sees an
		// active pool; a few are scoped to exercise eligibility.
		var btScope []string
		if rng.Float64() < 0.3 {
			btScope = []string{businessTypes[rng.Intn(len(businessTypes))]}
		}
		var tierScope []string
		if rng.Float64() < 0.2 {
			tierScope = []string{"silver", "gold"}
		}

		rows = append(rows, []any{
			int64(i), p.id, dt, value,
			startDate, endDate.AddDate(0, 0, 14),
			nil, btScope, nil, tierScope,
		})
		offers = append(offers, seededOffer{int64(i), p.id})
	}
	_, err := q.CopyFrom(ctx, pgx.Identifier{"offers"},
		[]string{"offer_id", "product_id", "discount_type", "discount_value", "start_date", "end_date", "store_scope", "business_type_scope", "business_subtype_scope", "loyalty_tier_scope"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return nil, fmt.Errorf("failed to seed offers: %w", err)
	}
	return offers, nil
}

// seedHistory walks each day of the window, generating orders with line
// items, offer impressions, and redemptions. Roughly 15% of impressions
// redeem within a few days, so the attribution join finds positives.
func seedHistory(ctx context.Context, q db.Queryer, rng *rand.Rand, scale Scale, products []seededProduct, offers []seededOffer, startDate, endDate time.Time) error {
	var (
		orderRows      [][]any
		itemRows       [][]any
		impressionRows [][]any
		orderID        int64
	)

	type pendingRedemption struct {
		customerID int64
		offerID    int64
		date       time.Time
	}
	var redemptions []pendingRedemption

	days := int(endDate.Sub(startDate).Hours() / 24)
	for day := 0; day <= days; day++ {
		date := startDate.AddDate(0, 0, day)
		for cid := int64(1); cid <= int64(scale.Customers); cid++ {
			// A customer orders about twice a week.
			if rng.Float64() < 0.3 {
				orderID++
				nItems := 1 + rng.Intn(5)
				var total float64
				for li := 0; li < nItems; li++ {
					p := products[rng.Intn(len(products))]
					qty := 1 + rng.Intn(60)
					tier := int16(1)
					switch {
					case qty >= 50:
						tier = 3
					case qty >= 10:
						tier = 2
					}
					isPromo := rng.Float64() < 0.25
					discount := 0.0
					if isPromo {
						discount = p.price * 0.1 * float64(qty)
					}
					itemRows = append(itemRows, []any{
						orderID, p.id, qty, p.price, tier, isPromo, discount,
					})
					total += p.price*float64(qty) - discount
				}
				orderRows = append(orderRows, []any{
					orderID, cid, int32(1 + rng.Intn(nStores)), date, "business", total, nItems,
				})
			}

			// Offers shown most days; some lead to a redemption.
			if rng.Float64() < 0.5 {
				o := offers[rng.Intn(len(offers))]
				impressionRows = append(impressionRows, []any{
					cid, o.id, date, channels[rng.Intn(len(channels))],
				})
				if rng.Float64() < 0.15 {
					redemptions = append(redemptions, pendingRedemption{
						cid, o.id, date.AddDate(0, 0, rng.Intn(5)),
					})
				}
			}
		}
	}

	if _, err := q.CopyFrom(ctx, pgx.Identifier{"orders"},
		[]string{"order_id", "customer_id", "store_id", "order_date", "purchase_mode", "total_amount", "num_items"},
		pgx.CopyFromRows(orderRows)); err != nil {
		return fmt.Errorf("failed to seed orders: %w", err)
	}
	if _, err := q.CopyFrom(ctx, pgx.Identifier{"order_items"},
		[]string{"order_id", "product_id", "quantity", "unit_price", "price_tier", "is_promo", "discount_amount"},
		pgx.CopyFromRows(itemRows)); err != nil {
		return fmt.Errorf("failed to seed order items: %w", err)
	}
	if _, err := q.CopyFrom(ctx, pgx.Identifier{"impressions"},
		[]string{"customer_id", "offer_id", "shown_date", "channel"},
		pgx.CopyFromRows(impressionRows)); err != nil {
		return fmt.Errorf("failed to seed impressions: %w", err)
	}

	// Redemptions reference an order of the same customer; attach each
	// to that customer's nearest order on or before the redemption
	// date, falling back to a fresh order when none exists.
	redemptionRows := make([][]any, 0, len(redemptions))
	lastOrder := make(map[int64]int64)
	orderDates := make(map[int64]map[string]int64)
	for _, row := range orderRows {
		oid := row[0].(int64)
		cid := row[1].(int64)
		date := row[3].(time.Time)
		lastOrder[cid] = oid
		if orderDates[cid] == nil {
			orderDates[cid] = make(map[string]int64)
		}
		orderDates[cid][date.Format("2006-01-02")] = oid
	}
	var extraOrders [][]any
	for _, r := range redemptions {
		oid, ok := orderDates[r.customerID][r.date.Format("2006-01-02")]
		if !ok {
			oid, ok = lastOrder[r.customerID]
			if !ok {
				orderID++
				oid = orderID
				extraOrders = append(extraOrders, []any{
					oid, r.customerID, int32(1 + rng.Intn(nStores)), r.date, "business", 0.0, 0,
				})
				lastOrder[r.customerID] = oid
			}
		}
		redemptionRows = append(redemptionRows, []any{r.customerID, r.offerID, oid, r.date})
	}
	if len(extraOrders) > 0 {
		if _, err := q.CopyFrom(ctx, pgx.Identifier{"orders"},
			[]string{"order_id", "customer_id", "store_id", "order_date", "purchase_mode", "total_amount", "num_items"},
			pgx.CopyFromRows(extraOrders)); err != nil {
			return fmt.Errorf("failed to seed redemption orders: %w", err)
		}
	}
	if _, err := q.CopyFrom(ctx, pgx.Identifier{"redemptions"},
		[]string{"customer_id", "offer_id", "order_id", "redeemed_date"},
		pgx.CopyFromRows(redemptionRows)); err != nil {
		return fmt.Errorf("failed to seed redemptions: %w", err)
	}

	logging.Info().
		Int("orders", len(orderRows)+len(extraOrders)).
		Int("order_items", len(itemRows)).
		Int("impressions", len(impressionRows)).
		Int("redemptions", len(redemptionRows)).
		Msg("History generated")
	return nil
}
