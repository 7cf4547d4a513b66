//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package db

import (
	"context"
)

// Schema SQL for the recommender store. Transactional fact tables
// (orders, order_items, impressions, redemptions) are append-only;
// derived tables (customer_features, offer_features, candidate_pool,
// recommendations) are rebuilt by each pipeline run.
const createSchemaSQL = `
-- Customers: wholesale business accounts
CREATE TABLE IF NOT EXISTS customers (
    customer_id       BIGINT PRIMARY KEY,
    business_type     TEXT NOT NULL,
    business_subtype  TEXT NOT NULL,
    loyalty_tier      TEXT NOT NULL,
    home_store_id     INTEGER NOT NULL,
    created_date      DATE NOT NULL
);

-- Products: catalog with tiered (volume) pricing
CREATE TABLE IF NOT EXISTS products (
    product_id     BIGINT PRIMARY KEY,
    category       TEXT NOT NULL,
    brand          TEXT NOT NULL,
    own_brand      BOOLEAN NOT NULL DEFAULT FALSE,
    tier1_price    DOUBLE PRECISION NOT NULL,
    tier2_price    DOUBLE PRECISION NOT NULL,
    tier2_min_qty  INTEGER NOT NULL,
    tier3_price    DOUBLE PRECISION NOT NULL,
    tier3_min_qty  INTEGER NOT NULL,
    margin         DOUBLE PRECISION NOT NULL,
    CHECK (tier2_price <= tier1_price),
    CHECK (tier3_price <= tier2_price),
    CHECK (tier2_min_qty < tier3_min_qty)
);

-- Offers: time-bounded promotions with optional eligibility scopes.
-- A NULL scope array means unrestricted for that dimension.
CREATE TABLE IF NOT EXISTS offers (
    offer_id                BIGINT PRIMARY KEY,
    product_id              BIGINT NOT NULL REFERENCES products(product_id),
    discount_type           TEXT NOT NULL,
    discount_value          DOUBLE PRECISION NOT NULL,
    start_date              DATE NOT NULL,
    end_date                DATE NOT NULL,
    store_scope             INTEGER[],
    business_type_scope     TEXT[],
    business_subtype_scope  TEXT[],
    loyalty_tier_scope      TEXT[],
    CHECK (end_date >= start_date)
);

-- Orders: order headers (append-only)
CREATE TABLE IF NOT EXISTS orders (
    order_id       BIGINT PRIMARY KEY,
    customer_id    BIGINT NOT NULL REFERENCES customers(customer_id),
    store_id       INTEGER NOT NULL,
    order_date     DATE NOT NULL,
    purchase_mode  TEXT NOT NULL DEFAULT 'business',
    total_amount   DOUBLE PRECISION NOT NULL,
    num_items      INTEGER NOT NULL
);

-- Order items: line items with applied price tier (append-only)
CREATE TABLE IF NOT EXISTS order_items (
    order_item_id    BIGSERIAL PRIMARY KEY,
    order_id         BIGINT NOT NULL REFERENCES orders(order_id),
    product_id       BIGINT NOT NULL REFERENCES products(product_id),
    quantity         INTEGER NOT NULL,
    unit_price       DOUBLE PRECISION NOT NULL,
    price_tier       SMALLINT NOT NULL DEFAULT 1,
    is_promo         BOOLEAN NOT NULL DEFAULT FALSE,
    discount_amount  DOUBLE PRECISION NOT NULL DEFAULT 0
);

-- Impressions: offer shown to a customer
CREATE TABLE IF NOT EXISTS impressions (
    impression_id  BIGSERIAL PRIMARY KEY,
    customer_id    BIGINT NOT NULL REFERENCES customers(customer_id),
    offer_id       BIGINT NOT NULL REFERENCES offers(offer_id),
    shown_date     DATE NOT NULL,
    channel        TEXT NOT NULL
);

-- Redemptions: offer redeemed within an order
CREATE TABLE IF NOT EXISTS redemptions (
    redemption_id  BIGSERIAL PRIMARY KEY,
    customer_id    BIGINT NOT NULL REFERENCES customers(customer_id),
    offer_id       BIGINT NOT NULL REFERENCES offers(offer_id),
    order_id       BIGINT NOT NULL REFERENCES orders(order_id),
    redeemed_date  DATE NOT NULL
);

-- Candidate pool: retrieval output, rebuilt per run date
CREATE TABLE IF NOT EXISTS candidate_pool (
    run_date     DATE NOT NULL,
    customer_id  BIGINT NOT NULL,
    offer_id     BIGINT NOT NULL,
    strategy     TEXT NOT NULL,
    PRIMARY KEY (run_date, customer_id, offer_id)
);

-- Customer features: one row per customer, rebuilt per run
CREATE TABLE IF NOT EXISTS customer_features (
    customer_id           BIGINT PRIMARY KEY,
    recency_days          DOUBLE PRECISION NOT NULL,
    frequency             INTEGER NOT NULL,
    monetary              DOUBLE PRECISION NOT NULL,
    promo_affinity        DOUBLE PRECISION NOT NULL,
    avg_basket_size       DOUBLE PRECISION NOT NULL,
    avg_basket_quantity   DOUBLE PRECISION NOT NULL,
    category_entropy      DOUBLE PRECISION NOT NULL,
    top_categories        TEXT[] NOT NULL DEFAULT '{}',
    avg_discount_depth    DOUBLE PRECISION NOT NULL,
    tier2_purchase_ratio  DOUBLE PRECISION NOT NULL,
    tier3_purchase_ratio  DOUBLE PRECISION NOT NULL,
    fresh_category_ratio  DOUBLE PRECISION NOT NULL,
    business_order_ratio  DOUBLE PRECISION NOT NULL,
    business_type         TEXT NOT NULL,
    loyalty_tier          TEXT NOT NULL,
    reference_date        DATE NOT NULL
);

-- Offer features: one row per offer, rebuilt per run
CREATE TABLE IF NOT EXISTS offer_features (
    offer_id                    BIGINT PRIMARY KEY,
    discount_depth              DOUBLE PRECISION NOT NULL,
    margin_impact               DOUBLE PRECISION NOT NULL,
    days_until_expiry           INTEGER NOT NULL,
    historical_redemption_rate  DOUBLE PRECISION NOT NULL,
    total_impressions           BIGINT NOT NULL,
    total_redemptions           BIGINT NOT NULL,
    category                    TEXT NOT NULL,
    brand                       TEXT NOT NULL,
    base_price                  DOUBLE PRECISION NOT NULL,
    reference_date              DATE NOT NULL
);

-- Recommendations: ranked top-N output, overwritten per run date
CREATE TABLE IF NOT EXISTS recommendations (
    run_date     DATE NOT NULL,
    customer_id  BIGINT NOT NULL,
    offer_id     BIGINT NOT NULL,
    score        DOUBLE PRECISION NOT NULL,
    rank         INTEGER NOT NULL,
    PRIMARY KEY (run_date, customer_id, offer_id),
    UNIQUE (run_date, customer_id, rank)
);

-- Drift log: PSI per monitored feature per run
CREATE TABLE IF NOT EXISTS drift_log (
    drift_id      BIGSERIAL PRIMARY KEY,
    run_date      DATE NOT NULL,
    feature_name  TEXT NOT NULL,
    psi_value     DOUBLE PRECISION NOT NULL,
    severity      TEXT NOT NULL
);

-- Pipeline runs: append-only audit of step execution
CREATE TABLE IF NOT EXISTS pipeline_runs (
    pipeline_run_id   BIGSERIAL PRIMARY KEY,
    run_date          DATE NOT NULL,
    step              TEXT NOT NULL,
    status            TEXT NOT NULL,
    duration_seconds  DOUBLE PRECISION,
    metadata          TEXT,
    logged_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- Indexes for the pipeline's access paths
CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id, order_date);
CREATE INDEX IF NOT EXISTS idx_orders_date ON orders(order_date);
CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);
CREATE INDEX IF NOT EXISTS idx_impressions_offer ON impressions(offer_id);
CREATE INDEX IF NOT EXISTS idx_impressions_pair ON impressions(customer_id, offer_id);
CREATE INDEX IF NOT EXISTS idx_redemptions_pair ON redemptions(customer_id, offer_id);
CREATE INDEX IF NOT EXISTS idx_redemptions_date ON redemptions(redeemed_date);
CREATE INDEX IF NOT EXISTS idx_offers_window ON offers(start_date, end_date);
CREATE INDEX IF NOT EXISTS idx_recommendations_run ON recommendations(run_date, customer_id);
`

// Drop schema SQL
const dropSchemaSQL = `
DROP TABLE IF EXISTS pipeline_runs CASCADE;
DROP TABLE IF EXISTS drift_log CASCADE;
DROP TABLE IF EXISTS recommendations CASCADE;
DROP TABLE IF EXISTS offer_features CASCADE;
DROP TABLE IF EXISTS customer_features CASCADE;
DROP TABLE IF EXISTS candidate_pool CASCADE;
DROP TABLE IF EXISTS redemptions CASCADE;
DROP TABLE IF EXISTS impressions CASCADE;
DROP TABLE IF EXISTS order_items CASCADE;
DROP TABLE IF EXISTS orders CASCADE;
DROP TABLE IF EXISTS offers CASCADE;
DROP TABLE IF EXISTS products CASCADE;
DROP TABLE IF EXISTS customers CASCADE;
DROP TABLE IF EXISTS recsys_metadata CASCADE;
`

// CreateSchema creates the recommender schema.
func CreateSchema(ctx context.Context, q Queryer) error {
	_, err := q.Exec(ctx, createSchemaSQL)
	return err
}

// DropSchema drops the recommender schema.
func DropSchema(ctx context.Context, q Queryer) error {
	_, err := q.Exec(ctx, dropSchemaSQL)
	return err
}
