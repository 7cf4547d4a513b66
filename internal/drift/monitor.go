//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package drift

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pgEdge/pgedge-recommend/internal/config"
	"github.com/pgEdge/pgedge-recommend/internal/db"
	"github.com/pgEdge/pgedge-recommend/internal/logging"
)

// Result is one monitored feature's PSI reading for a run.
type Result struct {
	Feature  string  `json:"feature"`
	PSI      float64 `json:"psi"`
	Severity string  `json:"severity"`
}

// monitoredFeatures is the set of customer_features columns the monitor
// understands. Config selects a subset by name; unknown names are
// skipped with a warning.
var monitoredFeatures = map[string]struct{}{
	"recency_days":         {},
	"frequency":            {},
	"monetary":             {},
	"promo_affinity":       {},
	"avg_basket_size":      {},
	"avg_basket_quantity":  {},
	"category_entropy":     {},
	"avg_discount_depth":   {},
	"tier2_purchase_ratio": {},
	"tier3_purchase_ratio": {},
	"fresh_category_ratio": {},
	"business_order_ratio": {},
}

// BuildBaselines snapshots the current customer_features distribution
// of every configured drift feature as histograms. The trainer calls
// this at train time and stores the result in the model artifact.
func BuildBaselines(ctx context.Context, q db.Queryer, cfg *config.Config) (map[string]Histogram, error) {
	baselines := make(map[string]Histogram, len(cfg.Drift.Features))
	for _, feature := range cfg.Drift.Features {
		values, err := loadFeatureValues(ctx, q, feature)
		if err != nil {
			return nil, err
		}
		if values == nil {
			continue
		}
		baselines[feature] = NewHistogram(values, cfg.Drift.Bins)
	}
	return baselines, nil
}

// Check compares the current customer_features distributions against
// the training-time baselines, writes one drift_log row per monitored
// feature, and returns every non-ok reading. A nil or empty baselines
// map (no model trained yet) yields an empty result without error.
func Check(ctx context.Context, q db.Queryer, cfg *config.Config, runDate time.Time, baselines map[string]Histogram) ([]Result, error) {
	if len(baselines) == 0 {
		logging.Warn().Msg("No drift baselines available; skipping drift check")
		return []Result{}, nil
	}

	logging.Info().Time("run_date", runDate).Msg("Checking feature drift")

	alerts := []Result{}
	for _, feature := range cfg.Drift.Features {
		baseline, ok := baselines[feature]
		if !ok {
			continue
		}
		values, err := loadFeatureValues(ctx, q, feature)
		if err != nil {
			return nil, err
		}

		psi := round4(PSI(baseline, values))
		severity := SeverityFor(psi, cfg.Drift.WarnThreshold, cfg.Drift.AlertThreshold)

		if _, err := q.Exec(ctx, `
            INSERT INTO drift_log (run_date, feature_name, psi_value, severity)
            VALUES ($1, $2, $3, $4)
        `, runDate, feature, psi, severity); err != nil {
			return nil, fmt.Errorf("failed to log drift for %s: %w", feature, err)
		}

		if severity != SeverityOK {
			alerts = append(alerts, Result{Feature: feature, PSI: psi, Severity: severity})
			ev := logging.Info()
			if severity == SeverityAlert {
				ev = logging.Warn()
			}
			ev.Str("feature", feature).Float64("psi", psi).Str("severity", severity).Msg("Feature drift")
		}
	}

	if len(alerts) == 0 {
		logging.Info().Msg("No drift detected")
	} else {
		logging.Info().Int("features", len(alerts)).Msg("Drift detected")
	}
	return alerts, nil
}

// ShouldRetrain reports whether enough features raised alerts to
// recommend retraining ahead of schedule.
func ShouldRetrain(cfg *config.Config, alerts []Result) bool {
	n := 0
	for _, a := range alerts {
		if a.Severity == SeverityAlert {
			n++
		}
	}
	return n >= cfg.Drift.RetrainMinFeatures
}

// History returns the most recent drift_log rows, newest run first.
func History(ctx context.Context, q db.Queryer, limit int) ([]Result, []time.Time, error) {
	rows, err := q.Query(ctx, `
        SELECT run_date, feature_name, psi_value, severity
        FROM drift_log
        ORDER BY run_date DESC, feature_name
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query drift history: %w", err)
	}
	defer rows.Close()

	var (
		results []Result
		dates   []time.Time
	)
	for rows.Next() {
		var (
			r Result
			d time.Time
		)
		if err := rows.Scan(&d, &r.Feature, &r.PSI, &r.Severity); err != nil {
			return nil, nil, err
		}
		results = append(results, r)
		dates = append(dates, d)
	}
	return results, dates, rows.Err()
}

// loadFeatureValues reads one monitored column from customer_features.
// The column name is validated against a fixed allowlist before being
// interpolated into SQL.
func loadFeatureValues(ctx context.Context, q db.Queryer, feature string) ([]float64, error) {
	if _, ok := monitoredFeatures[feature]; !ok {
		logging.Warn().Str("feature", feature).Msg("Unknown drift feature; skipping")
		return nil, nil
	}

	rows, err := q.Query(ctx, fmt.Sprintf(
		`SELECT %s::double precision FROM customer_features`, feature))
	if err != nil {
		return nil, fmt.Errorf("failed to query feature %s: %w", feature, err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
