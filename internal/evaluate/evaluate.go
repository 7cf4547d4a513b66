//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package evaluate

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/pgEdge/pgedge-recommend/internal/config"
	"github.com/pgEdge/pgedge-recommend/internal/db"
	"github.com/pgEdge/pgedge-recommend/internal/logging"
)

// Metric name keys in the result map.
const (
	KeyNDCG               = "ndcg_at_k"
	KeyPrecision          = "precision_at_k"
	KeyRecall             = "recall_at_k"
	KeyMRR                = "mrr"
	KeyRedemptionRate     = "redemption_rate_at_k"
	KeyCustomersEvaluated = "n_customers_evaluated"
	KeyCustomersRedeemed  = "n_customers_with_redemption"
	KeyK                  = "k"
)

// Run computes NDCG@K, Precision@K, Recall@K, MRR, and redemption
// rate@K for runDate's recommendations against redemptions in the
// forward window; when too few forward redemptions exist (a run near
// the end of recorded history), a backward window is used instead. A
// seeded random top-K baseline is reported alongside, with lift ratios.
// No recommendations for the date yields an empty map.
func Run(ctx context.Context, q db.Queryer, cfg *config.Config, runDate time.Time) (map[string]float64, error) {
	k := cfg.Evaluate.K
	logging.Info().Time("run_date", runDate).Int("k", k).Msg("Computing offline metrics")

	recs, err := loadRecommendations(ctx, q, runDate)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		logging.Warn().Time("run_date", runDate).Msg("No recommendations to evaluate")
		return map[string]float64{}, nil
	}

	truth, err := loadGroundTruth(ctx, q, cfg, runDate)
	if err != nil {
		return nil, err
	}

	var (
		ndcgSum, precSum, recallSum, rrSum float64
		nCustomers, nRedeemed              int
	)
	for _, rec := range recs {
		relevant := truth[rec.customerID]
		relevance := make([]int, len(rec.offers))
		for i, oid := range rec.offers {
			if _, ok := relevant[oid]; ok {
				relevance[i] = 1
			}
		}

		ndcgSum += NDCGAtK(relevance, k)
		precSum += PrecisionAtK(relevance, k)
		recallSum += RecallAtK(relevance, k, len(relevant))
		rr := ReciprocalRank(relevance)
		rrSum += rr
		if rr > 0 {
			nRedeemed++
		}
		nCustomers++
	}

	n := float64(nCustomers)
	metrics := map[string]float64{
		KeyNDCG:               round4(ndcgSum / n),
		KeyPrecision:          round4(precSum / n),
		KeyRecall:             round4(recallSum / n),
		KeyMRR:                round4(rrSum / n),
		KeyRedemptionRate:     round4(float64(nRedeemed) / n),
		KeyCustomersEvaluated: n,
		KeyCustomersRedeemed:  float64(nRedeemed),
		KeyK:                  float64(k),
	}

	baseline, err := randomBaseline(ctx, q, cfg, runDate, recs, truth)
	if err != nil {
		return nil, err
	}
	for key, val := range baseline {
		metrics["random_"+key] = val
	}
	if baseline[KeyNDCG] > 0 {
		metrics["ndcg_lift"] = round2(metrics[KeyNDCG] / baseline[KeyNDCG])
	}
	if baseline[KeyRedemptionRate] > 0 {
		metrics["redemption_rate_lift"] = round2(metrics[KeyRedemptionRate] / baseline[KeyRedemptionRate])
	}

	logging.Info().
		Float64("ndcg", metrics[KeyNDCG]).
		Float64("precision", metrics[KeyPrecision]).
		Float64("recall", metrics[KeyRecall]).
		Float64("mrr", metrics[KeyMRR]).
		Float64("redemption_rate", metrics[KeyRedemptionRate]).
		Msg("Offline metrics computed")
	return metrics, nil
}

// customerRecs is one customer's recommended offers in rank order.
type customerRecs struct {
	customerID int64
	offers     []int64
}

func loadRecommendations(ctx context.Context, q db.Queryer, runDate time.Time) ([]customerRecs, error) {
	rows, err := q.Query(ctx, `
        SELECT customer_id, offer_id
        FROM recommendations
        WHERE run_date = $1
        ORDER BY customer_id, rank
    `, runDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendations: %w", err)
	}
	defer rows.Close()

	var recs []customerRecs
	for rows.Next() {
		var cid, oid int64
		if err := rows.Scan(&cid, &oid); err != nil {
			return nil, err
		}
		if len(recs) == 0 || recs[len(recs)-1].customerID != cid {
			recs = append(recs, customerRecs{customerID: cid})
		}
		recs[len(recs)-1].offers = append(recs[len(recs)-1].offers, oid)
	}
	return recs, rows.Err()
}

// loadGroundTruth returns customer -> redeemed offers, preferring the
// forward attribution window and falling back to the backward window
// when the forward one is too sparse.
func loadGroundTruth(ctx context.Context, q db.Queryer, cfg *config.Config, runDate time.Time) (map[int64]map[int64]struct{}, error) {
	truth, n, err := redemptionsBetween(ctx, q,
		runDate, runDate.AddDate(0, 0, cfg.Evaluate.ForwardWindowDays))
	if err != nil {
		return nil, err
	}
	if n < cfg.Evaluate.MinForwardRedemptions {
		logging.Info().
			Int("forward_redemptions", n).
			Int("backward_days", cfg.Evaluate.BackwardWindowDays).
			Msg("Sparse forward window; using backward ground truth")
		truth, _, err = redemptionsBetween(ctx, q,
			runDate.AddDate(0, 0, -cfg.Evaluate.BackwardWindowDays), runDate)
		if err != nil {
			return nil, err
		}
	}
	return truth, nil
}

func redemptionsBetween(ctx context.Context, q db.Queryer, from, to time.Time) (map[int64]map[int64]struct{}, int, error) {
	rows, err := q.Query(ctx, `
        SELECT DISTINCT customer_id, offer_id
        FROM redemptions
        WHERE redeemed_date >= $1::date AND redeemed_date <= $2::date
    `, from, to)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query redemptions: %w", err)
	}
	defer rows.Close()

	truth := make(map[int64]map[int64]struct{})
	n := 0
	for rows.Next() {
		var cid, oid int64
		if err := rows.Scan(&cid, &oid); err != nil {
			return nil, 0, err
		}
		if truth[cid] == nil {
			truth[cid] = make(map[int64]struct{})
		}
		truth[cid][oid] = struct{}{}
		n++
	}
	return truth, n, rows.Err()
}

// randomBaseline scores a seeded random top-K recommender over the same
// customers and ground truth.
func randomBaseline(ctx context.Context, q db.Queryer, cfg *config.Config, runDate time.Time, recs []customerRecs, truth map[int64]map[int64]struct{}) (map[string]float64, error) {
	rows, err := q.Query(ctx, `
        SELECT offer_id FROM offers
        WHERE start_date <= $1 AND end_date >= $1
        ORDER BY offer_id
    `, runDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query active offers: %w", err)
	}
	defer rows.Close()

	var active []int64
	for rows.Next() {
		var oid int64
		if err := rows.Scan(&oid); err != nil {
			return nil, err
		}
		active = append(active, oid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return map[string]float64{KeyNDCG: 0.0, KeyRedemptionRate: 0.0}, nil
	}

	k := cfg.Evaluate.K
	rng := rand.New(rand.NewSource(cfg.Evaluate.BaselineSeed))

	var ndcgSum float64
	nRedeemed := 0
	for _, rec := range recs {
		size := k
		if size > len(active) {
			size = len(active)
		}
		perm := rng.Perm(len(active))[:size]
		relevant := truth[rec.customerID]
		relevance := make([]int, size)
		hit := false
		for i, idx := range perm {
			if _, ok := relevant[active[idx]]; ok {
				relevance[i] = 1
				hit = true
			}
		}
		ndcgSum += NDCGAtK(relevance, k)
		if hit {
			nRedeemed++
		}
	}

	n := float64(len(recs))
	return map[string]float64{
		KeyNDCG:           round4(ndcgSum / n),
		KeyRedemptionRate: round4(float64(nRedeemed) / n),
	}, nil
}

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
