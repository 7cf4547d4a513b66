//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package evaluate computes offline ranking metrics for a run's
// recommendations against redeemed offers.
package evaluate

import (
	"math"
	"sort"
)

// NDCGAtK computes normalized discounted cumulative gain for one
// customer's binary relevance list, ordered by rank.
func NDCGAtK(relevance []int, k int) float64 {
	if k < len(relevance) {
		relevance = relevance[:k]
	}
	dcg := 0.0
	for i, rel := range relevance {
		dcg += float64(rel) / math.Log2(float64(i+2))
	}

	ideal := make([]int, len(relevance))
	copy(ideal, relevance)
	sort.Sort(sort.Reverse(sort.IntSlice(ideal)))
	idcg := 0.0
	for i, rel := range ideal {
		idcg += float64(rel) / math.Log2(float64(i+2))
	}
	if idcg == 0 {
		return 0.0
	}
	return dcg / idcg
}

// PrecisionAtK is the fraction of the top-k slots holding a relevant
// offer. The denominator is k even when fewer than k offers were
// recommended.
func PrecisionAtK(relevance []int, k int) float64 {
	if k < len(relevance) {
		relevance = relevance[:k]
	}
	hits := 0
	for _, rel := range relevance {
		hits += rel
	}
	if k == 0 {
		return 0.0
	}
	return float64(hits) / float64(k)
}

// RecallAtK is the fraction of the customer's relevant offers appearing
// in the top k. Zero relevant offers yields 0.
func RecallAtK(relevance []int, k, nRelevant int) float64 {
	if nRelevant == 0 {
		return 0.0
	}
	if k < len(relevance) {
		relevance = relevance[:k]
	}
	hits := 0
	for _, rel := range relevance {
		hits += rel
	}
	return float64(hits) / float64(nRelevant)
}

// ReciprocalRank is 1/position of the first relevant offer, or 0 when
// none is relevant.
func ReciprocalRank(relevance []int) float64 {
	for i, rel := range relevance {
		if rel == 1 {
			return 1.0 / float64(i+1)
		}
	}
	return 0.0
}
