//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package drift monitors feature distribution shift with the Population
// Stability Index. Baseline histograms are captured at train time and
// carried inside the model artifact, so drift is always measured against
// the population the model actually saw.
package drift

import (
	"math"
)

// Severity labels for a PSI reading.
const (
	SeverityOK    = "ok"
	SeverityWarn  = "warn"
	SeverityAlert = "alert"
)

// Histogram is an equal-width histogram over a feature's values. Edges
// has len(Counts)+1 entries; the last bin is closed on both sides.
type Histogram struct {
	Edges  []float64 `json:"edges"`
	Counts []int64   `json:"counts"`
}

// NewHistogram bins values into bins equal-width buckets spanning
// [min, max]. A degenerate sample (all values equal, or empty) gets a
// unit-width range around the value so proportions stay well defined.
func NewHistogram(values []float64, bins int) Histogram {
	lo, hi := 0.0, 0.0
	if len(values) > 0 {
		lo, hi = values[0], values[0]
		for _, v := range values[1:] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	if lo == hi {
		lo -= 0.5
		hi += 0.5
	}

	h := Histogram{
		Edges:  make([]float64, bins+1),
		Counts: make([]int64, bins),
	}
	width := (hi - lo) / float64(bins)
	for i := 0; i <= bins; i++ {
		h.Edges[i] = lo + width*float64(i)
	}
	h.Edges[bins] = hi
	for _, v := range values {
		if i, ok := h.binIndex(v); ok {
			h.Counts[i]++
		}
	}
	return h
}

// binIndex maps a value to its bin; values outside [Edges[0], Edges[n]]
// are excluded rather than clamped.
func (h Histogram) binIndex(v float64) (int, bool) {
	n := len(h.Counts)
	lo, hi := h.Edges[0], h.Edges[n]
	if v < lo || v > hi {
		return 0, false
	}
	if v == hi {
		return n - 1, true
	}
	i := int((v - lo) / (hi - lo) * float64(n))
	if i >= n {
		i = n - 1
	}
	return i, true
}

// total returns the number of binned observations.
func (h Histogram) total() int64 {
	var t int64
	for _, c := range h.Counts {
		t += c
	}
	return t
}

// PSI computes the Population Stability Index of current values against
// a baseline histogram. Current values are binned with the baseline's
// edges. Proportions get 1e-4 additive smoothing so empty bins never
// produce log(0); the result is floored at 0.
//
//	PSI = sum( (cur_pct - base_pct) * ln(cur_pct / base_pct) )
func PSI(baseline Histogram, current []float64) float64 {
	n := len(baseline.Counts)
	if n == 0 || baseline.total() == 0 || len(current) == 0 {
		return 0.0
	}

	curCounts := make([]int64, n)
	for _, v := range current {
		if i, ok := baseline.binIndex(v); ok {
			curCounts[i]++
		}
	}
	var curTotal int64
	for _, c := range curCounts {
		curTotal += c
	}
	if curTotal == 0 {
		return 0.0
	}

	const eps = 1e-4
	baseTotal := float64(baseline.total()) + eps*float64(n)
	curDenom := float64(curTotal) + eps*float64(n)

	psi := 0.0
	for i := 0; i < n; i++ {
		basePct := (float64(baseline.Counts[i]) + eps) / baseTotal
		curPct := (float64(curCounts[i]) + eps) / curDenom
		psi += (curPct - basePct) * math.Log(curPct/basePct)
	}
	return math.Max(0.0, psi)
}

// ComputePSI is the two-sample form: the baseline sample defines the
// bin edges, then both samples are compared bin by bin.
func ComputePSI(baseline, current []float64, bins int) float64 {
	if len(baseline) == 0 || len(current) == 0 {
		return 0.0
	}
	return PSI(NewHistogram(baseline, bins), current)
}

// SeverityFor maps a PSI value to a severity label given the two
// thresholds (typically 0.10 and 0.25).
func SeverityFor(psi, warnThreshold, alertThreshold float64) string {
	switch {
	case psi >= alertThreshold:
		return SeverityAlert
	case psi >= warnThreshold:
		return SeverityWarn
	default:
		return SeverityOK
	}
}
