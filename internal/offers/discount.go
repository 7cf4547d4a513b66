//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package offers holds the offer catalog types: discount mechanisms with
// their effective-depth formulas, eligibility scopes, and loading of
// active offers with their product attributes.
package offers

import (
	"fmt"
	"math"
)

// DiscountType is the closed set of discount mechanisms.
type DiscountType string

const (
	Percentage  DiscountType = "percentage"
	FixedAmount DiscountType = "fixed_amount"
	BuyXGetY    DiscountType = "buy_x_get_y"
	VolumeBonus DiscountType = "volume_bonus"
	Bundle      DiscountType = "bundle"
	FreeGift    DiscountType = "free_gift"
)

// Heuristic depth constants for mechanisms whose effective discount is not
// derivable from the discount value alone. These feed model features and
// must stay stable across training and scoring.
const (
	buyXGetYDepth    = 0.50
	volumeBonusDepth = 0.25
	bundleDepth      = 0.30
	freeGiftDepth    = 0.20
)

// DiscountDepth returns the effective discount depth in [0,1] for a
// mechanism given its discount value and the product's unit price.
// An unknown mechanism is an error, never a silent zero: the switch below
// is the single source of truth for the formula table.
func DiscountDepth(dt DiscountType, value, price float64) (float64, error) {
	var depth float64
	switch dt {
	case Percentage:
		depth = value / 100.0
	case FixedAmount:
		depth = value / math.Max(price, 0.01)
	case BuyXGetY:
		depth = buyXGetYDepth
	case VolumeBonus:
		depth = volumeBonusDepth
	case Bundle:
		depth = bundleDepth
	case FreeGift:
		depth = freeGiftDepth
	default:
		return 0, fmt.Errorf("unknown discount type: %q", dt)
	}
	return clamp01(depth), nil
}

// Valid reports whether dt is a known discount mechanism.
func (dt DiscountType) Valid() bool {
	switch dt {
	case Percentage, FixedAmount, BuyXGetY, VolumeBonus, Bundle, FreeGift:
		return true
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
