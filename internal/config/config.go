//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package config handles configuration management for pgedge-recommend.
// Configuration is loaded from config files and CLI flags (no environment
// variables). CLI flags take precedence over config file values. The loaded
// Config is treated as immutable and passed by value into each pipeline
// component, so two runs with different configs can coexist in one process.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all configuration for pgedge-recommend.
type Config struct {
	// Connection is the PostgreSQL connection string.
	Connection string `mapstructure:"connection"`

	// LogLevel controls logging verbosity (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`

	// ModelsDir is the directory holding persisted model artifacts.
	ModelsDir string `mapstructure:"models_dir"`

	// Features holds configuration for feature building.
	Features FeaturesConfig `mapstructure:"features"`

	// Candidates holds configuration for candidate generation.
	Candidates CandidatesConfig `mapstructure:"candidates"`

	// Training holds configuration for ranker training.
	Training TrainingConfig `mapstructure:"training"`

	// Scoring holds configuration for candidate scoring.
	Scoring ScoringConfig `mapstructure:"scoring"`

	// Drift holds configuration for drift monitoring.
	Drift DriftConfig `mapstructure:"drift"`

	// Evaluate holds configuration for offline evaluation.
	Evaluate EvaluateConfig `mapstructure:"evaluate"`

	// PriceSensitivity maps a business type to its price sensitivity
	// in [0,1]. Unknown business types fall back to 0.5.
	PriceSensitivity map[string]float64 `mapstructure:"price_sensitivity"`
}

// FeaturesConfig holds configuration for feature building.
type FeaturesConfig struct {
	// LookbackDays is the aggregation window ending at the run date.
	LookbackDays int `mapstructure:"lookback_days"`

	// FreshCategories are the product categories counted as fresh goods
	// for the fresh-category purchase ratio.
	FreshCategories []string `mapstructure:"fresh_categories"`
}

// StrategyLimit pairs a candidate strategy with its per-customer cap.
// Order in the list is the order strategies are applied; the first
// strategy to propose a (customer, offer) pair keeps it.
type StrategyLimit struct {
	Name  string `mapstructure:"name"`
	Limit int    `mapstructure:"limit"`
}

// CandidatesConfig holds configuration for candidate generation.
type CandidatesConfig struct {
	// PoolSize is the maximum number of candidates per customer.
	PoolSize int `mapstructure:"pool_size"`

	// BatchSize is how many customers are processed between inserts.
	BatchSize int `mapstructure:"batch_size"`

	// Strategies is the ordered strategy/cap list. Deployments that do
	// not need the B2B strategies simply omit them here.
	Strategies []StrategyLimit `mapstructure:"strategies"`

	// TierUpgradeThreshold is the tier-3 purchase ratio below which the
	// tier_upgrade strategy targets a customer.
	TierUpgradeThreshold float64 `mapstructure:"tier_upgrade_threshold"`
}

// TrainingConfig holds configuration for ranker training.
type TrainingConfig struct {
	// Seed drives negative downsampling and shuffling for reproducibility.
	Seed int64 `mapstructure:"seed"`

	// NegativeSampleRatio caps negatives at ratio * positives.
	NegativeSampleRatio int `mapstructure:"negative_sample_ratio"`

	// ValidationSplit is the fraction of rows held out for validation.
	ValidationSplit float64 `mapstructure:"validation_split"`

	// AttributionWindowDays is the impression-to-redemption window.
	AttributionWindowDays int `mapstructure:"attribution_window_days"`

	// RetrainWeekday is the day of week for scheduled retraining
	// (0=Sunday .. 6=Saturday, matching time.Weekday).
	RetrainWeekday int `mapstructure:"retrain_weekday"`

	// LogReg holds logistic regression hyperparameters.
	LogReg LogRegConfig `mapstructure:"logreg"`

	// Boosted holds gradient-boosted tree hyperparameters.
	Boosted BoostedConfig `mapstructure:"boosted"`
}

// LogRegConfig holds logistic regression hyperparameters.
type LogRegConfig struct {
	Epochs       int     `mapstructure:"epochs"`
	LearningRate float64 `mapstructure:"learning_rate"`
	L2           float64 `mapstructure:"l2"`
}

// BoostedConfig holds gradient-boosted tree hyperparameters.
type BoostedConfig struct {
	Trees          int     `mapstructure:"trees"`
	MaxDepth       int     `mapstructure:"max_depth"`
	LearningRate   float64 `mapstructure:"learning_rate"`
	MinSamplesLeaf int     `mapstructure:"min_samples_leaf"`
}

// ScoringConfig holds configuration for candidate scoring.
type ScoringConfig struct {
	// TopN is how many recommendations are kept per customer.
	TopN int `mapstructure:"top_n"`
}

// DriftConfig holds configuration for drift monitoring.
type DriftConfig struct {
	// Bins is the number of histogram bins for PSI.
	Bins int `mapstructure:"bins"`

	// WarnThreshold and AlertThreshold are the PSI severity cutoffs.
	WarnThreshold  float64 `mapstructure:"warn_threshold"`
	AlertThreshold float64 `mapstructure:"alert_threshold"`

	// RetrainMinFeatures is how many alert-level features trigger a
	// retrain recommendation.
	RetrainMinFeatures int `mapstructure:"retrain_min_features"`

	// Features are the monitored customer feature columns.
	Features []string `mapstructure:"features"`
}

// EvaluateConfig holds configuration for offline evaluation.
type EvaluateConfig struct {
	// K is the ranking cutoff for the @K metrics.
	K int `mapstructure:"k"`

	// ForwardWindowDays is the forward ground-truth window.
	ForwardWindowDays int `mapstructure:"forward_window_days"`

	// MinForwardRedemptions is the redemption count under which the
	// evaluator falls back to the backward window.
	MinForwardRedemptions int `mapstructure:"min_forward_redemptions"`

	// BackwardWindowDays is the fallback lookback window.
	BackwardWindowDays int `mapstructure:"backward_window_days"`

	// BaselineSeed seeds the random top-K baseline.
	BaselineSeed int64 `mapstructure:"baseline_seed"`
}

// Strategy names understood by the candidate generator.
const (
	StrategyCategoryAffinity = "category_affinity"
	StrategySegmentPopular   = "segment_popular"
	StrategyRepeatPurchase   = "repeat_purchase"
	StrategyHighMargin       = "high_margin"
	StrategyTierUpgrade      = "tier_upgrade"
	StrategyCrossSell        = "cross_sell"
	StrategyOwnBrand         = "own_brand"
)

// DefaultConfig returns a Config with default values (the B2B deployment).
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		ModelsDir: "models",
		Features: FeaturesConfig{
			LookbackDays: 90,
			FreshCategories: []string{
				"dairy", "produce", "bakery", "meat", "seafood", "deli",
			},
		},
		Candidates: CandidatesConfig{
			PoolSize:  200,
			BatchSize: 5000,
			Strategies: []StrategyLimit{
				{Name: StrategyCategoryAffinity, Limit: 70},
				{Name: StrategySegmentPopular, Limit: 50},
				{Name: StrategyRepeatPurchase, Limit: 35},
				{Name: StrategyHighMargin, Limit: 20},
				{Name: StrategyTierUpgrade, Limit: 20},
				{Name: StrategyCrossSell, Limit: 15},
				{Name: StrategyOwnBrand, Limit: 15},
			},
			TierUpgradeThreshold: 0.3,
		},
		Training: TrainingConfig{
			Seed:                  42,
			NegativeSampleRatio:   4,
			ValidationSplit:       0.2,
			AttributionWindowDays: 7,
			RetrainWeekday:        1, // Monday
			LogReg: LogRegConfig{
				Epochs:       30,
				LearningRate: 0.1,
				L2:           1e-4,
			},
			Boosted: BoostedConfig{
				Trees:          50,
				MaxDepth:       3,
				LearningRate:   0.1,
				MinSamplesLeaf: 20,
			},
		},
		Scoring: ScoringConfig{
			TopN: 10,
		},
		Drift: DriftConfig{
			Bins:               10,
			WarnThreshold:      0.10,
			AlertThreshold:     0.25,
			RetrainMinFeatures: 3,
			Features: []string{
				"recency_days", "frequency", "monetary",
				"promo_affinity", "avg_basket_size", "avg_discount_depth",
			},
		},
		Evaluate: EvaluateConfig{
			K:                     10,
			ForwardWindowDays:     7,
			MinForwardRedemptions: 50,
			BackwardWindowDays:    30,
			BaselineSeed:          0,
		},
		PriceSensitivity: map[string]float64{
			"horeca": 0.30,
			"kiosk":  0.85,
			"office": 0.55,
			"trader": 0.40,
		},
	}
}

// Load reads configuration from config files.
// Config file locations (in order of precedence):
// 1. Path specified by configFile parameter
// 2. ./pgedge-recommend.yaml
// 3. ~/.config/pgedge-recommend/config.yaml
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("pgedge-recommend")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "pgedge-recommend"))
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Connection == "" {
		return fmt.Errorf("connection string is required")
	}
	if c.Candidates.PoolSize < 1 {
		return fmt.Errorf("candidate pool_size must be at least 1")
	}
	if c.Candidates.BatchSize < 1 {
		return fmt.Errorf("candidate batch_size must be at least 1")
	}
	if len(c.Candidates.Strategies) == 0 {
		return fmt.Errorf("at least one candidate strategy is required")
	}
	known := map[string]bool{
		StrategyCategoryAffinity: true,
		StrategySegmentPopular:   true,
		StrategyRepeatPurchase:   true,
		StrategyHighMargin:       true,
		StrategyTierUpgrade:      true,
		StrategyCrossSell:        true,
		StrategyOwnBrand:         true,
	}
	for _, s := range c.Candidates.Strategies {
		if !known[s.Name] {
			return fmt.Errorf("unknown candidate strategy: %s", s.Name)
		}
		if s.Limit < 1 {
			return fmt.Errorf("strategy %s limit must be at least 1", s.Name)
		}
	}
	if c.Features.LookbackDays < 1 {
		return fmt.Errorf("feature lookback_days must be at least 1")
	}
	if c.Scoring.TopN < 1 {
		return fmt.Errorf("scoring top_n must be at least 1")
	}
	if c.Training.NegativeSampleRatio < 1 {
		return fmt.Errorf("negative_sample_ratio must be at least 1")
	}
	if c.Training.ValidationSplit <= 0 || c.Training.ValidationSplit >= 1 {
		return fmt.Errorf("validation_split must be in (0,1)")
	}
	if c.Drift.Bins < 2 {
		return fmt.Errorf("drift bins must be at least 2")
	}
	if c.Drift.AlertThreshold < c.Drift.WarnThreshold {
		return fmt.Errorf("drift alert_threshold must be >= warn_threshold")
	}
	return nil
}

// SensitivityFor returns the price sensitivity for a business type,
// falling back to 0.5 for unknown types.
func (c *Config) SensitivityFor(businessType string) float64 {
	if s, ok := c.PriceSensitivity[businessType]; ok {
		return s
	}
	return 0.5
}
