//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgEdge/pgedge-recommend/internal/db"
	"github.com/pgEdge/pgedge-recommend/internal/logging"
	"github.com/pgEdge/pgedge-recommend/internal/seed"
)

var (
	initDropExisting bool
	initSeed         bool
	initSeedDate     string
	initCustomers    int
	initProducts     int
	initOffers       int
	initHistoryDays  int
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a database with the recommender schema",
	Long: `Initialize a PostgreSQL database with the recommender schema.
With --seed, a deterministic synthetic fixture (customers, catalog,
offers, purchase history) is generated so the pipeline can run end to
end without production data.

Example:
  pgedge-recommend init --connection "postgres://..." --seed --seed-date 2026-02-11`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initDropExisting, "drop-existing", false,
		"drop existing schema before initialization")
	initCmd.Flags().BoolVar(&initSeed, "seed", false,
		"populate the schema with synthetic fixture data")
	initCmd.Flags().StringVar(&initSeedDate, "seed-date", "",
		"end date of the generated history, YYYY-MM-DD (default: today)")
	initCmd.Flags().IntVar(&initCustomers, "customers", 0,
		"number of fixture customers")
	initCmd.Flags().IntVar(&initProducts, "products", 0,
		"number of fixture products")
	initCmd.Flags().IntVar(&initOffers, "offers", 0,
		"number of fixture offers")
	initCmd.Flags().IntVar(&initHistoryDays, "history-days", 0,
		"days of fixture history")
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Connection)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	exists, err := db.MetadataExists(ctx, pool)
	if err == nil && exists && !initDropExisting {
		return fmt.Errorf("database is already initialized; use --drop-existing to reinitialize")
	}

	if initDropExisting {
		logging.Info().Msg("Dropping existing schema")
		if err := db.DropSchema(ctx, pool); err != nil {
			return fmt.Errorf("failed to drop schema: %w", err)
		}
	}

	logging.Info().Msg("Creating schema")
	if err := db.CreateSchema(ctx, pool); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	seeded := false
	if initSeed {
		endDate := time.Now().UTC().Truncate(24 * time.Hour)
		if initSeedDate != "" {
			endDate, err = parseDate(initSeedDate)
			if err != nil {
				return err
			}
		}
		scale := seed.DefaultScale()
		if initCustomers > 0 {
			scale.Customers = initCustomers
		}
		if initProducts > 0 {
			scale.Products = initProducts
		}
		if initOffers > 0 {
			scale.Offers = initOffers
		}
		if initHistoryDays > 0 {
			scale.HistoryDays = initHistoryDays
		}
		if err := seed.Run(ctx, pool, scale, endDate); err != nil {
			return fmt.Errorf("failed to seed fixture data: %w", err)
		}
		seeded = true
	}

	if err := db.SaveMetadata(ctx, pool, seeded); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}

	logging.Info().Bool("seeded", seeded).Msg("Database initialized")
	return nil
}

// parseDate parses a YYYY-MM-DD calendar date.
func parseDate(s string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD): %w", s, err)
	}
	return d, nil
}
