//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package cli implements the command-line interface for pgedge-recommend.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/pgEdge/pgedge-recommend/internal/config"
	"github.com/pgEdge/pgedge-recommend/internal/logging"
	"github.com/pgEdge/pgedge-recommend/pkg/version"
)

var (
	// Global flags
	cfgFile    string
	connection string
	logLevel   string
	modelsDir  string

	// Global config
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "pgedge-recommend",
		Short: "Batch offer recommender for wholesale customers",
		Long: `pgedge-recommend is a batch recommendation pipeline for B2B wholesale
promotions. Each run derives customer, offer, and pairwise features from
purchase history in PostgreSQL, retrieves eligible offer candidates per
customer through a set of heuristic strategies, ranks them with a trained
redemption model, and writes top-N recommendations back to the database.

The pipeline also monitors feature drift (PSI) against the model's
training population and reports offline ranking metrics (NDCG, MRR,
precision/recall) against observed redemptions.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./pgedge-recommend.yaml)")
	rootCmd.PersistentFlags().StringVar(&connection, "connection", "",
		"PostgreSQL connection string")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&modelsDir, "models-dir", "",
		"directory for model artifacts")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(driftCmd)
}

func initConfig() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Override with CLI flags
	if connection != "" {
		cfg.Connection = connection
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if modelsDir != "" {
		cfg.ModelsDir = modelsDir
	}

	// Reinitialize logger with config
	logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version.Info())
	},
}
