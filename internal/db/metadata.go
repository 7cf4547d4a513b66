//-------------------------------------------------------------------------
//
// pgEdge Offer Recommender
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/pgEdge/pgedge-recommend/internal/logging"
	"github.com/pgEdge/pgedge-recommend/pkg/version"
)

const metadataTable = "recsys_metadata"

const createMetadataTableSQL = `
CREATE TABLE IF NOT EXISTS recsys_metadata (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`

// SaveMetadata records how the database was initialized.
func SaveMetadata(ctx context.Context, q Queryer, seeded bool) error {
	_, err := q.Exec(ctx, createMetadataTableSQL)
	if err != nil {
		return fmt.Errorf("failed to create metadata table: %w", err)
	}

	metadata := map[string]string{
		"version":        version.Short(),
		"initialized_at": time.Now().UTC().Format(time.RFC3339),
		"seeded":         fmt.Sprintf("%t", seeded),
	}

	for key, value := range metadata {
		_, err := q.Exec(ctx, `
            INSERT INTO recsys_metadata (key, value) VALUES ($1, $2)
            ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
        `, key, value)
		if err != nil {
			return fmt.Errorf("failed to save metadata %s: %w", key, err)
		}
	}

	logging.Debug().Bool("seeded", seeded).Msg("Saved metadata")
	return nil
}

// GetMetadataValue retrieves a single metadata value by key.
func GetMetadataValue(ctx context.Context, q Queryer, key string) (string, error) {
	var value string
	err := q.QueryRow(ctx, `
        SELECT value FROM recsys_metadata WHERE key = $1
    `, key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

// MetadataExists checks if the metadata table exists, which indicates the
// database has been initialized.
func MetadataExists(ctx context.Context, q Queryer) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT FROM information_schema.tables
            WHERE table_name = $1
        )
    `, metadataTable).Scan(&exists)
	return exists, err
}
