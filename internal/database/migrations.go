// File: internal/database/migrations.go
// Project: Coldport
// Description: First-boot schema application and legacy-shape detection
package database

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

//go:embed seed.sql
var seedSQL string

// Bootstrap applies schema.sql and seed.sql exactly once: on a fresh store,
// detected by the absence of the config table. A store that already has a
// config table but is missing schema_meta predates this schema entirely and
// is refused rather than silently migrated, since there is no safe
// translation path from an unversioned layout.
func (db *DB) Bootstrap(ctx context.Context) error {
	hasConfig, err := db.tableExists(ctx, "config")
	if err != nil {
		return fmt.Errorf("failed to inspect store: %w", err)
	}

	if hasConfig {
		hasMeta, err := db.tableExists(ctx, "schema_meta")
		if err != nil {
			return fmt.Errorf("failed to inspect store: %w", err)
		}
		if !hasMeta {
			return fmt.Errorf("store at %s has a config table but no schema_meta: " +
				"this looks like a pre-Coldport layout and won't be migrated automatically", db.path)
		}
		log.Info("Store already bootstrapped, skipping schema/seed")
		return nil
	}

	log.Info("Fresh store detected, applying schema and seed")
	return db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, seedSQL); err != nil {
			return fmt.Errorf("failed to apply seed data: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO config (key, value) VALUES ('server_port', '2002'), ('s2s_port', '2003')`); err != nil {
			return fmt.Errorf("failed to seed default config: %w", err)
		}
		return nil
	})
}

func (db *DB) tableExists(ctx context.Context, name string) (bool, error) {
	row := db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, name)
	var found string
	if err := row.Scan(&found); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
