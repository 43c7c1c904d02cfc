// File: internal/npc/npc_test.go
// Project: Coldport
// Description: Tests for NPC faction territory stepping
package npc

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/coldport/coldport-server/internal/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(&database.Config{
		Path:          filepath.Join(t.TempDir(), "coldport_test.db"),
		BusyTimeoutMS: 5000,
		MaxOpenConns:  4,
	})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Bootstrap(context.Background()); err != nil {
		t.Fatalf("failed to bootstrap test store: %v", err)
	}
	return db
}

func TestStepGrowsOwnedPlanetResources(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var factionID int64
	res, err := db.ExecContext(ctx,
		`INSERT INTO npc_factions (name, behavior, home_sector, aggression) VALUES ('Raiders', 'raider', 1, 0)`)
	if err != nil {
		t.Fatalf("failed to seed faction: %v", err)
	}
	factionID, _ = res.LastInsertId()

	if _, err := db.ExecContext(ctx, `
		INSERT INTO planets (id, sector, owner_type, owner_id, class, ore_on_hand, organics_on_hand, equipment_on_hand)
		VALUES (901, 1, 'npc_faction', ?, 'M', 0, 0, 0)`, factionID); err != nil {
		t.Fatalf("failed to seed planet: %v", err)
	}

	if err := db.WithTransaction(ctx, func(tx *sql.Tx) error {
		return Step(ctx, tx)
	}); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	var ore, organics, equipment int64
	if err := db.QueryRowContext(ctx,
		`SELECT ore_on_hand, organics_on_hand, equipment_on_hand FROM planets WHERE id = 901`).
		Scan(&ore, &organics, &equipment); err != nil {
		t.Fatalf("failed to read planet: %v", err)
	}
	if ore != 10 || organics != 10 || equipment != 5 {
		t.Errorf("planet resources = (%d,%d,%d), want (10,10,5)", ore, organics, equipment)
	}
}

func TestStepSkipsDisabledFactions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	res, err := db.ExecContext(ctx,
		`INSERT INTO npc_factions (name, behavior, home_sector, aggression, enabled) VALUES ('Dormant', 'trader', 2, 0, 0)`)
	if err != nil {
		t.Fatalf("failed to seed faction: %v", err)
	}
	factionID, _ := res.LastInsertId()

	if _, err := db.ExecContext(ctx, `
		INSERT INTO planets (id, sector, owner_type, owner_id, class, ore_on_hand)
		VALUES (902, 2, 'npc_faction', ?, 'M', 0)`, factionID); err != nil {
		t.Fatalf("failed to seed planet: %v", err)
	}

	if err := db.WithTransaction(ctx, func(tx *sql.Tx) error {
		return Step(ctx, tx)
	}); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	var ore int64
	db.QueryRowContext(ctx, `SELECT ore_on_hand FROM planets WHERE id = 902`).Scan(&ore)
	if ore != 0 {
		t.Errorf("a disabled faction's planet gained resources: ore_on_hand = %d, want 0", ore)
	}
}

func TestStepWithNoFactionsIsANoop(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.WithTransaction(ctx, func(tx *sql.Tx) error {
		return Step(ctx, tx)
	}); err != nil {
		t.Fatalf("Step on an empty faction table should not error, got: %v", err)
	}
}
