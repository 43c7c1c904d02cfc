// File: internal/handlers/events.go
// Project: Coldport
// Description: engine_events append helper shared by every handler
package handlers

import (
	"context"
	"database/sql"
)

// appendEvent inserts one append-only audit/news row. idemKey may be nil.
func appendEvent(ctx context.Context, tx *sql.Tx, eventType string, actorPlayerID, sectorID *int64, payload string, idemKey *string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO engine_events (type, actor_player_id, sector_id, payload, idem_key) VALUES (?, ?, ?, ?, ?)`,
		eventType, actorPlayerID, sectorID, payload, idemKey)
	return err
}

func ptr(v int64) *int64 { return &v }
