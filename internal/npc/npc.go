// File: internal/npc/npc.go
// Project: Coldport
// Description: Periodic NPC faction stepping, invoked by the npc_step cron
//              task. Factions do not pilot ships in this schema; they hold
//              territory (planets with owner_type='npc_faction') and accrue
//              income from it scaled by aggression.
package npc

import (
	"context"
	"database/sql"
	"math/rand"
)

type faction struct {
	ID         int64
	Aggression int64
}

// Step advances every enabled faction by one tick: planets they own produce
// a small amount of additional resources, and, with a chance equal to the
// faction's aggression percentage, one of its own planets gains 5 fighters.
func Step(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, aggression FROM npc_factions WHERE enabled = 1`)
	if err != nil {
		return err
	}
	var factions []faction
	for rows.Next() {
		var f faction
		if err := rows.Scan(&f.ID, &f.Aggression); err != nil {
			rows.Close()
			return err
		}
		factions = append(factions, f)
	}
	rows.Close()

	for _, f := range factions {
		if err := growFactionPlanets(ctx, tx, f); err != nil {
			return err
		}
		if err := raidIfAggressive(ctx, tx, f); err != nil {
			return err
		}
	}
	return nil
}

func growFactionPlanets(ctx context.Context, tx *sql.Tx, f faction) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE planets
		SET ore_on_hand = ore_on_hand + 10, organics_on_hand = organics_on_hand + 10,
		    equipment_on_hand = equipment_on_hand + 5
		WHERE owner_type = 'npc_faction' AND owner_id = ?`, f.ID)
	return err
}

// raidIfAggressive has an aggression-percent chance (0-100) of adding 5
// fighters to one randomly chosen planet the faction owns, to simulate
// garrison rotation rather than sitting idle.
func raidIfAggressive(ctx context.Context, tx *sql.Tx, f faction) error {
	if f.Aggression <= 0 {
		return nil
	}
	if rand.Intn(100) >= int(f.Aggression) {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE planets SET fighters = fighters + 5
		WHERE id = (
			SELECT id FROM planets WHERE owner_type = 'npc_faction' AND owner_id = ?
			ORDER BY RANDOM() LIMIT 1
		)`, f.ID)
	return err
}
