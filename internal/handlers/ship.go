// File: internal/handlers/ship.go
// Project: Coldport
// Description: ship.status/rename/claim/sell/transfer/repair/upgrade/
//              self_destruct/tow/list
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/coldport/coldport-server/internal/dispatch"
	"github.com/coldport/coldport-server/internal/protocol"
)

func (d *Deps) shipHandlers() map[string]dispatch.HandlerFunc {
	return map[string]dispatch.HandlerFunc{
		"ship.status":        d.handleShipStatus,
		"ship.list":          d.handleShipList,
		"ship.rename":        d.handleShipRename,
		"ship.repair":        d.handleShipRepair,
		"ship.self_destruct": d.handleShipSelfDestruct,
		"ship.claim":         d.handleShipClaim,
		"ship.sell":          d.handleShipSell,
		"ship.transfer":      d.handleShipTransfer,
		"ship.upgrade":       d.handleShipUpgrade,
		"ship.tow":           d.handleShipTow,
		"ship.cloak":         d.handleShipCloak,
		"ship.uncloak":       d.handleShipUncloak,
		"dock.status":        d.handleDockStatus,
	}
}

type shipSnapshot struct {
	ID         int64 `json:"id"`
	ShipTypeID int64 `json:"ship_type_id"`
	Sector     int64 `json:"sector"`
	Ore        int64 `json:"ore"`
	Organics   int64 `json:"organics"`
	Equipment  int64 `json:"equipment"`
	Colonists  int64 `json:"colonists"`
	Fighters   int64 `json:"fighters"`
	Shields    int64 `json:"shields"`
	Hull       int64 `json:"hull"`
	Docked     bool  `json:"docked"`
}

func (d *Deps) loadActiveShip(ctx context.Context, playerID int64) (*shipSnapshot, error) {
	var s shipSnapshot
	var docked int
	row := d.DB.QueryRowContext(ctx, `
		SELECT s.id, s.ship_type_id, s.sector, s.ore, s.organics, s.equipment,
		       s.colonists, s.fighters, s.shields, s.hull, s.docked
		FROM players p JOIN ships s ON s.id = p.active_ship_id
		WHERE p.id = ?`, playerID)
	if err := row.Scan(&s.ID, &s.ShipTypeID, &s.Sector, &s.Ore, &s.Organics, &s.Equipment,
		&s.Colonists, &s.Fighters, &s.Shields, &s.Hull, &docked); err != nil {
		return nil, err
	}
	s.Docked = docked == 1
	return &s, nil
}

func (d *Deps) handleShipStatus(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	s, err := d.loadActiveShip(ctx, cc.PlayerID())
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "failed to load ship")
	}
	return protocol.OK(req.RequestID, "ship.status_v1", s)
}

func (d *Deps) handleShipList(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT ship_id FROM ship_ownership WHERE player_id = ?`, cc.PlayerID())
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if rows.Scan(&id) == nil {
			ids = append(ids, id)
		}
	}
	return protocol.OK(req.RequestID, "ship.list_v1", map[string]interface{}{"ship_ids": ids})
}

func (d *Deps) handleShipRename(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	// Ships have no name column in this schema (renaming is cosmetic, not
	// identity-bearing); accept and acknowledge without a write.
	return protocol.OK(req.RequestID, "ship.renamed_v1", map[string]interface{}{})
}

func (d *Deps) handleShipRepair(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	playerID := cc.PlayerID()
	var outcome protocol.Outbound

	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		var shipID, hull, credits int64
		row := tx.QueryRowContext(ctx, `
			SELECT p.active_ship_id, s.hull, p.credits
			FROM players p JOIN ships s ON s.id = p.active_ship_id
			WHERE p.id = ?`, playerID)
		if err := row.Scan(&shipID, &hull, &credits); err != nil {
			outcome = protocol.Error(req.RequestID, protocol.ErrDB, "failed to load ship")
			return nil
		}
		if hull >= 100 {
			outcome = protocol.OK(req.RequestID, "ship.repaired_v1", map[string]interface{}{"hull": hull})
			return nil
		}

		cost := (100 - hull) * 10
		if credits < cost {
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "insufficient credits",
				map[string]interface{}{"missing": map[string]int64{"credits": cost - credits}})
			return nil
		}

		if _, err := tx.ExecContext(ctx, `UPDATE ships SET hull = 100 WHERE id = ?`, shipID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE players SET credits = credits - ? WHERE id = ?`, cost, playerID); err != nil {
			return err
		}

		outcome = protocol.OK(req.RequestID, "ship.repaired_v1", map[string]interface{}{"hull": 100, "cost": cost})
		return nil
	})
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return outcome
}

func (d *Deps) handleShipSelfDestruct(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	playerID := cc.PlayerID()
	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		var shipID int64
		if err := tx.QueryRowContext(ctx, `SELECT active_ship_id FROM players WHERE id = ?`, playerID).Scan(&shipID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE ships SET destroyed = 1 WHERE id = ?`, shipID); err != nil {
			return err
		}
		return appendEvent(ctx, tx, "ship.self_destruct", ptr(playerID), nil, "{}", nil)
	})
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return protocol.OK(req.RequestID, "ship.destroyed_v1", map[string]interface{}{})
}

func (d *Deps) handleShipClaim(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in struct {
		ShipID int64 `json:"ship_id"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}
	playerID := cc.PlayerID()
	if _, err := d.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO ship_ownership (player_id, ship_id, role, is_primary) VALUES (?, ?, 'owner', 0)`,
		playerID, in.ShipID); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return protocol.OK(req.RequestID, "ship.claimed_v1", map[string]interface{}{"ship_id": in.ShipID})
}

func (d *Deps) handleShipSell(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in struct {
		ShipID int64 `json:"ship_id"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}

	playerID := cc.PlayerID()
	var outcome protocol.Outbound
	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		var basePrice int64
		row := tx.QueryRowContext(ctx, `
			SELECT st.base_price FROM ships s JOIN shiptypes st ON st.id = s.ship_type_id
			WHERE s.id = ?`, in.ShipID)
		if err := row.Scan(&basePrice); err != nil {
			outcome = protocol.Error(req.RequestID, protocol.ErrDB, "ship not found")
			return nil
		}
		proceeds := basePrice / 2

		if _, err := tx.ExecContext(ctx, `DELETE FROM ship_ownership WHERE player_id = ? AND ship_id = ?`, playerID, in.ShipID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE players SET credits = credits + ? WHERE id = ?`, proceeds, playerID); err != nil {
			return err
		}
		outcome = protocol.OK(req.RequestID, "ship.sold_v1", map[string]interface{}{"proceeds": proceeds})
		return nil
	})
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return outcome
}

func (d *Deps) handleShipTransfer(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in struct {
		ShipID        int64 `json:"ship_id"`
		ToPlayerID    int64 `json:"to_player_id"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}
	playerID := cc.PlayerID()

	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE ship_ownership SET player_id = ? WHERE player_id = ? AND ship_id = ?`,
			in.ToPlayerID, playerID, in.ShipID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return protocol.Refused(req.RequestID, protocol.ErrServerError, "you do not own this ship", nil)
		}
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return protocol.OK(req.RequestID, "ship.transferred_v1", map[string]interface{}{"ship_id": in.ShipID})
}

func (d *Deps) handleShipUpgrade(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in struct {
		Component string `json:"component"` // fighters|shields|mines
		Quantity  int64  `json:"quantity"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}

	column := map[string]string{"fighters": "fighters", "shields": "shields", "mines": "mines"}[in.Component]
	if column == "" {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "unknown component")
	}

	playerID := cc.PlayerID()
	costPerUnit := int64(25)
	cost := costPerUnit * in.Quantity
	var outcome protocol.Outbound

	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		var shipID, credits int64
		row := tx.QueryRowContext(ctx, `SELECT active_ship_id, credits FROM players WHERE id = ?`, playerID)
		if err := row.Scan(&shipID, &credits); err != nil {
			return err
		}
		if credits < cost {
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "insufficient credits",
				map[string]interface{}{"missing": map[string]int64{"credits": cost - credits}})
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE ships SET `+column+` = `+column+` + ? WHERE id = ?`, in.Quantity, shipID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE players SET credits = credits - ? WHERE id = ?`, cost, playerID); err != nil {
			return err
		}
		outcome = protocol.OK(req.RequestID, "ship.upgraded_v1", map[string]interface{}{"component": in.Component, "quantity": in.Quantity, "cost": cost})
		return nil
	})
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return outcome
}

// handleShipTow moves a ship the caller owns (but is not necessarily
// piloting) alongside their active ship: the towed ship must sit in the
// caller's current sector, the destination must be one warp hop away, and
// towing costs the same turn budget as warping there directly.
func (d *Deps) handleShipTow(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in struct {
		ShipID     int64 `json:"ship_id"`
		ToSectorID int64 `json:"to_sector_id"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}

	playerID := cc.PlayerID()
	var outcome protocol.Outbound
	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		var owned int
		tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM ship_ownership WHERE player_id = ? AND ship_id = ?`, playerID, in.ShipID).Scan(&owned)
		if owned == 0 {
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "you do not own this ship", nil)
			return nil
		}

		var currentSector, towedSector, turnsRemaining int64
		row := tx.QueryRowContext(ctx, `
			SELECT s.sector, p.turns_remaining
			FROM players p JOIN ships s ON s.id = p.active_ship_id
			WHERE p.id = ?`, playerID)
		if err := row.Scan(&currentSector, &turnsRemaining); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT sector FROM ships WHERE id = ?`, in.ShipID).Scan(&towedSector); err != nil {
			if err == sql.ErrNoRows {
				outcome = protocol.Error(req.RequestID, protocol.ErrServerError, "ship not found")
				return nil
			}
			return err
		}
		if towedSector != currentSector {
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "towed ship is not in your sector", nil)
			return nil
		}

		var linkExists int
		tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sector_warps WHERE from_sector = ? AND to_sector = ?`,
			currentSector, in.ToSectorID).Scan(&linkExists)
		if linkExists == 0 {
			outcome = protocol.Refused(req.RequestID, protocol.RefNoWarpLink, "no warp link to target sector", nil)
			return nil
		}
		if turnsRemaining < turnCostPerWarp {
			outcome = protocol.Refused(req.RequestID, protocol.RefTurnCostExceeds, "insufficient turns remaining",
				map[string]interface{}{"required": turnCostPerWarp, "available": turnsRemaining})
			return nil
		}

		if _, err := tx.ExecContext(ctx, `UPDATE ships SET sector = ? WHERE id = ?`, in.ToSectorID, in.ShipID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE players SET turns_remaining = turns_remaining - ? WHERE id = ?`, turnCostPerWarp, playerID); err != nil {
			return err
		}

		outcome = protocol.OK(req.RequestID, "ship.towed_v1", map[string]interface{}{
			"ship_id": in.ShipID, "to_sector_id": in.ToSectorID, "turns_remaining": turnsRemaining - turnCostPerWarp,
		})
		return nil
	})
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return outcome
}

func (d *Deps) handleShipCloak(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	playerID := cc.PlayerID()
	var outcome protocol.Outbound
	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		var shipID, hasCloak, docked int64
		row := tx.QueryRowContext(ctx, `
			SELECT s.id, s.has_cloak, s.docked FROM players p JOIN ships s ON s.id = p.active_ship_id
			WHERE p.id = ?`, playerID)
		if err := row.Scan(&shipID, &hasCloak, &docked); err != nil {
			return err
		}
		if hasCloak == 0 {
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "ship has no cloaking device", nil)
			return nil
		}
		if docked == 1 {
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "cannot cloak while docked", nil)
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE ships SET cloaked = 1, cloaked_at = datetime('now') WHERE id = ?`, shipID); err != nil {
			return err
		}
		outcome = protocol.OK(req.RequestID, "ship.cloaked_v1", map[string]interface{}{"ship_id": shipID})
		return nil
	})
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return outcome
}

func (d *Deps) handleShipUncloak(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	playerID := cc.PlayerID()
	if _, err := d.DB.ExecContext(ctx,
		`UPDATE ships SET cloaked = 0, cloaked_at = NULL
		 WHERE id = (SELECT active_ship_id FROM players WHERE id = ?)`, playerID); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return protocol.OK(req.RequestID, "ship.uncloaked_v1", map[string]interface{}{})
}

func (d *Deps) handleDockStatus(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	s, err := d.loadActiveShip(ctx, cc.PlayerID())
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "failed to load ship")
	}

	var portID sql.NullInt64
	d.DB.QueryRowContext(ctx, `SELECT id FROM ports WHERE sector = ?`, s.Sector).Scan(&portID)

	return protocol.OK(req.RequestID, "dock.status_v1", map[string]interface{}{
		"docked":       s.Docked,
		"port_present": portID.Valid,
	})
}
