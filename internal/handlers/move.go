// File: internal/handlers/move.go
// Project: Coldport
// Description: move.warp/pathfind/transwarp/autopilot.*
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/coldport/coldport-server/internal/dispatch"
	"github.com/coldport/coldport-server/internal/pathfind"
	"github.com/coldport/coldport-server/internal/protocol"
)

const turnCostPerWarp = 1

func (d *Deps) moveHandlers() map[string]dispatch.HandlerFunc {
	return map[string]dispatch.HandlerFunc{
		"move.warp":                 d.handleMoveWarp,
		"move.transwarp":             d.handleMoveWarp,
		"move.pathfind":              d.handleMoveAutopilotStart,
		"move.autopilot.start":       d.handleMoveAutopilotStart,
		"move.autopilot.status":     d.handleMoveAutopilotStatus,
		"move.autopilot.stop":        d.handleMoveAutopilotStop,
	}
}

type moveWarpRequest struct {
	To int64 `json:"to"`
}

// handleMoveWarp implements the §4.5 handler skeleton: load ship/sector/
// turns, check the directed warp link and turn budget, decrement turns,
// move the ship, append an event, commit, emit ok.
func (d *Deps) handleMoveWarp(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in moveWarpRequest
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}
	if in.To <= 0 {
		return protocol.Error(req.RequestID, protocol.ErrSectorNotFound, "target sector not specified")
	}

	playerID := cc.PlayerID()
	var outcome protocol.Outbound

	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		var shipID, currentSector, turnsRemaining int64
		row := tx.QueryRowContext(ctx, `
			SELECT p.active_ship_id, s.sector, p.turns_remaining
			FROM players p JOIN ships s ON s.id = p.active_ship_id
			WHERE p.id = ?`, playerID)
		if err := row.Scan(&shipID, &currentSector, &turnsRemaining); err != nil {
			outcome = protocol.Error(req.RequestID, protocol.ErrDB, "failed to load ship state")
			return nil
		}

		var linkExists int
		tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sector_warps WHERE from_sector = ? AND to_sector = ?`,
			currentSector, in.To).Scan(&linkExists)
		if linkExists == 0 {
			outcome = protocol.Refused(req.RequestID, protocol.RefNoWarpLink, "no warp link to target sector", nil)
			return nil
		}

		if turnsRemaining < turnCostPerWarp {
			outcome = protocol.Refused(req.RequestID, protocol.RefTurnCostExceeds, "insufficient turns remaining",
				map[string]interface{}{"required": turnCostPerWarp, "available": turnsRemaining})
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE ships SET sector = ? WHERE id = ?`, in.To, shipID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE players SET turns_remaining = turns_remaining - ? WHERE id = ?`, turnCostPerWarp, playerID); err != nil {
			return err
		}

		var idemKey *string
		if req.IdempotencyKey != "" {
			idemKey = &req.IdempotencyKey
		}
		if err := appendEvent(ctx, tx, "move.warp", ptr(playerID), ptr(in.To),
			`{"from":`+itoa(currentSector)+`,"to":`+itoa(in.To)+`}`, idemKey); err != nil {
			return err
		}

		cc.SetSector(in.To)
		outcome = protocol.OK(req.RequestID, "move.warp.completed_v1", map[string]interface{}{
			"from_sector_id": currentSector,
			"to_sector_id":   in.To,
			"turns_remaining": turnsRemaining - turnCostPerWarp,
		})
		return nil
	})
	if err != nil {
		log.Error("move.warp transaction failed: player_id=%d error=%v", playerID, err)
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}

	if outcome.Status == protocol.StatusOK {
		d.Broadcaster.DeliverToPlayer(playerID, "move.warp.completed_v1", outcome.Data)
	}
	return outcome
}

type autopilotRequest struct {
	From  int64   `json:"from"`
	To    int64   `json:"to"`
	Avoid []int64 `json:"avoid"`
}

func (d *Deps) handleMoveAutopilotStart(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in autopilotRequest
	_ = json.Unmarshal(req.Data, &in)

	from := in.From
	if from == 0 {
		sid, err := d.currentSectorID(ctx, cc.PlayerID())
		if err != nil {
			return protocol.Error(req.RequestID, protocol.ErrDB, "failed to resolve current sector")
		}
		from = sid
	}
	if in.To <= 0 {
		return protocol.Error(req.RequestID, protocol.ErrSectorNotFound, "target sector not specified")
	}

	route, err := pathfind.FindPath(ctx, d.DB, from, in.To, in.Avoid)
	if err != nil {
		if err == pathfind.ErrNoPath {
			return protocol.Refused(req.RequestID, protocol.RefSafeZoneOnly, "no safe path found", nil)
		}
		return protocol.Error(req.RequestID, protocol.ErrAutopilotPathInvalid, "pathfinding failed")
	}

	return protocol.OK(req.RequestID, "move.autopilot.route_v1", map[string]interface{}{
		"from_sector_id": route.FromSectorID,
		"to_sector_id":   route.ToSectorID,
		"path":           route.Path,
		"hops":           route.Hops,
	})
}

func (d *Deps) handleMoveAutopilotStatus(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	sid, err := d.currentSectorID(ctx, cc.PlayerID())
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "failed to resolve current sector")
	}
	return protocol.OK(req.RequestID, "move.autopilot.status_v1", map[string]interface{}{
		"current_sector_id": sid,
		"last_error":        "",
	})
}

func (d *Deps) handleMoveAutopilotStop(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	sid, err := d.currentSectorID(ctx, cc.PlayerID())
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "failed to resolve current sector")
	}
	return protocol.OK(req.RequestID, "move.autopilot.stopped_v1", map[string]interface{}{
		"current_sector_id": sid,
	})
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
