// File: internal/handlers/citadel.go
// Project: Coldport
// Description: citadel.build/upgrade/status — per-level construction gated
//              on polymorphic planet ownership and on-hand resources
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/coldport/coldport-server/internal/dispatch"
	"github.com/coldport/coldport-server/internal/models"
	"github.com/coldport/coldport-server/internal/protocol"
)

func (d *Deps) citadelHandlers() map[string]dispatch.HandlerFunc {
	return map[string]dispatch.HandlerFunc{
		"citadel.build":   d.handleCitadelBuild,
		"citadel.upgrade": d.handleCitadelUpgrade,
		"citadel.status":  d.handleCitadelStatus,
	}
}

// missingResources reports only the resources that fall short of cost,
// keyed by name, valued at the required amount.
func missingResources(ore, organics, equipment, oreCost, organicsCost, equipCost int64) map[string]int64 {
	missing := map[string]int64{}
	if ore < oreCost {
		missing["ore"] = oreCost
	}
	if organics < organicsCost {
		missing["organics"] = organicsCost
	}
	if equipment < equipCost {
		missing["equipment"] = equipCost
	}
	return missing
}

func (d *Deps) planetOwner(ctx context.Context, tx *sql.Tx, planetID int64) (models.OwnerRef, error) {
	var kindStr string
	var id int64
	row := tx.QueryRowContext(ctx, `SELECT owner_type, owner_id FROM planets WHERE id = ?`, planetID)
	if err := row.Scan(&kindStr, &id); err != nil {
		return models.OwnerRef{}, err
	}
	return models.OwnerRefFromColumns(kindStr, id)
}

type citadelRequest struct {
	PlanetID int64 `json:"planet_id"`
}

// handleCitadelBuild starts level 1 construction on a planet the caller
// owns, provided it has no citadel yet and the planet carries the level-1
// resource cost on hand.
func (d *Deps) handleCitadelBuild(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in citadelRequest
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}

	playerID := cc.PlayerID()
	var outcome protocol.Outbound
	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		owner, err := d.planetOwner(ctx, tx, in.PlanetID)
		if err != nil {
			if err == sql.ErrNoRows {
				outcome = protocol.Error(req.RequestID, protocol.ErrPlanetNotFound, "planet not found")
				return nil
			}
			return err
		}
		if !owner.IsPlayer(playerID) {
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "you do not own this planet", nil)
			return nil
		}

		var existing int
		tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM citadels WHERE planet_id = ?`, in.PlanetID).Scan(&existing)
		if existing > 0 {
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "citadel already exists on this planet", nil)
			return nil
		}

		var oreCost, organicsCost, equipCost, days int64
		if err := tx.QueryRowContext(ctx,
			`SELECT ore_cost, organics_cost, equip_cost, days FROM citadel_requirements WHERE level = 1`).
			Scan(&oreCost, &organicsCost, &equipCost, &days); err != nil {
			return err
		}

		var ore, organics, equipment int64
		if err := tx.QueryRowContext(ctx,
			`SELECT ore_on_hand, organics_on_hand, equipment_on_hand FROM planets WHERE id = ?`, in.PlanetID).
			Scan(&ore, &organics, &equipment); err != nil {
			return err
		}
		if missing := missingResources(ore, organics, equipment, oreCost, organicsCost, equipCost); len(missing) > 0 {
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "insufficient planet resources",
				map[string]interface{}{"missing": missing})
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE planets SET ore_on_hand = ore_on_hand - ?, organics_on_hand = organics_on_hand - ?,
			                    equipment_on_hand = equipment_on_hand - ?
			WHERE id = ?`, oreCost, organicsCost, equipCost, in.PlanetID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO citadels (planet_id, level, construction_status, target_level, upgrade_started_at, upgrade_ends_at)
			VALUES (?, 0, 'building', 1, datetime('now'), datetime('now', '+' || ? || ' days'))`,
			in.PlanetID, days); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, "citadel.build_started", ptr(playerID), nil,
			`{"planet_id":`+itoa(in.PlanetID)+`}`, nil); err != nil {
			return err
		}

		outcome = protocol.OK(req.RequestID, "citadel.building_v1", map[string]interface{}{
			"planet_id": in.PlanetID, "target_level": 1, "days": days,
		})
		return nil
	})
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return outcome
}

// handleCitadelUpgrade advances an existing citadel to the next level,
// identical resource/ownership gating as build but keyed off current level.
func (d *Deps) handleCitadelUpgrade(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in citadelRequest
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}

	playerID := cc.PlayerID()
	var outcome protocol.Outbound
	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		owner, err := d.planetOwner(ctx, tx, in.PlanetID)
		if err != nil {
			if err == sql.ErrNoRows {
				outcome = protocol.Error(req.RequestID, protocol.ErrPlanetNotFound, "planet not found")
				return nil
			}
			return err
		}
		if !owner.IsPlayer(playerID) {
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "you do not own this planet", nil)
			return nil
		}

		var currentLevel, constructionStatus string
		var level int64
		row := tx.QueryRowContext(ctx, `SELECT level, construction_status FROM citadels WHERE planet_id = ?`, in.PlanetID)
		if err := row.Scan(&level, &constructionStatus); err != nil {
			if err == sql.ErrNoRows {
				outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "no citadel exists on this planet", nil)
				return nil
			}
			return err
		}
		_ = currentLevel
		if constructionStatus == "building" {
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "citadel construction already in progress", nil)
			return nil
		}

		nextLevel := level + 1
		var oreCost, organicsCost, equipCost, days int64
		if err := tx.QueryRowContext(ctx,
			`SELECT ore_cost, organics_cost, equip_cost, days FROM citadel_requirements WHERE level = ?`, nextLevel).
			Scan(&oreCost, &organicsCost, &equipCost, &days); err != nil {
			if err == sql.ErrNoRows {
				outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "citadel is already at maximum level", nil)
				return nil
			}
			return err
		}

		var ore, organics, equipment int64
		if err := tx.QueryRowContext(ctx,
			`SELECT ore_on_hand, organics_on_hand, equipment_on_hand FROM planets WHERE id = ?`, in.PlanetID).
			Scan(&ore, &organics, &equipment); err != nil {
			return err
		}
		if missing := missingResources(ore, organics, equipment, oreCost, organicsCost, equipCost); len(missing) > 0 {
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "insufficient planet resources",
				map[string]interface{}{"missing": missing})
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE planets SET ore_on_hand = ore_on_hand - ?, organics_on_hand = organics_on_hand - ?,
			                    equipment_on_hand = equipment_on_hand - ?
			WHERE id = ?`, oreCost, organicsCost, equipCost, in.PlanetID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE citadels SET construction_status = 'building', target_level = ?,
			                     upgrade_started_at = datetime('now'), upgrade_ends_at = datetime('now', '+' || ? || ' days')
			WHERE planet_id = ?`, nextLevel, days, in.PlanetID); err != nil {
			return err
		}

		outcome = protocol.OK(req.RequestID, "citadel.upgrading_v1", map[string]interface{}{
			"planet_id": in.PlanetID, "target_level": nextLevel, "days": days,
		})
		return nil
	})
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return outcome
}

func (d *Deps) handleCitadelStatus(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in citadelRequest
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}

	var level, targetLevel int64
	var status string
	var startedAt, endsAt sql.NullString
	row := d.DB.QueryRowContext(ctx, `
		SELECT level, construction_status, target_level, upgrade_started_at, upgrade_ends_at
		FROM citadels WHERE planet_id = ?`, in.PlanetID)
	if err := row.Scan(&level, &status, &targetLevel, &startedAt, &endsAt); err != nil {
		if err == sql.ErrNoRows {
			return protocol.OK(req.RequestID, "citadel.status_v1", map[string]interface{}{"exists": false})
		}
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}

	return protocol.OK(req.RequestID, "citadel.status_v1", map[string]interface{}{
		"exists":               true,
		"level":                level,
		"construction_status":  status,
		"target_level":         targetLevel,
		"upgrade_started_at":   startedAt.String,
		"upgrade_ends_at":      endsAt.String,
	})
}
