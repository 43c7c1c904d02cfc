// File: internal/handlers/trade.go
// Project: Coldport
// Description: trade.quote/buy/sell/history/jettison, port.rob
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"math/rand"

	"github.com/coldport/coldport-server/internal/dispatch"
	"github.com/coldport/coldport-server/internal/pricing"
	"github.com/coldport/coldport-server/internal/protocol"
)

func (d *Deps) tradeHandlers() map[string]dispatch.HandlerFunc {
	return map[string]dispatch.HandlerFunc{
		"trade.quote":    d.handleTradeQuote,
		"trade.buy":      d.handleTradeBuy,
		"trade.sell":     d.handleTradeSell,
		"trade.history":  d.handleTradeHistory,
		"trade.jettison": d.handleTradeJettison,
		"port.rob":       d.handlePortRob,
	}
}

var cargoColumn = map[string]string{
	"ORE":       "ore",
	"ORGANICS":  "organics",
	"EQUIPMENT": "equipment",
}

type portCommodity struct {
	PortID      int64
	Size        int64
	BasePrice   int64
	Quantity    int64
	SellCoeffA  float64
	BuyCoeffA   float64
	BuyCoeffB   float64
}

func (d *Deps) loadPortCommodity(ctx context.Context, tx *sql.Tx, portID int64, code string) (*portCommodity, error) {
	var pc portCommodity
	pc.PortID = portID
	row := tx.QueryRowContext(ctx, `
		SELECT p.size, c.base_price, es.quantity,
		       COALESCE(ec.sell_coeff_a, 1.5), COALESCE(ec.buy_coeff_a, 1.0), COALESCE(ec.buy_coeff_b, 0.5)
		FROM ports p
		JOIN commodities c ON c.code = ?
		JOIN entity_stock es ON es.entity_type = 'port' AND es.entity_id = p.id AND es.commodity_code = c.code
		LEFT JOIN economy_curve ec ON ec.name = p.economy_curve
		WHERE p.id = ?`, code, portID)
	if err := row.Scan(&pc.Size, &pc.BasePrice, &pc.Quantity, &pc.SellCoeffA, &pc.BuyCoeffA, &pc.BuyCoeffB); err != nil {
		return nil, err
	}
	return &pc, nil
}

type tradeRequest struct {
	PortID        int64  `json:"port_id"`
	CommodityCode string `json:"commodity_code"`
	Quantity      int64  `json:"quantity"`
}

func (d *Deps) handleTradeQuote(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in tradeRequest
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}
	if _, ok := cargoColumn[in.CommodityCode]; !ok {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "unknown commodity code")
	}

	var outcome protocol.Outbound
	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		pc, err := d.loadPortCommodity(ctx, tx, in.PortID, in.CommodityCode)
		if err != nil {
			if err == sql.ErrNoRows {
				outcome = protocol.Error(req.RequestID, protocol.ErrPlanetNotFound, "port does not trade this commodity")
				return nil
			}
			return err
		}
		curve := pricing.Curve{SellCoeffA: pc.SellCoeffA, BuyCoeffA: pc.BuyCoeffA, BuyCoeffB: pc.BuyCoeffB}
		r := pricing.FillRatio(pc.Quantity, pc.Size)
		outcome = protocol.OK(req.RequestID, "trade.quote_v1", map[string]interface{}{
			"port_id":        in.PortID,
			"commodity_code": in.CommodityCode,
			"sell_price":     curve.SellPrice(pc.BasePrice, r),
			"buy_price":      curve.BuyPrice(pc.BasePrice, r),
			"port_quantity":  pc.Quantity,
		})
		return nil
	})
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return outcome
}

// handleTradeBuy: player buys commodity_code from the port into ship cargo.
// Enforces the port has enough stock and the ship's total cargo
// (ore+organics+equipment+colonists) does not exceed holds after the trade.
func (d *Deps) handleTradeBuy(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in tradeRequest
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}
	column, ok := cargoColumn[in.CommodityCode]
	if !ok || in.Quantity <= 0 {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "unknown commodity or non-positive quantity")
	}

	playerID := cc.PlayerID()
	var outcome protocol.Outbound
	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		pc, err := d.loadPortCommodity(ctx, tx, in.PortID, in.CommodityCode)
		if err != nil {
			if err == sql.ErrNoRows {
				outcome = protocol.Error(req.RequestID, protocol.ErrPlanetNotFound, "port does not trade this commodity")
				return nil
			}
			return err
		}
		if pc.Quantity < in.Quantity {
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "insufficient port stock",
				map[string]interface{}{"available": pc.Quantity})
			return nil
		}

		var shipID, holds, ore, organics, equipment, colonists, credits int64
		row := tx.QueryRowContext(ctx, `
			SELECT p.active_ship_id, st.holds, s.ore, s.organics, s.equipment, s.colonists, p.credits
			FROM players p
			JOIN ships s ON s.id = p.active_ship_id
			JOIN shiptypes st ON st.id = s.ship_type_id
			WHERE p.id = ?`, playerID)
		if err := row.Scan(&shipID, &holds, &ore, &organics, &equipment, &colonists, &credits); err != nil {
			return err
		}
		cargoUsed := ore + organics + equipment + colonists
		if cargoUsed+in.Quantity > holds {
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "cargo hold capacity exceeded",
				map[string]interface{}{"holds": holds, "used": cargoUsed})
			return nil
		}

		curve := pricing.Curve{SellCoeffA: pc.SellCoeffA, BuyCoeffA: pc.BuyCoeffA, BuyCoeffB: pc.BuyCoeffB}
		r := pricing.FillRatio(pc.Quantity, pc.Size)
		unitPrice := curve.SellPrice(pc.BasePrice, r)
		cost := unitPrice * in.Quantity
		if credits < cost {
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "insufficient credits",
				map[string]interface{}{"missing": map[string]int64{"credits": cost - credits}})
			return nil
		}

		if _, err := tx.ExecContext(ctx, `UPDATE ships SET `+column+` = `+column+` + ? WHERE id = ?`, in.Quantity, shipID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE players SET credits = credits - ? WHERE id = ?`, cost, playerID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE entity_stock SET quantity = quantity - ?
			WHERE entity_type = 'port' AND entity_id = ? AND commodity_code = ?`,
			in.Quantity, in.PortID, in.CommodityCode); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trade_log (player_id, port_id, commodity_code, quantity, unit_price, direction, created_at)
			VALUES (?, ?, ?, ?, ?, 'buy', datetime('now'))`,
			playerID, in.PortID, in.CommodityCode, in.Quantity, unitPrice); err != nil {
			return err
		}

		outcome = protocol.OK(req.RequestID, "trade.buy.completed_v1", map[string]interface{}{
			"commodity_code": in.CommodityCode,
			"quantity":        in.Quantity,
			"unit_price":      unitPrice,
			"cost":            cost,
		})
		return nil
	})
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return outcome
}

// handleTradeSell: player sells commodity_code from ship cargo into the port.
func (d *Deps) handleTradeSell(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in tradeRequest
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}
	column, ok := cargoColumn[in.CommodityCode]
	if !ok || in.Quantity <= 0 {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "unknown commodity or non-positive quantity")
	}

	playerID := cc.PlayerID()
	var outcome protocol.Outbound
	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		pc, err := d.loadPortCommodity(ctx, tx, in.PortID, in.CommodityCode)
		if err != nil {
			if err == sql.ErrNoRows {
				outcome = protocol.Error(req.RequestID, protocol.ErrPlanetNotFound, "port does not trade this commodity")
				return nil
			}
			return err
		}

		var shipID, onHand int64
		row := tx.QueryRowContext(ctx, `
			SELECT p.active_ship_id, s.`+column+`
			FROM players p JOIN ships s ON s.id = p.active_ship_id
			WHERE p.id = ?`, playerID)
		if err := row.Scan(&shipID, &onHand); err != nil {
			return err
		}
		if onHand < in.Quantity {
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "insufficient cargo on hand",
				map[string]interface{}{"on_hand": onHand})
			return nil
		}

		curve := pricing.Curve{SellCoeffA: pc.SellCoeffA, BuyCoeffA: pc.BuyCoeffA, BuyCoeffB: pc.BuyCoeffB}
		r := pricing.FillRatio(pc.Quantity, pc.Size)
		unitPrice := curve.BuyPrice(pc.BasePrice, r)
		proceeds := unitPrice * in.Quantity

		if _, err := tx.ExecContext(ctx, `UPDATE ships SET `+column+` = `+column+` - ? WHERE id = ?`, in.Quantity, shipID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE players SET credits = credits + ? WHERE id = ?`, proceeds, playerID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE entity_stock SET quantity = quantity + ?
			WHERE entity_type = 'port' AND entity_id = ? AND commodity_code = ?`,
			in.Quantity, in.PortID, in.CommodityCode); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trade_log (player_id, port_id, commodity_code, quantity, unit_price, direction, created_at)
			VALUES (?, ?, ?, ?, ?, 'sell', datetime('now'))`,
			playerID, in.PortID, in.CommodityCode, in.Quantity, unitPrice); err != nil {
			return err
		}

		outcome = protocol.OK(req.RequestID, "trade.sell.completed_v1", map[string]interface{}{
			"commodity_code": in.CommodityCode,
			"quantity":        in.Quantity,
			"unit_price":      unitPrice,
			"proceeds":        proceeds,
		})
		return nil
	})
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return outcome
}

func (d *Deps) handleTradeHistory(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT port_id, commodity_code, quantity, unit_price, direction, created_at
		FROM trade_log WHERE player_id = ? ORDER BY id DESC LIMIT 50`, cc.PlayerID())
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	defer rows.Close()

	type entry struct {
		PortID        int64  `json:"port_id"`
		CommodityCode string `json:"commodity_code"`
		Quantity      int64  `json:"quantity"`
		UnitPrice     int64  `json:"unit_price"`
		Direction     string `json:"direction"`
		CreatedAt     string `json:"created_at"`
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if rows.Scan(&e.PortID, &e.CommodityCode, &e.Quantity, &e.UnitPrice, &e.Direction, &e.CreatedAt) == nil {
			entries = append(entries, e)
		}
	}
	return protocol.OK(req.RequestID, "trade.history_v1", map[string]interface{}{"trades": entries})
}

// handleTradeJettison discards cargo into space: no credits change, no
// port-side stock change.
func (d *Deps) handleTradeJettison(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in struct {
		CommodityCode string `json:"commodity_code"`
		Quantity      int64  `json:"quantity"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}
	column, ok := cargoColumn[in.CommodityCode]
	if !ok || in.Quantity <= 0 {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "unknown commodity or non-positive quantity")
	}

	playerID := cc.PlayerID()
	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE ships SET `+column+` = `+column+` - ?
			WHERE id = (SELECT active_ship_id FROM players WHERE id = ?) AND `+column+` >= ?`,
			in.Quantity, playerID, in.Quantity)
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
			return protocol.Refused(req.RequestID, protocol.ErrServerError, "insufficient cargo on hand", nil)
		}
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return protocol.OK(req.RequestID, "trade.jettisoned_v1", map[string]interface{}{
		"commodity_code": in.CommodityCode,
		"quantity":        in.Quantity,
	})
}

// handlePortRob: a 1-in-3 chance the player escapes with half of the port's
// petty cash; otherwise they take hull damage from port defenses.
func (d *Deps) handlePortRob(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in struct {
		PortID int64 `json:"port_id"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}

	playerID := cc.PlayerID()
	success := rand.Intn(3) == 0
	var outcome protocol.Outbound

	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		var pettyCash int64
		if err := tx.QueryRowContext(ctx, `SELECT petty_cash FROM ports WHERE id = ?`, in.PortID).Scan(&pettyCash); err != nil {
			if err == sql.ErrNoRows {
				outcome = protocol.Error(req.RequestID, protocol.ErrPlanetNotFound, "port not found")
				return nil
			}
			return err
		}

		if success {
			take := pettyCash / 2
			if _, err := tx.ExecContext(ctx, `UPDATE ports SET petty_cash = petty_cash - ? WHERE id = ?`, take, in.PortID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE players SET credits = credits + ? WHERE id = ?`, take, playerID); err != nil {
				return err
			}
			if err := appendEvent(ctx, tx, "port.robbed", ptr(playerID), nil, "{}", nil); err != nil {
				return err
			}
			outcome = protocol.OK(req.RequestID, "port.rob.succeeded_v1", map[string]interface{}{"credits_gained": take})
			return nil
		}

		damage := int64(10 + rand.Intn(20))
		if _, err := tx.ExecContext(ctx, `
			UPDATE ships SET hull = MAX(hull - ?, 1)
			WHERE id = (SELECT active_ship_id FROM players WHERE id = ?)`, damage, playerID); err != nil {
			return err
		}
		outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "port defenses repelled the attempt",
			map[string]interface{}{"hull_damage": damage})
		return nil
	})
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return outcome
}
