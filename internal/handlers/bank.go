// File: internal/handlers/bank.go
// Project: Coldport
// Description: bank.balance/deposit/withdraw/transfer/history/leaderboard,
//              fine.list/pay
//
// All balance mutation happens by inserting rows into bank_transactions;
// trg_bank_transactions_apply maintains bank_accounts.balance and aborts
// the statement on overdraft, so handlers never touch balance directly.
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/coldport/coldport-server/internal/dispatch"
	"github.com/coldport/coldport-server/internal/protocol"
)

func (d *Deps) bankHandlers() map[string]dispatch.HandlerFunc {
	return map[string]dispatch.HandlerFunc{
		"bank.balance":     d.handleBankBalance,
		"bank.deposit":     d.handleBankDeposit,
		"bank.withdraw":    d.handleBankWithdraw,
		"bank.transfer":    d.handleBankTransfer,
		"bank.history":     d.handleBankHistory,
		"bank.leaderboard": d.handleBankLeaderboard,
		"fine.list":        d.handleFineList,
		"fine.pay":         d.handleFinePay,
	}
}

func (d *Deps) handleBankBalance(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var balance int64
	row := d.DB.QueryRowContext(ctx,
		`SELECT balance FROM bank_accounts WHERE owner_type = 'player' AND owner_id = ? AND currency = 'CRD'`,
		cc.PlayerID())
	if err := row.Scan(&balance); err != nil && err != sql.ErrNoRows {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return protocol.OK(req.RequestID, "bank.balance_v1", map[string]interface{}{"balance": balance})
}

type bankAmountRequest struct {
	Amount int64 `json:"amount"`
}

func (d *Deps) handleBankDeposit(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in bankAmountRequest
	if err := json.Unmarshal(req.Data, &in); err != nil || in.Amount <= 0 {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "amount must be positive")
	}

	playerID := cc.PlayerID()
	var outcome protocol.Outbound
	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		var credits int64
		if err := tx.QueryRowContext(ctx, `SELECT credits FROM players WHERE id = ?`, playerID).Scan(&credits); err != nil {
			return err
		}
		if credits < in.Amount {
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "insufficient credits on hand",
				map[string]interface{}{"available": credits})
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE players SET credits = credits - ? WHERE id = ?`, in.Amount, playerID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bank_transactions (owner_type, owner_id, direction, amount, reason) VALUES ('player', ?, 'CREDIT', ?, 'deposit')`,
			playerID, in.Amount); err != nil {
			return err
		}
		outcome = protocol.OK(req.RequestID, "bank.deposited_v1", map[string]interface{}{"amount": in.Amount})
		return nil
	})
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return outcome
}

func (d *Deps) handleBankWithdraw(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in bankAmountRequest
	if err := json.Unmarshal(req.Data, &in); err != nil || in.Amount <= 0 {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "amount must be positive")
	}

	playerID := cc.PlayerID()
	var outcome protocol.Outbound
	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bank_transactions (owner_type, owner_id, direction, amount, reason) VALUES ('player', ?, 'DEBIT', ?, 'withdraw')`,
			playerID, in.Amount); err != nil {
			// Overdraft is enforced by trg_bank_transactions_apply's RAISE ABORT.
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "insufficient bank balance", nil)
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE players SET credits = credits + ? WHERE id = ?`, in.Amount, playerID); err != nil {
			return err
		}
		outcome = protocol.OK(req.RequestID, "bank.withdrawn_v1", map[string]interface{}{"amount": in.Amount})
		return nil
	})
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return outcome
}

// handleBankTransfer moves balance between two player accounts as a single
// matched debit/credit pair sharing a tx_group_id, per the ledger-pairing
// convention.
func (d *Deps) handleBankTransfer(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in struct {
		ToPlayerID int64 `json:"to_player_id"`
		Amount     int64 `json:"amount"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil || in.Amount <= 0 {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "amount must be positive")
	}
	playerID := cc.PlayerID()
	if in.ToPlayerID == playerID {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "cannot transfer to yourself")
	}

	var outcome protocol.Outbound
	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		var groupID string
		row := tx.QueryRowContext(ctx, `SELECT lower(hex(randomblob(16)))`)
		if err := row.Scan(&groupID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bank_transactions (owner_type, owner_id, direction, amount, tx_group_id, reason) VALUES ('player', ?, 'DEBIT', ?, ?, 'transfer_out')`,
			playerID, in.Amount, groupID); err != nil {
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "insufficient bank balance", nil)
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bank_transactions (owner_type, owner_id, direction, amount, tx_group_id, reason) VALUES ('player', ?, 'CREDIT', ?, ?, 'transfer_in')`,
			in.ToPlayerID, in.Amount, groupID); err != nil {
			return err
		}
		outcome = protocol.OK(req.RequestID, "bank.transferred_v1", map[string]interface{}{
			"to_player_id": in.ToPlayerID,
			"amount":       in.Amount,
		})
		return nil
	})
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return outcome
}

func (d *Deps) handleBankHistory(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT direction, amount, reason, created_at
		FROM bank_transactions
		WHERE owner_type = 'player' AND owner_id = ?
		ORDER BY id DESC LIMIT 50`, cc.PlayerID())
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	defer rows.Close()

	type entry struct {
		Direction string `json:"direction"`
		Amount    int64  `json:"amount"`
		Reason    string `json:"reason"`
		CreatedAt string `json:"created_at"`
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if rows.Scan(&e.Direction, &e.Amount, &e.Reason, &e.CreatedAt) == nil {
			entries = append(entries, e)
		}
	}
	return protocol.OK(req.RequestID, "bank.history_v1", map[string]interface{}{"transactions": entries})
}

func (d *Deps) handleBankLeaderboard(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT p.name, ba.balance
		FROM bank_accounts ba JOIN players p ON p.id = ba.owner_id
		WHERE ba.owner_type = 'player' AND ba.currency = 'CRD'
		ORDER BY ba.balance DESC LIMIT 20`)
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	defer rows.Close()

	type entry struct {
		Name    string `json:"name"`
		Balance int64  `json:"balance"`
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if rows.Scan(&e.Name, &e.Balance) == nil {
			entries = append(entries, e)
		}
	}
	return protocol.OK(req.RequestID, "bank.leaderboard_v1", map[string]interface{}{"rankings": entries})
}

func (d *Deps) handleFineList(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, amount, reason, created_at FROM bank_transactions
		WHERE owner_type = 'player' AND owner_id = ? AND reason = 'fine' AND direction = 'DEBIT'
		ORDER BY id DESC LIMIT 50`, cc.PlayerID())
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	defer rows.Close()

	type entry struct {
		ID        int64  `json:"id"`
		Amount    int64  `json:"amount"`
		Reason    string `json:"reason"`
		CreatedAt string `json:"created_at"`
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if rows.Scan(&e.ID, &e.Amount, &e.Reason, &e.CreatedAt) == nil {
			entries = append(entries, e)
		}
	}
	return protocol.OK(req.RequestID, "fine.list_v1", map[string]interface{}{"fines": entries})
}

func (d *Deps) handleFinePay(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in bankAmountRequest
	if err := json.Unmarshal(req.Data, &in); err != nil || in.Amount <= 0 {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "amount must be positive")
	}

	playerID := cc.PlayerID()
	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO bank_transactions (owner_type, owner_id, direction, amount, reason) VALUES ('player', ?, 'DEBIT', ?, 'fine_paid')`,
			playerID, in.Amount)
		return err
	})
	if err != nil {
		return protocol.Refused(req.RequestID, protocol.ErrServerError, "insufficient bank balance to pay fine", nil)
	}
	return protocol.OK(req.RequestID, "fine.paid_v1", map[string]interface{}{"amount": in.Amount})
}
