// File: internal/handlers/bank_test.go
// Project: Coldport
// Description: Tests for bank ledger conservation and overdraft rejection
package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/coldport/coldport-server/internal/protocol"
)

func amountRequest(amount int64) protocol.Inbound {
	data, _ := json.Marshal(map[string]int64{"amount": amount})
	return protocol.Inbound{Command: "bank.deposit", RequestID: "r1", Data: data}
}

func bankBalance(t *testing.T, d *Deps, playerID int64) int64 {
	t.Helper()
	var balance int64
	if err := d.DB.QueryRowContext(context.Background(),
		`SELECT balance FROM bank_accounts WHERE owner_type = 'player' AND owner_id = ? AND currency = 'CRD'`,
		playerID).Scan(&balance); err != nil {
		t.Fatalf("failed to read bank balance: %v", err)
	}
	return balance
}

func playerCredits(t *testing.T, d *Deps, playerID int64) int64 {
	t.Helper()
	var credits int64
	if err := d.DB.QueryRowContext(context.Background(),
		`SELECT credits FROM players WHERE id = ?`, playerID).Scan(&credits); err != nil {
		t.Fatalf("failed to read player credits: %v", err)
	}
	return credits
}

func TestBankDepositMovesCreditsToBalance(t *testing.T) {
	d, auth := newTestDeps(t)
	playerID := registerPlayer(t, auth, "depositor")
	cc := newTestClient(t, playerID)

	out := d.handleBankDeposit(context.Background(), cc, amountRequest(200))
	if out.Status != protocol.StatusOK {
		t.Fatalf("expected deposit to succeed, got status=%s error=%+v", out.Status, out.Error)
	}
	if got := playerCredits(t, d, playerID); got != 800 {
		t.Errorf("player credits = %d, want 800", got)
	}
	if got := bankBalance(t, d, playerID); got != 1200 {
		t.Errorf("bank balance = %d, want 1200", got)
	}
}

func TestBankDepositRejectsInsufficientCreditsOnHand(t *testing.T) {
	d, auth := newTestDeps(t)
	playerID := registerPlayer(t, auth, "overdeposit")
	cc := newTestClient(t, playerID)

	out := d.handleBankDeposit(context.Background(), cc, amountRequest(2000))
	if out.Status != protocol.StatusRefused {
		t.Fatalf("expected refusal for a deposit exceeding credits on hand, got status=%s", out.Status)
	}
	if got := playerCredits(t, d, playerID); got != 1000 {
		t.Errorf("a refused deposit must not touch credits, got %d", got)
	}
	if got := bankBalance(t, d, playerID); got != 1000 {
		t.Errorf("a refused deposit must not touch bank balance, got %d", got)
	}
}

func TestBankWithdrawSucceeds(t *testing.T) {
	d, auth := newTestDeps(t)
	playerID := registerPlayer(t, auth, "withdrawer")
	cc := newTestClient(t, playerID)

	out := d.handleBankWithdraw(context.Background(), cc, protocol.Inbound{
		Command: "bank.withdraw", RequestID: "r1",
		Data: mustJSON(t, map[string]int64{"amount": 300}),
	})
	if out.Status != protocol.StatusOK {
		t.Fatalf("expected withdraw to succeed, got status=%s error=%+v", out.Status, out.Error)
	}
	if got := playerCredits(t, d, playerID); got != 1300 {
		t.Errorf("player credits = %d, want 1300", got)
	}
	if got := bankBalance(t, d, playerID); got != 700 {
		t.Errorf("bank balance = %d, want 700", got)
	}
}

func TestBankWithdrawRejectsOverdraft(t *testing.T) {
	d, auth := newTestDeps(t)
	playerID := registerPlayer(t, auth, "overdrawer")
	cc := newTestClient(t, playerID)

	out := d.handleBankWithdraw(context.Background(), cc, protocol.Inbound{
		Command: "bank.withdraw", RequestID: "r1",
		Data: mustJSON(t, map[string]int64{"amount": 5000}),
	})
	if out.Status != protocol.StatusRefused {
		t.Fatalf("expected refusal for an overdraft withdraw, got status=%s", out.Status)
	}
	if got := playerCredits(t, d, playerID); got != 1000 {
		t.Errorf("a refused withdraw must not touch credits, got %d", got)
	}
	if got := bankBalance(t, d, playerID); got != 1000 {
		t.Errorf("a refused withdraw must not touch bank balance, got %d", got)
	}
}

func TestBankTransferConservesTotalBalance(t *testing.T) {
	d, auth := newTestDeps(t)
	fromID := registerPlayer(t, auth, "payer")
	toID := registerPlayer(t, auth, "payee")
	cc := newTestClient(t, fromID)

	out := d.handleBankTransfer(context.Background(), cc, protocol.Inbound{
		Command: "bank.transfer", RequestID: "r1",
		Data: mustJSON(t, map[string]int64{"to_player_id": toID, "amount": 100}),
	})
	if out.Status != protocol.StatusOK {
		t.Fatalf("expected transfer to succeed, got status=%s error=%+v", out.Status, out.Error)
	}

	fromBalance := bankBalance(t, d, fromID)
	toBalance := bankBalance(t, d, toID)
	if fromBalance != 900 {
		t.Errorf("payer balance = %d, want 900", fromBalance)
	}
	if toBalance != 1100 {
		t.Errorf("payee balance = %d, want 1100", toBalance)
	}
	if fromBalance+toBalance != 2000 {
		t.Errorf("transfer must conserve total balance, got sum %d, want 2000", fromBalance+toBalance)
	}
}

func TestBankTransferRejectsWhenOverBalance(t *testing.T) {
	d, auth := newTestDeps(t)
	fromID := registerPlayer(t, auth, "poorpayer")
	toID := registerPlayer(t, auth, "poorpayee")
	cc := newTestClient(t, fromID)

	out := d.handleBankTransfer(context.Background(), cc, protocol.Inbound{
		Command: "bank.transfer", RequestID: "r1",
		Data: mustJSON(t, map[string]int64{"to_player_id": toID, "amount": 5000}),
	})
	if out.Status != protocol.StatusRefused {
		t.Fatalf("expected refusal for a transfer exceeding balance, got status=%s", out.Status)
	}
	if got := bankBalance(t, d, toID); got != 1000 {
		t.Errorf("a refused transfer must not credit the recipient, got %d", got)
	}
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal test payload: %v", err)
	}
	return data
}
