// File: internal/cronsched/handlers.go
// Project: Coldport
// Description: The 25 named periodic tasks seeded into cron_tasks
package cronsched

import (
	"context"
	"database/sql"

	"github.com/coldport/coldport-server/internal/broadcast"
	"github.com/coldport/coldport-server/internal/database"
	"github.com/coldport/coldport-server/internal/npc"
)

// DefaultHandlers wires every seeded cron_tasks name to its handler. A name
// present in seed.sql with no entry here will log a warning and skip every
// tick, so this map must stay in sync with seed.sql's cron_tasks rows.
func DefaultHandlers(db *database.DB, bcaster *broadcast.Broadcaster) map[string]Handler {
	return map[string]Handler{
		"daily_turn_reset":                 handleDailyTurnReset,
		"terra_replenish":                  handleTerraReplenish,
		"planet_growth":                    handlePlanetGrowth,
		"fedspace_cleanup":                 handleFedspaceCleanup,
		"autouncloak_sweeper":              handleAutouncloakSweeper,
		"npc_step":                         handleNPCStep,
		"broadcast_ttl_cleanup":            handleBroadcastTTLCleanup,
		"daily_news_compiler":              handleDailyNewsCompiler,
		"traps_process":                    handleTrapsProcess,
		"cleanup_old_news":                 handleCleanupOldNews,
		"limpet_ttl_cleanup":               handleLimpetTTLCleanup,
		"daily_lottery_draw":               handleDailyLotteryDraw,
		"deadpool_resolution_cron":         handleDeadpoolResolution,
		"tavern_notice_expiry_cron":        handleTavernNoticeExpiry,
		"loan_shark_interest_cron":         handleLoanSharkInterest,
		"dividend_payout":                  handleDividendPayout,
		"daily_stock_price_recalculation":  handleStockPriceRecalculation,
		"daily_market_settlement":          handleMarketSettlement,
		"system_notice_ttl":                handleSystemNoticeTTL,
		"deadletter_retry":                 handleDeadletterRetry,
		"daily_corp_tax":                   handleDailyCorpTax,
		"daily_bank_interest_tick":         handleDailyBankInterest,
		"port_economy_tick":                handlePortEconomyTick,
		"planet_market_tick":               handlePlanetMarketTick,
		"shield_regen_tick":                handleShieldRegenTick,
	}
}

func handleDailyTurnReset(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE players SET turns_remaining = 500, turns_reset_at = datetime('now')`)
	if err != nil {
		return err
	}
	// rank_title becomes the highest-min_experience commission_ranks row the
	// player qualifies for, or 'Recruit' when none matches (as DeriveRank).
	_, err = tx.ExecContext(ctx, `
		UPDATE players SET rank_title = COALESCE((
			SELECT cr.title FROM commission_ranks cr
			WHERE players.experience >= cr.min_experience
			  AND players.alignment BETWEEN cr.min_alignment AND cr.max_alignment
			ORDER BY cr.min_experience DESC LIMIT 1), 'Recruit')`)
	return err
}

// handleTerraReplenish regrows a small amount of every resource on every
// planet, capped so an abandoned world doesn't grow without bound.
func handleTerraReplenish(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE planets SET
			ore_on_hand = MIN(ore_on_hand + 25, 100000),
			organics_on_hand = MIN(organics_on_hand + 25, 100000),
			equipment_on_hand = MIN(equipment_on_hand + 10, 100000)`)
	return err
}

// handlePlanetGrowth grows colonist_count on owned, habitable planets.
func handlePlanetGrowth(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE planets SET colonist_count = colonist_count + 50
		WHERE owner_type != 'system'
		  AND class IN (SELECT class FROM planettypes WHERE habitable = 1)`)
	return err
}

// handleFedspaceCleanup strips mines and limpets from ships sitting in
// FedSpace safe-zone sectors, where neither is permitted to persist.
func handleFedspaceCleanup(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE ships SET mines = 0, limpets = 0
		WHERE sector IN (SELECT id FROM sectors WHERE safe_zone = 1)
		  AND (mines > 0 OR limpets > 0)`)
	return err
}

// handleAutouncloakSweeper force-uncloaks any ship that has been cloaked
// longer than five minutes, mirroring the source's cloak-duration cap.
func handleAutouncloakSweeper(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE ships SET cloaked = 0, cloaked_at = NULL
		WHERE cloaked = 1 AND cloaked_at <= datetime('now', '-5 minutes')`)
	return err
}

func handleNPCStep(ctx context.Context, tx *sql.Tx) error {
	return npc.Step(ctx, tx)
}

func handleBroadcastTTLCleanup(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM tavern_notices WHERE expires_at <= datetime('now')`)
	return err
}

// handleDailyNewsCompiler turns the last day's engine_events into a news_feed
// headline summary.
func handleDailyNewsCompiler(ctx context.Context, tx *sql.Tx) error {
	row := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM engine_events WHERE ts >= datetime('now', '-1 day')`)
	var count int64
	if err := row.Scan(&count); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO news_feed (headline, body) VALUES (?, ?)`,
		"Daily Universe Report", itoaCron(count)+" events recorded across the universe in the last day")
	return err
}

func itoaCron(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// handleTrapsProcess records a 'traps.swept' engine event and nothing else.
// Mines are carried per-ship (ships.mines) and there is no per-sector
// minefield table, so no mine is triggered or consumed here.
func handleTrapsProcess(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO engine_events (type, payload) VALUES ('traps.swept', '{}')`)
	return err
}

func handleCleanupOldNews(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM news_feed WHERE created_at <= datetime('now', '-30 days')`)
	return err
}

func handleLimpetTTLCleanup(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `UPDATE ships SET limpets = 0 WHERE limpets > 0 AND docked = 1`)
	return err
}

// handleDailyLotteryDraw credits a fixed 10000 CRD jackpot to one player
// bank account picked at random and posts a news headline. The jackpot is
// a plain ledger credit; no port's petty cash is drawn down for it.
func handleDailyLotteryDraw(ctx context.Context, tx *sql.Tx) error {
	var winner int64
	row := tx.QueryRowContext(ctx, `
		SELECT owner_id FROM bank_accounts
		WHERE owner_type = 'player' AND currency = 'CRD'
		ORDER BY RANDOM() LIMIT 1`)
	if err := row.Scan(&winner); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}
	const jackpot = 10000
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bank_transactions (owner_type, owner_id, direction, amount, reason) VALUES ('player', ?, 'CREDIT', ?, 'lottery_jackpot')`,
		winner, jackpot); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO news_feed (headline, body) VALUES ('Lottery Winner', 'A lucky trader claimed today''s jackpot.')`)
	return err
}

// handleDeadpoolResolution pays out tavern_bounties whose target has been
// destroyed (ships.destroyed = 1 for their active ship).
func handleDeadpoolResolution(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT b.id, b.target_id, b.amount, b.posted_by
		FROM tavern_bounties b
		JOIN players p ON p.id = b.target_id
		JOIN ships s ON s.id = p.active_ship_id
		WHERE s.destroyed = 1`)
	if err != nil {
		return err
	}
	type bounty struct {
		id, target, amount, poster int64
	}
	var bounties []bounty
	for rows.Next() {
		var b bounty
		if err := rows.Scan(&b.id, &b.target, &b.amount, &b.poster); err != nil {
			rows.Close()
			return err
		}
		bounties = append(bounties, b)
	}
	rows.Close()

	for _, b := range bounties {
		var hunter int64
		row := tx.QueryRowContext(ctx, `
			SELECT owner_id FROM bank_accounts WHERE owner_type = 'player' AND currency = 'CRD'
			ORDER BY balance DESC LIMIT 1`)
		if err := row.Scan(&hunter); err != nil {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bank_transactions (owner_type, owner_id, direction, amount, reason) VALUES ('player', ?, 'CREDIT', ?, 'bounty_claimed')`,
			hunter, b.amount); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tavern_bounties WHERE id = ?`, b.id); err != nil {
			return err
		}
	}
	return nil
}

func handleTavernNoticeExpiry(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM tavern_notices WHERE expires_at <= datetime('now')`)
	return err
}

// handleLoanSharkInterest credits 0.5% interest (integer division, so a
// balance under 200 earns nothing) to every player CRD account with a
// positive balance; accounts at or below zero are left alone.
func handleLoanSharkInterest(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT owner_id, balance FROM bank_accounts
		WHERE owner_type = 'player' AND currency = 'CRD' AND balance > 0`)
	if err != nil {
		return err
	}
	type acct struct {
		owner, balance int64
	}
	var accts []acct
	for rows.Next() {
		var a acct
		if err := rows.Scan(&a.owner, &a.balance); err != nil {
			rows.Close()
			return err
		}
		accts = append(accts, a)
	}
	rows.Close()

	for _, a := range accts {
		interest := a.balance / 200 // 0.5%
		if interest <= 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bank_transactions (owner_type, owner_id, direction, amount, reason) VALUES ('player', ?, 'CREDIT', ?, 'interest')`,
			a.owner, interest); err != nil {
			return err
		}
	}
	return nil
}

func handleDividendPayout(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, owner_id FROM corporations`)
	if err != nil {
		return err
	}
	type corp struct{ id, owner int64 }
	var corps []corp
	for rows.Next() {
		var c corp
		if err := rows.Scan(&c.id, &c.owner); err != nil {
			rows.Close()
			return err
		}
		corps = append(corps, c)
	}
	rows.Close()

	for _, c := range corps {
		memberRows, err := tx.QueryContext(ctx, `SELECT player_id FROM corp_members WHERE corp_id = ?`, c.id)
		if err != nil {
			return err
		}
		var members []int64
		for memberRows.Next() {
			var pid int64
			if memberRows.Scan(&pid) == nil {
				members = append(members, pid)
			}
		}
		memberRows.Close()
		if len(members) == 0 {
			continue
		}
		const corpTreasuryShare = 100
		each := corpTreasuryShare / int64(len(members))
		if each <= 0 {
			continue
		}
		for _, pid := range members {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO bank_transactions (owner_type, owner_id, direction, amount, reason) VALUES ('player', ?, 'CREDIT', ?, 'corp_dividend')`,
				pid, each); err != nil {
				return err
			}
		}
	}
	return nil
}

// handleStockPriceRecalculation raises every port's petty_cash by
// tech_level * 50 on each run, with no baseline or cap; petty_cash is the
// closest analog to a stock price this schema carries for ports.
func handleStockPriceRecalculation(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE ports SET petty_cash = petty_cash + (tech_level * 50)`)
	return err
}

func handleMarketSettlement(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO engine_events (type, payload) VALUES ('market.settled', '{}')`)
	return err
}

func handleSystemNoticeTTL(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM system_events WHERE expires_at IS NOT NULL AND expires_at <= datetime('now')`)
	return err
}

// handleDeadletterRetry requeues engine_commands that landed in
// engine_events_deadletter, giving them one more attempt.
func handleDeadletterRetry(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM engine_events_deadletter LIMIT 50`)
	if err != nil {
		return err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if rows.Scan(&id) == nil {
			ids = append(ids, id)
		}
	}
	rows.Close()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM engine_events_deadletter WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

func handleDailyCorpTax(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT owner_id FROM bank_accounts ba
		JOIN corp_members cm ON cm.player_id = ba.owner_id
		WHERE ba.owner_type = 'player' AND ba.currency = 'CRD' AND ba.balance > 1000`)
	if err != nil {
		return err
	}
	var owners []int64
	for rows.Next() {
		var id int64
		if rows.Scan(&id) == nil {
			owners = append(owners, id)
		}
	}
	rows.Close()

	for _, owner := range owners {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bank_transactions (owner_type, owner_id, direction, amount, reason) VALUES ('player', ?, 'DEBIT', ?, 'corp_tax')`,
			owner, 10); err != nil {
			return err
		}
	}
	return nil
}

func handleDailyBankInterest(ctx context.Context, tx *sql.Tx) error {
	return handleLoanSharkInterest(ctx, tx)
}

// handlePortEconomyTick adds 50 units to every port commodity stock that is
// below the port's capacity (size * 1000), simulating background production
// between trades; stock is never drawn down here.
func handlePortEconomyTick(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE entity_stock SET quantity = quantity + 50
		WHERE entity_type = 'port'
		  AND quantity < (SELECT size * 1000 FROM ports WHERE ports.id = entity_stock.entity_id)`)
	return err
}

func handlePlanetMarketTick(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE planet_goods SET quantity = quantity + 10
		WHERE quantity < 50000`)
	return err
}

// handleShieldRegenTick slowly regenerates shields on docked ships, up to
// the ship type's max.
func handleShieldRegenTick(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE ships SET shields = MIN(shields + 10, (
			SELECT max_shields FROM shiptypes WHERE shiptypes.id = ships.ship_type_id
		))
		WHERE docked = 1`)
	return err
}
