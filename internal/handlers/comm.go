// File: internal/handlers/comm.go
// Project: Coldport
// Description: comm.subspace/mail.*, tavern.notice/bounty, news.recent
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/coldport/coldport-server/internal/dispatch"
	"github.com/coldport/coldport-server/internal/protocol"
	"github.com/coldport/coldport-server/internal/validation"
)

func (d *Deps) commHandlers() map[string]dispatch.HandlerFunc {
	return map[string]dispatch.HandlerFunc{
		"comm.subspace":      d.handleCommSubspace,
		"mail.send":          d.handleMailSend,
		"mail.inbox":         d.handleMailInbox,
		"tavern.notice.post": d.handleTavernNoticePost,
		"tavern.notice.list": d.handleTavernNoticeList,
		"tavern.bounty.post": d.handleTavernBountyPost,
		"tavern.bounty.list": d.handleTavernBountyList,
		"news.recent":        d.handleNewsRecent,
	}
}

func (d *Deps) handleCommSubspace(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil || in.Body == "" {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "body is required")
	}
	in.Body = validation.SanitizeChatMessage(in.Body)

	playerID := cc.PlayerID()
	sectorID, err := d.currentSectorID(ctx, playerID)
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "failed to resolve current sector")
	}

	if _, err := d.DB.ExecContext(ctx,
		`INSERT INTO subspace (sender_id, sector, body) VALUES (?, ?, ?)`, playerID, sectorID, in.Body); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}

	d.Broadcaster.DeliverToSector(func(pid int64) (int64, bool) {
		return d.sectorOfPlayer(ctx, pid)
	}, sectorID, "comm.subspace_v1", map[string]interface{}{"sender_id": playerID, "body": in.Body})

	return protocol.OK(req.RequestID, "comm.subspace_sent_v1", map[string]interface{}{})
}

func (d *Deps) sectorOfPlayer(ctx context.Context, playerID int64) (int64, bool) {
	sid, err := d.currentSectorID(ctx, playerID)
	if err != nil {
		return 0, false
	}
	return sid, true
}

func (d *Deps) handleMailSend(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in struct {
		RecipientID int64  `json:"recipient_id"`
		Subject     string `json:"subject"`
		Body        string `json:"body"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil || in.Body == "" {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "body is required")
	}
	in.Subject = validation.SanitizeChatMessage(in.Subject)
	in.Body = validation.SanitizeChatMessage(in.Body)
	if _, err := d.DB.ExecContext(ctx,
		`INSERT INTO mail (sender_id, recipient_id, subject, body) VALUES (?, ?, ?, ?)`,
		cc.PlayerID(), in.RecipientID, in.Subject, in.Body); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return protocol.OK(req.RequestID, "mail.sent_v1", map[string]interface{}{})
}

func (d *Deps) handleMailInbox(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, sender_id, subject, body, read, created_at
		FROM mail WHERE recipient_id = ? ORDER BY id DESC LIMIT 50`, cc.PlayerID())
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	defer rows.Close()

	type entry struct {
		ID        int64          `json:"id"`
		SenderID  int64          `json:"sender_id"`
		Subject   sql.NullString `json:"-"`
		Body      string         `json:"body"`
		Read      bool           `json:"read"`
		CreatedAt string         `json:"created_at"`
	}
	type outEntry struct {
		ID        int64  `json:"id"`
		SenderID  int64  `json:"sender_id"`
		Subject   string `json:"subject"`
		Body      string `json:"body"`
		Read      bool   `json:"read"`
		CreatedAt string `json:"created_at"`
	}
	var entries []outEntry
	for rows.Next() {
		var e entry
		var readInt int
		if rows.Scan(&e.ID, &e.SenderID, &e.Subject, &e.Body, &readInt, &e.CreatedAt) == nil {
			entries = append(entries, outEntry{
				ID: e.ID, SenderID: e.SenderID, Subject: e.Subject.String, Body: e.Body,
				Read: readInt == 1, CreatedAt: e.CreatedAt,
			})
		}
	}
	return protocol.OK(req.RequestID, "mail.inbox_v1", map[string]interface{}{"messages": entries})
}

func (d *Deps) handleTavernNoticePost(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in struct {
		Body       string `json:"body"`
		TTLMinutes int64  `json:"ttl_minutes"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil || in.Body == "" {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "body is required")
	}
	if in.TTLMinutes <= 0 {
		in.TTLMinutes = 60
	}
	in.Body = validation.SanitizeChatMessage(in.Body)

	sectorID, err := d.currentSectorID(ctx, cc.PlayerID())
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "failed to resolve current sector")
	}
	if _, err := d.DB.ExecContext(ctx, `
		INSERT INTO tavern_notices (sector, body, expires_at)
		VALUES (?, ?, datetime('now', '+' || ? || ' minutes'))`, sectorID, in.Body, in.TTLMinutes); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return protocol.OK(req.RequestID, "tavern.notice.posted_v1", map[string]interface{}{})
}

func (d *Deps) handleTavernNoticeList(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	sectorID, err := d.currentSectorID(ctx, cc.PlayerID())
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "failed to resolve current sector")
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT body, expires_at FROM tavern_notices
		WHERE sector = ? AND expires_at > datetime('now') ORDER BY id DESC LIMIT 20`, sectorID)
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	defer rows.Close()

	type entry struct {
		Body      string `json:"body"`
		ExpiresAt string `json:"expires_at"`
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if rows.Scan(&e.Body, &e.ExpiresAt) == nil {
			entries = append(entries, e)
		}
	}
	return protocol.OK(req.RequestID, "tavern.notice.list_v1", map[string]interface{}{"notices": entries})
}

func (d *Deps) handleTavernBountyPost(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in struct {
		TargetID int64 `json:"target_id"`
		Amount   int64 `json:"amount"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil || in.Amount <= 0 {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "amount must be positive")
	}

	playerID := cc.PlayerID()
	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bank_transactions (owner_type, owner_id, direction, amount, reason) VALUES ('player', ?, 'DEBIT', ?, 'bounty_posted')`,
			playerID, in.Amount); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tavern_bounties (target_id, amount, posted_by) VALUES (?, ?, ?)`,
			in.TargetID, in.Amount, playerID)
		return err
	})
	if err != nil {
		return protocol.Refused(req.RequestID, protocol.ErrServerError, "insufficient bank balance to post bounty", nil)
	}
	return protocol.OK(req.RequestID, "tavern.bounty.posted_v1", map[string]interface{}{"target_id": in.TargetID, "amount": in.Amount})
}

func (d *Deps) handleTavernBountyList(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT target_id, amount, posted_by, created_at FROM tavern_bounties ORDER BY id DESC LIMIT 50`)
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	defer rows.Close()

	type entry struct {
		TargetID  int64  `json:"target_id"`
		Amount    int64  `json:"amount"`
		PostedBy  int64  `json:"posted_by"`
		CreatedAt string `json:"created_at"`
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if rows.Scan(&e.TargetID, &e.Amount, &e.PostedBy, &e.CreatedAt) == nil {
			entries = append(entries, e)
		}
	}
	return protocol.OK(req.RequestID, "tavern.bounty.list_v1", map[string]interface{}{"bounties": entries})
}

func (d *Deps) handleNewsRecent(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT headline, body, created_at FROM news_feed ORDER BY id DESC LIMIT 20`)
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	defer rows.Close()

	type entry struct {
		Headline  string `json:"headline"`
		Body      string `json:"body"`
		CreatedAt string `json:"created_at"`
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if rows.Scan(&e.Headline, &e.Body, &e.CreatedAt) == nil {
			entries = append(entries, e)
		}
	}
	return protocol.OK(req.RequestID, "news.recent_v1", map[string]interface{}{"items": entries})
}
