// File: internal/handlers/corp.go
// Project: Coldport
// Description: corp.create/join/leave/promote/mail/log
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/coldport/coldport-server/internal/dispatch"
	"github.com/coldport/coldport-server/internal/protocol"
)

func (d *Deps) corpHandlers() map[string]dispatch.HandlerFunc {
	return map[string]dispatch.HandlerFunc{
		"corp.create":  d.handleCorpCreate,
		"corp.join":    d.handleCorpJoin,
		"corp.leave":   d.handleCorpLeave,
		"corp.promote": d.handleCorpPromote,
		"corp.mail":    d.handleCorpMail,
		"corp.log":     d.handleCorpLog,
	}
}

func (d *Deps) corpLogEntry(ctx context.Context, tx *sql.Tx, corpID int64, entry string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO corp_log (corp_id, entry) VALUES (?, ?)`, corpID, entry)
	return err
}

func (d *Deps) handleCorpCreate(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in struct {
		Name string `json:"name"`
		Tag  string `json:"tag"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil || in.Name == "" || in.Tag == "" {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "name and tag are required")
	}
	if len(in.Tag) < 2 || len(in.Tag) > 5 {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "tag must be 2-5 alphanumeric characters")
	}
	for _, r := range in.Tag {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "tag must be 2-5 alphanumeric characters")
		}
	}

	playerID := cc.PlayerID()
	var corpID int64
	var outcome protocol.Outbound
	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO corporations (name, tag, owner_id) VALUES (?, ?, ?)`, in.Name, in.Tag, playerID)
		if err != nil {
			outcome = protocol.Refused(req.RequestID, protocol.ErrServerError, "corporation name already taken", nil)
			return nil
		}
		corpID, _ = res.LastInsertId()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO corp_members (corp_id, player_id, role) VALUES (?, ?, 'Leader')`, corpID, playerID); err != nil {
			return err
		}
		return d.corpLogEntry(ctx, tx, corpID, "corporation founded")
	})
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	if outcome.Status != "" {
		return outcome
	}
	return protocol.OK(req.RequestID, "corp.created_v1", map[string]interface{}{"corp_id": corpID})
}

func (d *Deps) handleCorpJoin(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in struct {
		CorpID int64 `json:"corp_id"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}

	playerID := cc.PlayerID()
	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO corp_members (corp_id, player_id, role) VALUES (?, ?, 'Member')`, in.CorpID, playerID); err != nil {
			return err
		}
		return d.corpLogEntry(ctx, tx, in.CorpID, "member joined")
	})
	if err != nil {
		return protocol.Refused(req.RequestID, protocol.ErrServerError, "already a member of this corporation", nil)
	}
	return protocol.OK(req.RequestID, "corp.joined_v1", map[string]interface{}{"corp_id": in.CorpID})
}

func (d *Deps) handleCorpLeave(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in struct {
		CorpID int64 `json:"corp_id"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}

	playerID := cc.PlayerID()
	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM corp_members WHERE corp_id = ? AND player_id = ?`, in.CorpID, playerID); err != nil {
			return err
		}
		return d.corpLogEntry(ctx, tx, in.CorpID, "member left")
	})
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return protocol.OK(req.RequestID, "corp.left_v1", map[string]interface{}{"corp_id": in.CorpID})
}

func (d *Deps) handleCorpPromote(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in struct {
		CorpID   int64  `json:"corp_id"`
		PlayerID int64  `json:"player_id"`
		Role     string `json:"role"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil || in.Role == "" {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}

	requesterID := cc.PlayerID()
	err := d.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		var requesterRole string
		if err := tx.QueryRowContext(ctx,
			`SELECT role FROM corp_members WHERE corp_id = ? AND player_id = ?`, in.CorpID, requesterID).
			Scan(&requesterRole); err != nil {
			return err
		}
		if requesterRole != "Owner" {
			return sql.ErrNoRows
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE corp_members SET role = ? WHERE corp_id = ? AND player_id = ?`, in.Role, in.CorpID, in.PlayerID); err != nil {
			return err
		}
		return d.corpLogEntry(ctx, tx, in.CorpID, "member promoted to "+in.Role)
	})
	if err != nil {
		return protocol.Refused(req.RequestID, protocol.ErrServerError, "only the corporation owner may promote members", nil)
	}
	return protocol.OK(req.RequestID, "corp.promoted_v1", map[string]interface{}{"player_id": in.PlayerID, "role": in.Role})
}

func (d *Deps) handleCorpMail(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in struct {
		CorpID int64  `json:"corp_id"`
		Body   string `json:"body"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil || in.Body == "" {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "body is required")
	}
	if _, err := d.DB.ExecContext(ctx,
		`INSERT INTO corp_mail (corp_id, sender_id, body) VALUES (?, ?, ?)`, in.CorpID, cc.PlayerID(), in.Body); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	return protocol.OK(req.RequestID, "corp.mail_sent_v1", map[string]interface{}{})
}

func (d *Deps) handleCorpLog(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in struct {
		CorpID int64 `json:"corp_id"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}
	rows, err := d.DB.QueryContext(ctx,
		`SELECT entry, created_at FROM corp_log WHERE corp_id = ? ORDER BY id DESC LIMIT 50`, in.CorpID)
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	defer rows.Close()

	type entry struct {
		Entry     string `json:"entry"`
		CreatedAt string `json:"created_at"`
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if rows.Scan(&e.Entry, &e.CreatedAt) == nil {
			entries = append(entries, e)
		}
	}
	return protocol.OK(req.RequestID, "corp.log_v1", map[string]interface{}{"entries": entries})
}
