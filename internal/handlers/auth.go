// File: internal/handlers/auth.go
// Project: Coldport
// Description: auth.register/login/logout/refresh
package handlers

import (
	"context"
	"encoding/json"

	"github.com/coldport/coldport-server/internal/dispatch"
	"github.com/coldport/coldport-server/internal/protocol"
	"github.com/coldport/coldport-server/internal/session"
	"github.com/coldport/coldport-server/internal/validation"
)

type authCredentials struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (d *Deps) authHandlers() map[string]dispatch.HandlerFunc {
	return map[string]dispatch.HandlerFunc{
		"auth.register": d.handleAuthRegister,
		"auth.login":    d.handleAuthLogin,
		"auth.logout":   d.handleAuthLogout,
		"auth.refresh":  d.handleAuthRefresh,
	}
}

func (d *Deps) handleAuthRegister(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var creds authCredentials
	if err := json.Unmarshal(req.Data, &creds); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}
	if err := validation.ValidateUsername(creds.Name); err != nil {
		return protocol.Refused(req.RequestID, protocol.ErrServerError, err.Error(), nil)
	}

	token, playerID, err := d.Auth.Register(ctx, creds.Name, creds.Password)
	if err != nil {
		switch err {
		case session.ErrNameTaken:
			return protocol.Refused(req.RequestID, protocol.ErrServerError, "name already taken", nil)
		case session.ErrPasswordTooShort:
			return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "password too short")
		default:
			log.Error("Register failed: error=%v", err)
			return protocol.Error(req.RequestID, protocol.ErrDB, "registration failed")
		}
	}

	cc.SetAuth(playerID, token)
	d.Broadcaster.Register(cc)
	d.Sessions.MarkOnline(ctx, playerID, token)

	return protocol.OK(req.RequestID, "auth.registered_v1", map[string]interface{}{
		"token":     token,
		"player_id": playerID,
	})
}

func (d *Deps) handleAuthLogin(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var creds authCredentials
	if err := json.Unmarshal(req.Data, &creds); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}

	token, playerID, err := d.Auth.Login(ctx, creds.Name, creds.Password)
	if err != nil {
		if err == session.ErrInvalidCredentials {
			return protocol.Refused(req.RequestID, protocol.ErrNotAuthenticated, "invalid name or password", nil)
		}
		log.Error("Login failed: error=%v", err)
		return protocol.Error(req.RequestID, protocol.ErrDB, "login failed")
	}

	cc.SetAuth(playerID, token)
	d.Broadcaster.Register(cc)
	d.Sessions.MarkOnline(ctx, playerID, token)

	return protocol.OK(req.RequestID, "auth.logged_in_v1", map[string]interface{}{
		"token":     token,
		"player_id": playerID,
	})
}

func (d *Deps) handleAuthLogout(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	playerID := cc.PlayerID()
	if err := d.Auth.Logout(ctx, cc.Token()); err != nil {
		log.Warn("Logout failed: player_id=%d error=%v", playerID, err)
	}
	d.Sessions.MarkOffline(ctx, playerID)
	d.Broadcaster.Unregister(cc)
	cc.ClearAuth()

	return protocol.OK(req.RequestID, "auth.logged_out_v1", map[string]interface{}{})
}

func (d *Deps) handleAuthRefresh(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	newToken, err := d.Auth.Refresh(ctx, cc.Token())
	if err != nil {
		return protocol.Refused(req.RequestID, protocol.ErrNotAuthenticated, "session expired", nil)
	}
	cc.SetAuth(cc.PlayerID(), newToken)
	return protocol.OK(req.RequestID, "auth.refreshed_v1", map[string]interface{}{"token": newToken})
}
