// File: internal/handlers/deps.go
// Project: Coldport
// Description: Shared handler dependencies, following the pure
//              (ctx, root) -> envelope pattern: every handler closes over
//              Deps and emits exactly one envelope.
package handlers

import (
	"github.com/coldport/coldport-server/internal/broadcast"
	"github.com/coldport/coldport-server/internal/database"
	"github.com/coldport/coldport-server/internal/dispatch"
	"github.com/coldport/coldport-server/internal/logger"
	"github.com/coldport/coldport-server/internal/session"
)

var log = logger.WithComponent("Handlers")

type Deps struct {
	DB          *database.DB
	Auth        *session.Auth
	Sessions    *session.Manager
	Broadcaster *broadcast.Broadcaster
}

// All returns every registered command -> handler mapping, ready to pass
// to Dispatcher.RegisterMany.
func All(d *Deps) map[string]dispatch.HandlerFunc {
	out := map[string]dispatch.HandlerFunc{}
	merge(out, d.authHandlers())
	merge(out, d.sectorHandlers())
	merge(out, d.moveHandlers())
	merge(out, d.shipHandlers())
	merge(out, d.tradeHandlers())
	merge(out, d.bankHandlers())
	merge(out, d.citadelHandlers())
	merge(out, d.corpHandlers())
	merge(out, d.commHandlers())
	return out
}

func merge(dst, src map[string]dispatch.HandlerFunc) {
	for k, v := range src {
		dst[k] = v
	}
}
