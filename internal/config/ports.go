// File: internal/config/ports.go
// Project: Coldport
// Description: store-backed server_port/s2s_port resolution with compiled fallback
package config

import (
	"context"
	"strconv"

	"github.com/coldport/coldport-server/internal/database"
)

const (
	DefaultServerPort = 2002
	DefaultS2SPort    = 2003
)

// ResolvePorts reads config.server_port / config.s2s_port from the store,
// falling back to compiled defaults (and logging a warning) if absent or
// unparseable.
func ResolvePorts(ctx context.Context, db *database.DB) (serverPort, s2sPort int) {
	serverPort = readIntConfig(ctx, db, "server_port", DefaultServerPort)
	s2sPort = readIntConfig(ctx, db, "s2s_port", DefaultS2SPort)
	return
}

func readIntConfig(ctx context.Context, db *database.DB, key string, fallback int) int {
	var value string
	row := db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		log.Warn("config.%s not set, using compiled default %d", key, fallback)
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn("config.%s=%q is malformed, using compiled default %d", key, value, fallback)
		return fallback
	}
	return n
}
