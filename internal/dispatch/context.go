// File: internal/dispatch/context.go
// Project: Coldport
// Description: Per-connection client context
package dispatch

import (
	"net"
	"sync"

	"github.com/coldport/coldport-server/internal/protocol"
	"golang.org/x/time/rate"
)

// ClientContext is the per-connection state a worker owns for its entire
// lifetime; nothing here is shared across goroutines except through the
// Broadcaster, which only ever calls Send (itself mutex-guarded below).
type ClientContext struct {
	Conn       net.Conn
	Peer       string
	writer     *protocol.Writer
	writeMu    sync.Mutex
	commandRate *rate.Limiter

	playerID int64
	sectorID int64
	token    string
	mu       sync.RWMutex
}

// NewClientContext wraps a connection and its per-command token bucket.
// Exported so handler-level tests can build a ClientContext without an
// accept loop.
func NewClientContext(conn net.Conn, commandRate *rate.Limiter) *ClientContext {
	return &ClientContext{
		Conn:        conn,
		Peer:        conn.RemoteAddr().String(),
		writer:      protocol.NewWriter(conn),
		commandRate: commandRate,
	}
}

func (c *ClientContext) PlayerID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playerID
}

func (c *ClientContext) SectorID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sectorID
}

func (c *ClientContext) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *ClientContext) SetAuth(playerID int64, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playerID = playerID
	c.token = token
}

func (c *ClientContext) SetSector(sectorID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sectorID = sectorID
}

func (c *ClientContext) ClearAuth() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playerID = 0
	c.token = ""
}

func (c *ClientContext) Authenticated() bool {
	return c.PlayerID() != 0
}

// Send implements broadcast.Client: a pushed envelope shares the same
// writer and mutex as request/response traffic so frames never interleave.
func (c *ClientContext) Send(env protocol.Outbound) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writer.WriteEnvelope(env)
}
