// File: internal/broadcast/broadcast.go
// Project: Coldport
// Description: Process-wide registry of live client contexts for push delivery
package broadcast

import (
	"sync"

	"github.com/coldport/coldport-server/internal/logger"
	"github.com/coldport/coldport-server/internal/protocol"
)

var log = logger.WithComponent("Broadcast")

// Client is anything a worker loop can hand the Broadcaster to receive
// pushed envelopes; the dispatcher's per-connection context implements it.
type Client interface {
	PlayerID() int64
	Send(env protocol.Outbound) error
}

// Broadcaster is a single mutex-guarded registry of connected clients. It
// does not own connection lifecycle — workers register on auth success and
// unregister on disconnect.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[Client]struct{}
}

func New() *Broadcaster {
	return &Broadcaster{clients: make(map[Client]struct{})}
}

func (b *Broadcaster) Register(c Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c] = struct{}{}
}

func (b *Broadcaster) Unregister(c Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, c)
}

// DeliverToPlayer sends an ok envelope of the given type to every
// registered context whose PlayerID matches. Returns the number delivered.
func (b *Broadcaster) DeliverToPlayer(playerID int64, responseType string, data interface{}) int {
	b.mu.RLock()
	targets := make([]Client, 0, 1)
	for c := range b.clients {
		if c.PlayerID() == playerID {
			targets = append(targets, c)
		}
	}
	b.mu.RUnlock()

	delivered := 0
	env := protocol.OK("", responseType, data)
	for _, c := range targets {
		if err := c.Send(env); err != nil {
			log.Warn("Failed to deliver to player: player_id=%d type=%s error=%v", playerID, responseType, err)
			continue
		}
		delivered++
	}
	return delivered
}

// DeliverToSector fans an event out to every connected client currently in
// the given sector, used for combat/warp-entry notifications.
func (b *Broadcaster) DeliverToSector(sectorOf func(playerID int64) (int64, bool), sectorID int64, responseType string, data interface{}) int {
	b.mu.RLock()
	targets := make([]Client, 0)
	for c := range b.clients {
		if sec, ok := sectorOf(c.PlayerID()); ok && sec == sectorID {
			targets = append(targets, c)
		}
	}
	b.mu.RUnlock()

	delivered := 0
	env := protocol.OK("", responseType, data)
	for _, c := range targets {
		if err := c.Send(env); err != nil {
			log.Warn("Failed to deliver to sector: sector_id=%d type=%s error=%v", sectorID, responseType, err)
			continue
		}
		delivered++
	}
	return delivered
}

func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
