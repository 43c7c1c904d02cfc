// File: internal/session/manager.go
// Project: Coldport
// Description: In-process online-player registry with inactivity cleanup
package session

import (
	"context"
	"sync"
	"time"

	"github.com/coldport/coldport-server/internal/database"
)

// Online tracks a connected player's liveness. Persistent state (credits,
// position, cargo) is already committed per-handler by the dispatcher;
// this registry exists only to answer "who is online" and to flip
// is_online back to false if a connection goes away without a clean
// auth.logout.
type Online struct {
	PlayerID     int64
	Token        string
	ConnectedAt  time.Time
	LastActivity time.Time
}

// Manager is the process-wide online-player registry plus a background
// worker that marks inactive connections offline.
type Manager struct {
	mu      sync.RWMutex
	players map[int64]*Online

	db                *database.DB
	inactivityTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(db *database.DB) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		players:           make(map[int64]*Online),
		db:                db,
		inactivityTimeout: 15 * time.Minute,
		ctx:               ctx,
		cancel:            cancel,
	}
	m.wg.Add(1)
	go m.cleanupWorker()
	return m
}

func (m *Manager) MarkOnline(ctx context.Context, playerID int64, token string) {
	m.mu.Lock()
	now := time.Now()
	m.players[playerID] = &Online{PlayerID: playerID, Token: token, ConnectedAt: now, LastActivity: now}
	m.mu.Unlock()

	if _, err := m.db.ExecContext(ctx, `UPDATE players SET is_online = 1 WHERE id = ?`, playerID); err != nil {
		log.Warn("Failed to mark player online: player_id=%d error=%v", playerID, err)
	}
}

func (m *Manager) Touch(playerID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.players[playerID]; ok {
		o.LastActivity = time.Now()
	}
}

func (m *Manager) MarkOffline(ctx context.Context, playerID int64) {
	m.mu.Lock()
	delete(m.players, playerID)
	m.mu.Unlock()

	if _, err := m.db.ExecContext(ctx, `UPDATE players SET is_online = 0 WHERE id = ?`, playerID); err != nil {
		log.Warn("Failed to mark player offline: player_id=%d error=%v", playerID, err)
	}
}

func (m *Manager) IsOnline(playerID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.players[playerID]
	return ok
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players)
}

func (m *Manager) cleanupWorker() {
	defer m.wg.Done()
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweepInactive()
		}
	}
}

func (m *Manager) sweepInactive() {
	now := time.Now()
	var stale []int64

	m.mu.RLock()
	for id, o := range m.players {
		if now.Sub(o.LastActivity) > m.inactivityTimeout {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		log.Info("Marking inactive player offline: player_id=%d", id)
		m.MarkOffline(m.ctx, id)
	}
}

func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}
