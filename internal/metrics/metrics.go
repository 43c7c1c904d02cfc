// File: internal/metrics/metrics.go
// Project: Coldport
// Description: Process-wide counters and a minimal Prometheus-text exposition server
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector holds the counters that matter for an embedded-store TCP game
// server: connection churn, command throughput, store health, and cron
// liveness. It deliberately does not track per-faction/per-feature gameplay
// counters the way the donor repo's collector did — those belong to the
// handlers and cron jobs that own the underlying tables (engine_events,
// trade_log, ...), not to a central struct.
type Collector struct {
	mu sync.RWMutex

	connectionsTotal  atomic.Int64
	connectionsActive atomic.Int64
	commandsTotal     atomic.Int64
	commandsRefused   atomic.Int64
	commandsErrored   atomic.Int64

	dbQueries atomic.Int64
	dbErrors  atomic.Int64

	cronRuns   atomic.Int64
	cronErrors atomic.Int64

	customCounters map[string]*atomic.Int64
	startTime      time.Time
}

var (
	global     *Collector
	globalOnce sync.Once
)

// Init initializes the process-wide collector. Safe to call more than once.
func Init() *Collector {
	globalOnce.Do(func() {
		global = &Collector{
			customCounters: make(map[string]*atomic.Int64),
			startTime:      time.Now(),
		}
	})
	return global
}

// Global returns the process-wide collector, initializing it on first use.
func Global() *Collector {
	if global == nil {
		return Init()
	}
	return global
}

func (c *Collector) IncrementConnections() {
	c.connectionsTotal.Add(1)
	c.connectionsActive.Add(1)
}

func (c *Collector) DecrementActiveConnections() {
	c.connectionsActive.Add(-1)
}

func (c *Collector) IncrementCommands()        { c.commandsTotal.Add(1) }
func (c *Collector) IncrementCommandsRefused()  { c.commandsRefused.Add(1) }
func (c *Collector) IncrementCommandsErrored()  { c.commandsErrored.Add(1) }
func (c *Collector) IncrementDBQueries()        { c.dbQueries.Add(1) }
func (c *Collector) IncrementDBErrors()         { c.dbErrors.Add(1) }
func (c *Collector) IncrementCronRuns()         { c.cronRuns.Add(1) }
func (c *Collector) IncrementCronErrors()       { c.cronErrors.Add(1) }

// Custom returns (creating if needed) a named counter for call sites that
// don't warrant a first-class field, such as per-command-category counts
// the admin console breaks out on demand.
func (c *Collector) Custom(name string) *atomic.Int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctr, ok := c.customCounters[name]
	if !ok {
		ctr = &atomic.Int64{}
		c.customCounters[name] = ctr
	}
	return ctr
}

// Snapshot is a point-in-time copy suitable for JSON/text exposition.
type Snapshot struct {
	ConnectionsTotal  int64
	ConnectionsActive int64
	CommandsTotal     int64
	CommandsRefused   int64
	CommandsErrored   int64
	DBQueries         int64
	DBErrors          int64
	CronRuns          int64
	CronErrors        int64
	Uptime            time.Duration
	Custom            map[string]int64
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	custom := make(map[string]int64, len(c.customCounters))
	for k, v := range c.customCounters {
		custom[k] = v.Load()
	}
	c.mu.RUnlock()

	return Snapshot{
		ConnectionsTotal:  c.connectionsTotal.Load(),
		ConnectionsActive: c.connectionsActive.Load(),
		CommandsTotal:     c.commandsTotal.Load(),
		CommandsRefused:   c.commandsRefused.Load(),
		CommandsErrored:   c.commandsErrored.Load(),
		DBQueries:         c.dbQueries.Load(),
		DBErrors:          c.dbErrors.Load(),
		CronRuns:          c.cronRuns.Load(),
		CronErrors:        c.cronErrors.Load(),
		Uptime:            time.Since(c.startTime),
		Custom:            custom,
	}
}
