// File: internal/cronsched/scheduler.go
// Project: Coldport
// Description: Tick loop over cron_tasks: lease-based single-execution via
//              database.AcquireLock/ReleaseLock so only one process in a
//              multi-instance deployment runs a given named task per tick.
package cronsched

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/coldport/coldport-server/internal/database"
	"github.com/coldport/coldport-server/internal/logger"
	"github.com/coldport/coldport-server/internal/metrics"
	"github.com/google/uuid"
)

var log = logger.WithComponent("Cron")

// Handler runs one named task's logic inside the given transaction.
type Handler func(ctx context.Context, tx *sql.Tx) error

const lockTTLMs = 30_000

// Scheduler owns the tick loop and the name -> Handler registry.
type Scheduler struct {
	db           *database.DB
	tickInterval time.Duration
	handlers     map[string]Handler
	owner        string
}

func New(db *database.DB, tickInterval string) *Scheduler {
	d, err := time.ParseDuration(tickInterval)
	if err != nil || d <= 0 {
		d = 10 * time.Second
	}
	return &Scheduler{
		db:           db,
		tickInterval: d,
		handlers:     make(map[string]Handler),
		owner:        uuid.NewString(),
	}
}

func (s *Scheduler) Register(name string, h Handler) {
	s.handlers[name] = h
}

func (s *Scheduler) RegisterMany(handlers map[string]Handler) {
	for name, h := range handlers {
		s.handlers[name] = h
	}
}

// Run blocks until ctx is cancelled, ticking at s.tickInterval.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	log.Info("Cron scheduler started: tick_interval=%s owner=%s", s.tickInterval, s.owner)
	for {
		select {
		case <-ctx.Done():
			log.Info("Cron scheduler stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, schedule FROM cron_tasks
		WHERE enabled = 1 AND (next_due_at IS NULL OR next_due_at <= datetime('now'))`)
	if err != nil {
		log.Error("Failed to list due cron tasks: error=%v", err)
		return
	}
	var due []struct{ name, schedule string }
	for rows.Next() {
		var t struct{ name, schedule string }
		if rows.Scan(&t.name, &t.schedule) == nil {
			due = append(due, t)
		}
	}
	rows.Close()

	for _, t := range due {
		s.runOne(ctx, t.name, t.schedule)
	}
}

func (s *Scheduler) runOne(ctx context.Context, name, schedule string) {
	handler, ok := s.handlers[name]
	if !ok {
		log.Warn("No handler registered for cron task: name=%s", name)
		return
	}

	err := s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		acquired, err := database.AcquireLock(ctx, tx, "cron:"+name, s.owner, lockTTLMs)
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if !acquired {
			return nil
		}
		defer database.ReleaseLock(ctx, tx, "cron:"+name, s.owner)

		if err := handler(ctx, tx); err != nil {
			return fmt.Errorf("handler failed: %w", err)
		}

		next, err := NextDue(schedule, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to compute next run: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE cron_tasks SET last_run_at = datetime('now'), next_due_at = ? WHERE name = ?`,
			next.Format("2006-01-02 15:04:05"), name)
		return err
	})
	if err != nil {
		metrics.Global().IncrementCronErrors()
		log.Error("Cron task failed: name=%s error=%v", name, err)
		return
	}
	metrics.Global().IncrementCronRuns()
}
