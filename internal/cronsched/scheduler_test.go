// File: internal/cronsched/scheduler_test.go
// Project: Coldport
// Description: Tests for the scheduler's lock-acquire/run/release cycle
package cronsched

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coldport/coldport-server/internal/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(&database.Config{
		Path:          filepath.Join(t.TempDir(), "coldport_test.db"),
		BusyTimeoutMS: 5000,
		MaxOpenConns:  4,
	})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Bootstrap(context.Background()); err != nil {
		t.Fatalf("failed to bootstrap test store: %v", err)
	}
	return db
}

func TestRunOneExecutesHandlerAndAdvancesNextDue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx,
		`INSERT INTO cron_tasks (name, schedule, next_due_at) VALUES ('test:task', 'every:30s', datetime('now'))`); err != nil {
		t.Fatalf("failed to seed cron task: %v", err)
	}

	s := New(db, "1h")
	var ran int32
	s.Register("test:task", func(ctx context.Context, tx *sql.Tx) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	s.runOne(ctx, "test:task", "every:30s")

	if got := atomic.LoadInt32(&ran); got != 1 {
		t.Fatalf("handler ran %d times, want 1", got)
	}

	var lastRunAt sql.NullString
	var nextDueAt string
	if err := db.QueryRowContext(ctx,
		`SELECT last_run_at, next_due_at FROM cron_tasks WHERE name = 'test:task'`).Scan(&lastRunAt, &nextDueAt); err != nil {
		t.Fatalf("failed to read cron_tasks row: %v", err)
	}
	if !lastRunAt.Valid {
		t.Error("expected last_run_at to be set after a successful run")
	}
	next, err := time.Parse("2006-01-02 15:04:05", nextDueAt)
	if err != nil {
		t.Fatalf("failed to parse next_due_at: %v", err)
	}
	if !next.After(time.Now().Add(20 * time.Second)) {
		t.Errorf("next_due_at = %v, want roughly 30s in the future", next)
	}
}

func TestRunOneSkipsWhenLockHeldByAnotherOwner(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx,
		`INSERT INTO cron_tasks (name, schedule, next_due_at) VALUES ('test:locked', 'every:30s', datetime('now'))`); err != nil {
		t.Fatalf("failed to seed cron task: %v", err)
	}
	if err := db.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := database.AcquireLock(ctx, tx, "cron:test:locked", "another-process", 30_000)
		return err
	}); err != nil {
		t.Fatalf("failed to pre-acquire the lock: %v", err)
	}

	s := New(db, "1h")
	var ran int32
	s.Register("test:locked", func(ctx context.Context, tx *sql.Tx) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	s.runOne(ctx, "test:locked", "every:30s")

	if got := atomic.LoadInt32(&ran); got != 0 {
		t.Errorf("handler ran %d times while the lock was held elsewhere, want 0", got)
	}
}

func TestRunOneLeavesScheduleUnchangedOnHandlerError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx,
		`INSERT INTO cron_tasks (name, schedule, next_due_at) VALUES ('test:failing', 'every:30s', '2020-01-01 00:00:00')`); err != nil {
		t.Fatalf("failed to seed cron task: %v", err)
	}

	s := New(db, "1h")
	s.Register("test:failing", func(ctx context.Context, tx *sql.Tx) error {
		return sql.ErrConnDone
	})

	s.runOne(ctx, "test:failing", "every:30s")

	var nextDueAt string
	if err := db.QueryRowContext(ctx,
		`SELECT next_due_at FROM cron_tasks WHERE name = 'test:failing'`).Scan(&nextDueAt); err != nil {
		t.Fatalf("failed to read cron_tasks row: %v", err)
	}
	if nextDueAt != "2020-01-01 00:00:00" {
		t.Errorf("next_due_at = %q, want the seeded value unchanged after a failed run", nextDueAt)
	}
}

// TestScenarioS6CronSingleton models two scheduler processes racing for the
// same due tick: while one process holds the "cron:traps_process" lock, a
// second process's runOne must be a no-op; once the lock is free, exactly
// one process's run lands exactly one engine_events row.
func TestScenarioS6CronSingleton(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx,
		`INSERT INTO cron_tasks (name, schedule, next_due_at) VALUES ('traps_process', 'every:30s', datetime('now'))`); err != nil {
		t.Fatalf("failed to seed cron task: %v", err)
	}
	if err := db.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := database.AcquireLock(ctx, tx, "cron:traps_process", "process-a", 30_000)
		return err
	}); err != nil {
		t.Fatalf("failed to pre-acquire the lock for process-a: %v", err)
	}

	sB := New(db, "1h")
	sB.Register("traps_process", handleTrapsProcess)
	sB.runOne(ctx, "traps_process", "every:30s")

	var eventCount int
	db.QueryRowContext(ctx, `SELECT COUNT(*) FROM engine_events WHERE type = 'traps.swept'`).Scan(&eventCount)
	if eventCount != 0 {
		t.Fatalf("process-b ran the tick while process-a held the lock: engine_events count = %d, want 0", eventCount)
	}

	if err := db.WithTransaction(ctx, func(tx *sql.Tx) error {
		return database.ReleaseLock(ctx, tx, "cron:traps_process", "process-a")
	}); err != nil {
		t.Fatalf("failed to release process-a's lock: %v", err)
	}

	sB.runOne(ctx, "traps_process", "every:30s")
	db.QueryRowContext(ctx, `SELECT COUNT(*) FROM engine_events WHERE type = 'traps.swept'`).Scan(&eventCount)
	if eventCount != 1 {
		t.Errorf("expected exactly one engine_events row for the tick once the lock was free, got %d", eventCount)
	}
}
