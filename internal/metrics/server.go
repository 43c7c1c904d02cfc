// File: internal/metrics/server.go
// Project: Coldport
// Description: Minimal HTTP exposition for the process-wide collector
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/coldport/coldport-server/internal/database"
	"github.com/coldport/coldport-server/internal/logger"
)

var log = logger.WithComponent("Metrics")

// Server exposes the collector over HTTP in a Prometheus-compatible text
// format, plus a plain /health endpoint and the read-only admin surface
// (`/admin/events/tail`, `/admin/cron`) the operator console polls.
type Server struct {
	addr       string
	collector  *Collector
	db         *database.DB
	httpServer *http.Server
}

func NewServer(addr string, collector *Collector, db *database.DB) *Server {
	return &Server{addr: addr, collector: collector, db: db}
}

func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/admin/events/tail", s.handleEventsTail)
	mux.HandleFunc("/admin/cron", s.handleCronStatus)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	go func() {
		log.Info("Metrics server listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server error: %v", err)
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.collector.Snapshot()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "# TYPE coldport_connections_total counter\ncoldport_connections_total %d\n", snap.ConnectionsTotal)
	fmt.Fprintf(w, "# TYPE coldport_connections_active gauge\ncoldport_connections_active %d\n", snap.ConnectionsActive)
	fmt.Fprintf(w, "# TYPE coldport_commands_total counter\ncoldport_commands_total %d\n", snap.CommandsTotal)
	fmt.Fprintf(w, "# TYPE coldport_commands_refused_total counter\ncoldport_commands_refused_total %d\n", snap.CommandsRefused)
	fmt.Fprintf(w, "# TYPE coldport_commands_errored_total counter\ncoldport_commands_errored_total %d\n", snap.CommandsErrored)
	fmt.Fprintf(w, "# TYPE coldport_db_queries_total counter\ncoldport_db_queries_total %d\n", snap.DBQueries)
	fmt.Fprintf(w, "# TYPE coldport_db_errors_total counter\ncoldport_db_errors_total %d\n", snap.DBErrors)
	fmt.Fprintf(w, "# TYPE coldport_cron_runs_total counter\ncoldport_cron_runs_total %d\n", snap.CronRuns)
	fmt.Fprintf(w, "# TYPE coldport_cron_errors_total counter\ncoldport_cron_errors_total %d\n", snap.CronErrors)
	fmt.Fprintf(w, "# TYPE coldport_uptime_seconds gauge\ncoldport_uptime_seconds %.0f\n", snap.Uptime.Seconds())

	for name, v := range snap.Custom {
		fmt.Fprintf(w, "coldport_custom{name=%q} %d\n", name, v)
	}
}

// EventRow is one row of the engine_events tail, as returned by
// GET /admin/events/tail.
type EventRow struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Payload   string `json:"payload"`
	CreatedAt string `json:"created_at"`
}

// handleEventsTail backs `GET /admin/events/tail?since=<id>&limit=<n>`: the
// admin console's only way to see engine_events without a database driver
// of its own. since=0 (the default) returns the most recent rows.
func (s *Server) handleEventsTail(w http.ResponseWriter, r *http.Request) {
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, type, payload, created_at FROM engine_events
		WHERE id > ? ORDER BY id DESC LIMIT ?`, since, limit)
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	events := []EventRow{}
	for rows.Next() {
		var e EventRow
		if rows.Scan(&e.ID, &e.Type, &e.Payload, &e.CreatedAt) == nil {
			events = append(events, e)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// CronTaskRow is one row of the cron task table, as returned by
// GET /admin/cron.
type CronTaskRow struct {
	Name      string `json:"name"`
	Schedule  string `json:"schedule"`
	Enabled   bool   `json:"enabled"`
	LastRunAt string `json:"last_run_at"`
	NextDueAt string `json:"next_due_at"`
}

func (s *Server) handleCronStatus(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(), `
		SELECT name, schedule, enabled, COALESCE(last_run_at, ''), next_due_at
		FROM cron_tasks ORDER BY name`)
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	tasks := []CronTaskRow{}
	for rows.Next() {
		var t CronTaskRow
		var enabled int
		if rows.Scan(&t.Name, &t.Schedule, &enabled, &t.LastRunAt, &t.NextDueAt) == nil {
			t.Enabled = enabled != 0
			tasks = append(tasks, t)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tasks)
}
