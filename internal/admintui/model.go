// File: internal/admintui/model.go
// Project: Coldport
// Description: Read-only operator dashboard: polls the server's admin HTTP
//              surface (/metrics, /admin/cron, /admin/events/tail) and
//              renders connected-session count, cron task status, and the
//              engine_events tail. Performs no mutation.
package admintui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/coldport/coldport-server/internal/metrics"
)

const pollInterval = 2 * time.Second

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Underline(true)
)

// Model is the operator console's single screen: no navigation, no input
// beyond quit, since the console has nothing to mutate.
type Model struct {
	client  *http.Client
	baseURL string

	counters map[string]int64
	cron     []metrics.CronTaskRow
	events   []metrics.EventRow
	lastErr  error
	width    int
}

func New(baseURL string) Model {
	return Model{
		client:   &http.Client{Timeout: 3 * time.Second},
		baseURL:  strings.TrimRight(baseURL, "/"),
		counters: make(map[string]int64),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.pollOnce(), tickCmd())
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type pollResultMsg struct {
	counters map[string]int64
	cron     []metrics.CronTaskRow
	events   []metrics.EventRow
	err      error
}

// pollOnce fetches all three admin endpoints sequentially; the console
// polls every few seconds, so there is no value in parallelizing three
// requests against a single operator-facing server.
func (m Model) pollOnce() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		counters, err := fetchMetrics(ctx, m.client, m.baseURL)
		if err != nil {
			return pollResultMsg{err: err}
		}
		cron, err := fetchCron(ctx, m.client, m.baseURL)
		if err != nil {
			return pollResultMsg{err: err}
		}
		events, err := fetchEvents(ctx, m.client, m.baseURL)
		if err != nil {
			return pollResultMsg{err: err}
		}
		return pollResultMsg{counters: counters, cron: cron, events: events}
	}
}

func fetchMetrics(ctx context.Context, client *http.Client, baseURL string) (map[string]int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/metrics", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	counters := make(map[string]int64)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		name := fields[0]
		if idx := strings.IndexByte(name, '{'); idx != -1 {
			name = name[:idx]
		}
		if v, err := strconv.ParseFloat(fields[1], 64); err == nil {
			counters[name] = int64(v)
		}
	}
	return counters, scanner.Err()
}

func fetchCron(ctx context.Context, client *http.Client, baseURL string) ([]metrics.CronTaskRow, error) {
	var tasks []metrics.CronTaskRow
	if err := fetchJSON(ctx, client, baseURL+"/admin/cron", &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func fetchEvents(ctx context.Context, client *http.Client, baseURL string) ([]metrics.EventRow, error) {
	var events []metrics.EventRow
	if err := fetchJSON(ctx, client, baseURL+"/admin/events/tail?limit=20", &events); err != nil {
		return nil, err
	}
	return events, nil
}

func fetchJSON(ctx context.Context, client *http.Client, url string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil

	case tickMsg:
		return m, m.pollOnce()

	case pollResultMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.counters = msg.counters
			m.cron = msg.cron
			m.events = msg.events
		}
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Coldport Admin Console"))
	b.WriteString("\n")

	if m.lastErr != nil {
		b.WriteString(errStyle.Render(fmt.Sprintf("poll failed: %v", m.lastErr)))
		b.WriteString("\n\n")
	}

	b.WriteString(headerStyle.Render("Server"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s %d\n", labelStyle.Render("active sessions:"), m.counters["coldport_connections_active"]))
	b.WriteString(fmt.Sprintf("%s %d\n", labelStyle.Render("commands handled:"), m.counters["coldport_commands_total"]))
	b.WriteString(fmt.Sprintf("%s %d\n", labelStyle.Render("commands refused:"), m.counters["coldport_commands_refused_total"]))
	b.WriteString(fmt.Sprintf("%s %d\n", labelStyle.Render("commands errored:"), m.counters["coldport_commands_errored_total"]))
	b.WriteString(fmt.Sprintf("%s %d\n", labelStyle.Render("uptime (s):"), m.counters["coldport_uptime_seconds"]))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Cron tasks"))
	b.WriteString("\n")
	if len(m.cron) == 0 {
		b.WriteString(labelStyle.Render("(none)") + "\n")
	}
	for _, t := range m.cron {
		state := "enabled"
		if !t.Enabled {
			state = "disabled"
		}
		b.WriteString(fmt.Sprintf("%-24s %-14s %-9s last=%-20s next=%s\n",
			t.Name, t.Schedule, state, t.LastRunAt, t.NextDueAt))
	}
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Recent engine events"))
	b.WriteString("\n")
	if len(m.events) == 0 {
		b.WriteString(labelStyle.Render("(none)") + "\n")
	}
	for _, e := range m.events {
		b.WriteString(fmt.Sprintf("#%-6d %-24s %s  %s\n", e.ID, e.Type, e.CreatedAt, truncate(e.Payload, 60)))
	}

	b.WriteString("\n" + labelStyle.Render("q to quit, refreshes every 2s"))
	return b.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
