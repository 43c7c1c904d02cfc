// File: internal/cronsched/schedule_test.go
// Project: Coldport
// Description: Exhaustive tests for the every:/daily@ schedule mini-language
package cronsched

import (
	"testing"
	"time"
)

func TestNextDueEvery(t *testing.T) {
	from := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		schedule string
		want     time.Duration
	}{
		{"every:30s", 30 * time.Second},
		{"every:5m", 5 * time.Minute},
		{"every:2h", 2 * time.Hour},
		{"every:1d", 24 * time.Hour},
	}
	for _, c := range cases {
		t.Run(c.schedule, func(t *testing.T) {
			got, err := NextDue(c.schedule, from)
			if err != nil {
				t.Fatalf("NextDue(%q) returned error: %v", c.schedule, err)
			}
			if want := from.Add(c.want); !got.Equal(want) {
				t.Errorf("NextDue(%q) = %v, want %v", c.schedule, got, want)
			}
		})
	}
}

func TestNextDueDailyAt(t *testing.T) {
	t.Run("later today rolls to that time today", func(t *testing.T) {
		from := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
		got, err := NextDue("daily@09:30Z", from)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("earlier today rolls to tomorrow", func(t *testing.T) {
		from := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		got, err := NextDue("daily@09:30Z", from)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("exact instant rolls to tomorrow, not a repeat", func(t *testing.T) {
		from := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
		got, err := NextDue("daily@09:30Z", from)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("accepts missing trailing Z", func(t *testing.T) {
		from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		if _, err := NextDue("daily@00:00", from); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestNextDueRejectsMalformedSchedules(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bad := []string{
		"",
		"hourly",
		"every:",
		"every:5",
		"every:5x",
		"every:-5m",
		"every:5.5m",
		"daily@",
		"daily@25:00Z",
		"daily@09:75Z",
		"daily@0930Z",
	}
	for _, schedule := range bad {
		t.Run(schedule, func(t *testing.T) {
			if _, err := NextDue(schedule, from); err == nil {
				t.Errorf("NextDue(%q) did not error, unknown schedules must disable the task rather than be silently accepted", schedule)
			}
		})
	}
}
