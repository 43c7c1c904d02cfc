// File: internal/cronsched/schedule.go
// Project: Coldport
// Description: Schedule-string parser for the two cron_tasks schedule
//              shapes: "every:<N><unit>" and "daily@HH:MMZ"
package cronsched

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NextDue computes the next run time for schedule strictly after from.
func NextDue(schedule string, from time.Time) (time.Time, error) {
	switch {
	case strings.HasPrefix(schedule, "every:"):
		d, err := parseEvery(schedule[len("every:"):])
		if err != nil {
			return time.Time{}, err
		}
		return from.Add(d), nil

	case strings.HasPrefix(schedule, "daily@"):
		hh, mm, err := parseDailyAt(schedule[len("daily@"):])
		if err != nil {
			return time.Time{}, err
		}
		next := time.Date(from.Year(), from.Month(), from.Day(), hh, mm, 0, 0, time.UTC)
		if !next.After(from) {
			next = next.Add(24 * time.Hour)
		}
		return next, nil

	default:
		return time.Time{}, fmt.Errorf("unrecognized schedule %q", schedule)
	}
}

// parseEvery parses "<N><unit>" where unit is one of s, m, h, d.
func parseEvery(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty every: interval")
	}
	unit := s[len(s)-1]
	numStr := s[:len(s)-1]
	n, err := strconv.Atoi(numStr)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid every: interval %q", s)
	}

	switch unit {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown every: unit %q", string(unit))
	}
}

// parseDailyAt parses "HH:MMZ", always in UTC.
func parseDailyAt(s string) (hh, mm int, err error) {
	s = strings.TrimSuffix(s, "Z")
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid daily@ time %q", s)
	}
	hh, err = strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return 0, 0, fmt.Errorf("invalid hour in daily@ time %q", s)
	}
	mm, err = strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("invalid minute in daily@ time %q", s)
	}
	return hh, mm, nil
}
