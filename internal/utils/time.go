package utils

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// Window is a half-open [Start, End) time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// ParseDate parses a 2006-01-02 date in UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// DayWindow returns the one-day window covering the given date.
func DayWindow(day time.Time) Window {
	start := day.UTC().Truncate(24 * time.Hour)
	return Window{Start: start, End: start.Add(24 * time.Hour)}
}

// DayWindows splits [start, end] (inclusive dates) into one-day windows in
// ascending order. Backfill and reconciliation both iterate these.
func DayWindows(start, end time.Time) []Window {
	start = start.UTC().Truncate(24 * time.Hour)
	end = end.UTC().Truncate(24 * time.Hour)

	var windows []Window
	for day := start; !day.After(end); day = day.Add(24 * time.Hour) {
		windows = append(windows, Window{Start: day, End: day.Add(24 * time.Hour)})
	}
	return windows
}
