package models

import (
	"fmt"
	"time"
)

// EntryID builds the lexicographically sortable hourly-log key for a
// wall-clock instant, e.g. "20250930_203045123".
func EntryID(t time.Time) string {
	return fmt.Sprintf("%s_%s%03d", t.Format("20060102"), t.Format("150405"), t.Nanosecond()/1e6)
}

// DateKey returns the calendar-day key used by the daily summary log,
// e.g. "20250930".
func DateKey(t time.Time) string {
	return t.Format("20060102")
}

// DateStr returns the human-readable date, e.g. "2025-09-30".
func DateStr(t time.Time) string {
	return t.Format("2006-01-02")
}

// Millis returns a wall-clock instant as Unix milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
