// Package types - timestamp canonicalization
//
// Every timestamp is canonicalized at ingest into a timezone-naive UTC
// wall-clock. Output rows never carry timezone info.
package types

import (
	"strings"
	"time"

	"ocp-cost/internal/errors"
)

// usageTimeLayouts are the accepted inbound timestamp shapes. The offset
// forms cover the " +NNNN UTC" suffix produced by the columnar reader.
var usageTimeLayouts = []string{
	"2006-01-02 15:04:05 -0700 MST",
	"2006-01-02 15:04:05 -0700",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseUsageTime parses an inbound timestamp into a timezone-naive UTC
// wall-clock. The wall-clock reading of offset-bearing inputs is preserved
// after conversion to UTC.
func ParseUsageTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.Parse("empty timestamp", nil)
	}
	for _, layout := range usageTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return Naive(t), nil
		}
	}
	return time.Time{}, errors.Parse("unparseable timestamp: "+s, nil)
}

// Naive converts t to UTC and drops the location, the single normalization
// boundary for both tz-aware and mixed inputs.
func Naive(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), u.Second(), u.Nanosecond(), time.UTC)
}

// DayOf truncates t to a timezone-naive date.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// HourOf floors t to the hour for hourly join alignment.
func HourOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
}

// DaysInMonth returns the number of days in t's month.
func DaysInMonth(t time.Time) int {
	u := t.UTC()
	first := time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	return int(first.AddDate(0, 1, 0).Sub(first).Hours() / 24)
}

// HoursInMonth returns days x 24 for t's month, leap years respected.
func HoursInMonth(t time.Time) int {
	return DaysInMonth(t) * 24
}
