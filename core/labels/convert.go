// Package labels - unit conversions and null-safe arithmetic
package labels

import (
	"time"

	"ocp-cost/core/types"
)

const (
	gigabyte       = float64(1 << 30)
	secondsPerHour = 3600.0
	secondsPerDay  = 86400.0
)

// SecondsToHours converts seconds to hours.
func SecondsToHours(s float64) float64 {
	return s / secondsPerHour
}

// ByteSecondsToGigabyteHours converts byte-seconds to GB-hours.
func ByteSecondsToGigabyteHours(bs float64) float64 {
	return bs / gigabyte / secondsPerHour
}

// BytesToGigabytes converts bytes to GB.
func BytesToGigabytes(b float64) float64 {
	return b / gigabyte
}

// ByteSecondsToGigabyteMonths converts byte-seconds to GB-months using the
// actual number of days in usageStart's month:
//
//	gb_months = byte_seconds / (86400 x days_in_month x 2^30)
func ByteSecondsToGigabyteMonths(bs float64, usageStart time.Time) float64 {
	days := float64(types.DaysInMonth(usageStart))
	return bs / (secondsPerDay * days * gigabyte)
}

// Coalesce returns the first non-nil value, or 0 when all are nil.
func Coalesce(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

// SafeGreatest returns the greater of the non-nil arguments, 0 when both
// are nil.
func SafeGreatest(a, b *float64) float64 {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return *b
	case b == nil:
		return *a
	case *a > *b:
		return *a
	default:
		return *b
	}
}

// SafeSum sums the non-nil arguments.
func SafeSum(vals ...*float64) float64 {
	total := 0.0
	for _, v := range vals {
		if v != nil {
			total += *v
		}
	}
	return total
}

// EffectiveUsage materializes coalesce(effective, greatest(usage, request)).
func EffectiveUsage(effective *float64, usage, request float64) float64 {
	if effective != nil {
		return *effective
	}
	if usage > request {
		return usage
	}
	return request
}
