package generic

import "time"

// =============================================================================
// PERIOD ARITHMETIC - Whole periods elapsed since an anchor
// =============================================================================

// ElapsedPeriods returns floor((now - start) / d).
// A now before start is an InvalidTimeError, never a silent zero.
func ElapsedPeriods(start, now time.Time, d time.Duration) (int64, error) {
	if d <= 0 {
		return 0, &ConfigurationError{Reason: "period duration must be positive"}
	}
	if now.Before(start) {
		return 0, &InvalidTimeError{EnrolledAt: start, Now: now}
	}
	return int64(now.Sub(start) / d), nil
}

// PeriodBoundary returns the instant at which period n ends, start + n*d.
func PeriodBoundary(start time.Time, d time.Duration, n int64) time.Time {
	return start.Add(time.Duration(n) * d)
}
