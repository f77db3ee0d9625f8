package vesting

import (
	"time"

	"github.com/warp/equity-vesting/generic"
)

// =============================================================================
// VESTING CALCULATOR - Pure, no I/O, no locks
// =============================================================================

// VestedAmount returns the cumulative amount vested at now for an enrollment
// that started at enrolledAt.
//
//	elapsed <  CliffPeriods -> 0
//	elapsed >= Periods      -> TotalAllocation (remainder included)
//	otherwise               -> elapsed * Tranche
//
// A now before enrolledAt is an InvalidTimeError.
func VestedAmount(s Schedule, enrolledAt, now time.Time) (generic.Amount, error) {
	elapsed, err := generic.ElapsedPeriods(enrolledAt, now, s.PeriodDuration)
	if err != nil {
		return generic.Amount{}, err
	}

	switch {
	case elapsed < s.CliffPeriods:
		return generic.ZeroAmount(), nil
	case elapsed >= s.Periods:
		return s.TotalAllocation, nil
	}

	tranche, err := s.Tranche()
	if err != nil {
		return generic.Amount{}, err
	}
	vested, err := tranche.MulInt(elapsed)
	if err != nil {
		return generic.Amount{}, err
	}
	return vested.Min(s.TotalAllocation), nil
}

// NextUnlock returns the next period boundary after now at which the vested
// amount increases. It reports false once fully vested or when now precedes
// enrolledAt.
func NextUnlock(s Schedule, enrolledAt, now time.Time) (time.Time, bool) {
	elapsed, err := generic.ElapsedPeriods(enrolledAt, now, s.PeriodDuration)
	if err != nil || elapsed >= s.Periods {
		return time.Time{}, false
	}
	if elapsed < s.CliffPeriods {
		return generic.PeriodBoundary(enrolledAt, s.PeriodDuration, s.CliffPeriods), true
	}
	return generic.PeriodBoundary(enrolledAt, s.PeriodDuration, elapsed+1), true
}
