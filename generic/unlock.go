package generic

import "time"

// =============================================================================
// UNLOCK SCHEDULE - Interface for how an allocation becomes claimable
// =============================================================================

// UnlockSchedule answers how much of an allocation is vested at a given time.
// Implementations define the business logic (periodic tranches with a cliff,
// in the vesting package).
type UnlockSchedule interface {
	// Total is the full allocation. VestedAt never exceeds it.
	Total() Amount

	// VestedAt returns the cumulative vested amount at now for an enrollment
	// that started at enrolledAt. Fails with InvalidTimeError if now < enrolledAt.
	VestedAt(enrolledAt, now time.Time) (Amount, error)

	// NextUnlock returns the next instant after now at which VestedAt increases,
	// or false once everything is vested.
	NextUnlock(enrolledAt, now time.Time) (time.Time, bool)

	// Unlocks lists every unlock event from enrolledAt to full vesting.
	Unlocks(enrolledAt time.Time) []UnlockEvent
}

// UnlockEvent is one step of the vesting curve.
type UnlockEvent struct {
	Period     int64
	At         time.Time
	Amount     Amount // newly unlocked at this step
	Cumulative Amount // total vested once this step is reached
}
