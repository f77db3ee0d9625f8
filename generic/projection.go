/*
projection.go - Unlock timeline for one enrollment

PURPOSE:
  Answers "what will I be able to claim, and when?" without touching the
  ledger. Position is a single point in time; a Projection lays every unlock
  event of the schedule out against what has already been claimed.

KEY INSIGHT:
  Claimable after an unlock is cumulative vested minus claimed-to-date, never
  the event amount alone. An employee who skipped a claim sees the skipped
  tranche roll into the next step.

EXAMPLE:
  proj, _ := NewProjection(enrollment, schedule, now)
  for _, step := range proj.Steps {
      fmt.Println(step.At, step.Cumulative, step.ClaimableAfter, step.Unlocked)
  }

SEE ALSO:
  - unlock.go: UnlockSchedule and UnlockEvent
  - position.go: Point-in-time view
*/
package generic

import "time"

// ProjectionStep is one unlock event seen from AsOf.
type ProjectionStep struct {
	UnlockEvent

	// Unlocked is true when At <= AsOf.
	Unlocked bool

	// ClaimableAfter is Cumulative minus the amount claimed as of AsOf.
	ClaimableAfter Amount
}

// Projection is the full vesting timeline of one enrollment.
type Projection struct {
	Identity Identity
	Role     Role
	AsOf     time.Time
	Claimed  Amount
	Steps    []ProjectionStep
}

// NewProjection lays the schedule's unlocks out against e's claimed amount.
// Fails with InvalidTimeError if asOf precedes the enrollment.
func NewProjection(e Enrollment, schedule UnlockSchedule, asOf time.Time) (Projection, error) {
	if asOf.Before(e.EnrolledAt) {
		return Projection{}, &InvalidTimeError{EnrolledAt: e.EnrolledAt, Now: asOf}
	}

	events := schedule.Unlocks(e.EnrolledAt)
	p := Projection{
		Identity: e.Identity,
		Role:     e.Role,
		AsOf:     asOf,
		Claimed:  e.ClaimedAmount,
		Steps:    make([]ProjectionStep, 0, len(events)),
	}
	for _, ev := range events {
		claimable := ZeroAmount()
		if e.ClaimedAmount.LessThan(ev.Cumulative) {
			diff, err := ev.Cumulative.Sub(e.ClaimedAmount)
			if err != nil {
				return Projection{}, err
			}
			claimable = diff
		}
		p.Steps = append(p.Steps, ProjectionStep{
			UnlockEvent:    ev,
			Unlocked:       !ev.At.After(asOf),
			ClaimableAfter: claimable,
		})
	}
	return p, nil
}

// Upcoming returns the steps that have not unlocked yet.
func (p Projection) Upcoming() []ProjectionStep {
	for i, s := range p.Steps {
		if !s.Unlocked {
			return p.Steps[i:]
		}
	}
	return nil
}
