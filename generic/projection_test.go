package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/equity-vesting/generic"
)

// listedSchedule is a yearly stepSchedule that also lists its unlocks.
type listedSchedule struct{ stepSchedule }

func (s listedSchedule) Unlocks(enrolledAt time.Time) []generic.UnlockEvent {
	tranche, _ := s.total.QuoInt(s.periods)
	events := make([]generic.UnlockEvent, 0, s.periods)
	for k := s.cliff; k <= s.periods; k++ {
		cum, _ := tranche.MulInt(k)
		events = append(events, generic.UnlockEvent{
			Period:     k,
			At:         generic.PeriodBoundary(enrolledAt, s.period, k),
			Amount:     tranche,
			Cumulative: cum,
		})
	}
	return events
}

func TestProjection_SkippedClaimRollsForward(t *testing.T) {
	// GIVEN: An executive who claimed the first tranche only
	e := generic.Enrollment{Identity: "alice", Role: "CXO", EnrolledAt: t0, ClaimedAmount: tokens(250)}
	schedule := listedSchedule{yearly(tokens(1000))}

	// WHEN: Projecting from two and a half years in
	p, err := generic.NewProjection(e, schedule, t0.Add(5*generic.Year/2))
	require.NoError(t, err)

	// THEN: The skipped second tranche shows up in every later step
	require.Len(t, p.Steps, 4)
	assert.True(t, p.Steps[0].Unlocked)
	assert.True(t, p.Steps[1].Unlocked)
	assert.False(t, p.Steps[2].Unlocked)

	assert.True(t, p.Steps[0].ClaimableAfter.IsZero())
	assert.Equal(t, tokens(250).String(), p.Steps[1].ClaimableAfter.String())
	assert.Equal(t, tokens(500).String(), p.Steps[2].ClaimableAfter.String())
	assert.Equal(t, tokens(750).String(), p.Steps[3].ClaimableAfter.String())

	upcoming := p.Upcoming()
	require.Len(t, upcoming, 2)
	assert.Equal(t, int64(3), upcoming[0].Period)
}

func TestProjection_FullyVested_NothingUpcoming(t *testing.T) {
	e := generic.Enrollment{Identity: "alice", Role: "CXO", EnrolledAt: t0, ClaimedAmount: generic.ZeroAmount()}
	p, err := generic.NewProjection(e, listedSchedule{yearly(tokens(1000))}, t0.Add(10*generic.Year))
	require.NoError(t, err)
	assert.Empty(t, p.Upcoming())
}

func TestProjection_BeforeEnrollment_IsInvalidTime(t *testing.T) {
	e := generic.Enrollment{Identity: "alice", Role: "CXO", EnrolledAt: t0, ClaimedAmount: generic.ZeroAmount()}
	_, err := generic.NewProjection(e, listedSchedule{yearly(tokens(1000))}, t0.Add(-time.Hour))
	assert.ErrorIs(t, err, generic.ErrInvalidTime)
}
