/*
Package vesting implements equity vesting on top of the generic core.

PURPOSE:
  An employee is enrolled under a role. The role's schedule grants a total
  allocation that unlocks in equal tranches, one per elapsed period, once a
  cliff of whole periods has passed. The employee claims whatever has
  vested but was not claimed yet; the custodian pays it out.

COMPONENTS (leaves first):
  schedule.go:   Role -> Schedule table (static configuration)
  calculator.go: Pure vested-to-date function
  registry.go:   Admin-gated batch enrollment and lookup
  engine.go:     Claim state machine (lookup, calculate, diff, mutate, pay)

EXAMPLE:
  Executive, 1000 tokens, 4 periods of 365 days, cliff 1:
    +0y..+1y  -> 0
    +1y       -> 250
    +2y       -> 500
    +4y and on -> 1000

SEE ALSO:
  - generic/position.go: Vested / claimed / claimable arithmetic
  - factory/schedule.go: JSON/YAML schedule tables
*/
package vesting

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/warp/equity-vesting/generic"
)

// =============================================================================
// ROLES
// =============================================================================

const (
	RoleExecutive     generic.Role = "executive"
	RoleSeniorManager generic.Role = "senior_manager"
	RoleOther         generic.Role = "other"
)

// =============================================================================
// SCHEDULE - Per-role vesting terms
// =============================================================================

// Schedule is the vesting terms of one role.
// Implements generic.UnlockSchedule.
type Schedule struct {
	Role            generic.Role
	TotalAllocation generic.Amount
	Periods         int64         // vesting horizon in whole periods, >= 1
	PeriodDuration  time.Duration // > 0
	CliffPeriods    int64         // 1 <= CliffPeriods <= Periods
}

var _ generic.UnlockSchedule = Schedule{}

// Validate checks the schedule in isolation.
func (s Schedule) Validate() error {
	fail := func(reason string) error {
		return &generic.ConfigurationError{Role: s.Role, Reason: reason}
	}
	if err := s.TotalAllocation.Validate(); err != nil {
		return fail(err.Error())
	}
	switch {
	case !s.TotalAllocation.IsPositive():
		return fail("total allocation must be positive")
	case s.Periods < 1:
		return fail("periods must be at least 1")
	case s.PeriodDuration <= 0:
		return fail("period duration must be positive")
	case s.CliffPeriods < 1 || s.CliffPeriods > s.Periods:
		return fail(fmt.Sprintf("cliff periods must be in [1, %d], got %d", s.Periods, s.CliffPeriods))
	case s.PeriodDuration > time.Duration(math.MaxInt64/s.Periods):
		// Horizon and every period boundary must fit in a time.Duration.
		return &generic.ConfigurationError{
			Role:   s.Role,
			Reason: fmt.Sprintf("%d periods of %s overflow the vesting horizon", s.Periods, s.PeriodDuration),
			Err:    generic.ErrArithmetic,
		}
	}
	tranche, err := s.Tranche()
	if err != nil {
		return fail(err.Error())
	}
	if tranche.IsZero() {
		return fail("allocation is smaller than the number of periods")
	}
	return nil
}

// Tranche is TotalAllocation / Periods, floored to whole base units.
func (s Schedule) Tranche() (generic.Amount, error) {
	return s.TotalAllocation.QuoInt(s.Periods)
}

// Horizon is the time from enrollment to full vesting.
func (s Schedule) Horizon() time.Duration {
	return time.Duration(s.Periods) * s.PeriodDuration
}

func (s Schedule) Total() generic.Amount { return s.TotalAllocation }

func (s Schedule) VestedAt(enrolledAt, now time.Time) (generic.Amount, error) {
	return VestedAmount(s, enrolledAt, now)
}

func (s Schedule) NextUnlock(enrolledAt, now time.Time) (time.Time, bool) {
	return NextUnlock(s, enrolledAt, now)
}

// Unlocks lists one event per period from the cliff to full vesting.
// The cliff event releases every period accumulated so far; the final event
// carries the division remainder.
func (s Schedule) Unlocks(enrolledAt time.Time) []generic.UnlockEvent {
	events := make([]generic.UnlockEvent, 0, s.Periods-s.CliffPeriods+1)
	prev := generic.ZeroAmount()
	for n := s.CliffPeriods; n <= s.Periods; n++ {
		at := generic.PeriodBoundary(enrolledAt, s.PeriodDuration, n)
		cumulative, err := VestedAmount(s, enrolledAt, at)
		if err != nil {
			return events
		}
		step, err := cumulative.Sub(prev)
		if err != nil {
			return events
		}
		events = append(events, generic.UnlockEvent{Period: n, At: at, Amount: step, Cumulative: cumulative})
		prev = cumulative
	}
	return events
}

// =============================================================================
// SCHEDULE TABLE - Immutable Role -> Schedule map
// =============================================================================

// ScheduleTable is read without locks; it is never mutated after construction.
type ScheduleTable struct {
	schedules map[generic.Role]Schedule
	roles     []generic.Role
	aliases   map[string]generic.Role
}

// NewScheduleTable validates every schedule and copies the map.
func NewScheduleTable(schedules map[generic.Role]Schedule) (*ScheduleTable, error) {
	if len(schedules) == 0 {
		return nil, &generic.ConfigurationError{Reason: "schedule table is empty"}
	}
	t := &ScheduleTable{schedules: make(map[generic.Role]Schedule, len(schedules))}
	for role, s := range schedules {
		if role == "" {
			return nil, &generic.ConfigurationError{Reason: "empty role name"}
		}
		s.Role = role
		if err := s.Validate(); err != nil {
			return nil, err
		}
		t.schedules[role] = s
		t.roles = append(t.roles, role)
	}
	sort.Slice(t.roles, func(i, j int) bool { return t.roles[i] < t.roles[j] })
	return t, nil
}

// WithAliases returns a copy of the table that also resolves the given
// aliases (e.g. "CXO" or "0xb7f41484" -> executive). Aliases match
// case-insensitively and must point at configured roles.
func (t *ScheduleTable) WithAliases(aliases map[string]generic.Role) (*ScheduleTable, error) {
	out := &ScheduleTable{
		schedules: t.schedules,
		roles:     t.roles,
		aliases:   make(map[string]generic.Role, len(t.aliases)+len(aliases)),
	}
	for k, v := range t.aliases {
		out.aliases[k] = v
	}
	for alias, role := range aliases {
		if _, ok := t.schedules[role]; !ok {
			return nil, &generic.ConfigurationError{
				Role: role, Reason: fmt.Sprintf("alias %q targets an unknown role", alias), Err: generic.ErrUnknownRole,
			}
		}
		out.aliases[strings.ToLower(strings.TrimSpace(alias))] = role
	}
	return out, nil
}

// Resolve maps a role name or alias to its canonical role.
func (t *ScheduleTable) Resolve(name string) (generic.Role, error) {
	if _, ok := t.schedules[generic.Role(name)]; ok {
		return generic.Role(name), nil
	}
	if role, ok := t.aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return role, nil
	}
	return "", &generic.ConfigurationError{
		Role: generic.Role(name), Reason: "not in schedule table", Err: generic.ErrUnknownRole,
	}
}

// Lookup returns the schedule of role (or of the role an alias points to),
// or a ConfigurationError wrapping ErrUnknownRole.
func (t *ScheduleTable) Lookup(role generic.Role) (Schedule, error) {
	canonical, err := t.Resolve(string(role))
	if err != nil {
		return Schedule{}, err
	}
	return t.schedules[canonical], nil
}

// Roles returns the configured roles in sorted order.
func (t *ScheduleTable) Roles() []generic.Role {
	return append([]generic.Role(nil), t.roles...)
}

// Schedules returns the schedules ordered by role.
func (t *ScheduleTable) Schedules() []Schedule {
	out := make([]Schedule, 0, len(t.roles))
	for _, r := range t.roles {
		out = append(out, t.schedules[r])
	}
	return out
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultSchedules returns the stock table: executive 1000, senior manager
// 500, other 250 tokens, each over 4 periods of 365 days with a one-period
// cliff. decimals scales whole tokens into base units.
func DefaultSchedules(decimals int32) map[generic.Role]Schedule {
	mk := func(role generic.Role, tokens string) Schedule {
		return Schedule{
			Role:            role,
			TotalAllocation: generic.MustParseUnits(tokens, decimals),
			Periods:         4,
			PeriodDuration:  generic.Year,
			CliffPeriods:    1,
		}
	}
	return map[generic.Role]Schedule{
		RoleExecutive:     mk(RoleExecutive, "1000"),
		RoleSeniorManager: mk(RoleSeniorManager, "500"),
		RoleOther:         mk(RoleOther, "250"),
	}
}

// DefaultScheduleTable is NewScheduleTable(DefaultSchedules(decimals)).
func DefaultScheduleTable(decimals int32) *ScheduleTable {
	t, err := NewScheduleTable(DefaultSchedules(decimals))
	if err != nil {
		panic(err)
	}
	return t
}
