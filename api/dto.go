/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the domain
  types in generic/ and vesting/ from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Every amount is a decimal string in base units ("250000000000000000000"
  for 250 tokens at 18 decimals). JSON numbers cannot carry uint256.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/equity-vesting/generic"
	"github.com/warp/equity-vesting/vesting"
)

// =============================================================================
// SCHEDULES
// =============================================================================

// RoleDTO describes one role's vesting terms.
type RoleDTO struct {
	Role            string         `json:"role"`
	TotalAllocation generic.Amount `json:"total_allocation"`
	Tranche         generic.Amount `json:"tranche"`
	Periods         int64          `json:"periods"`
	PeriodSeconds   int64          `json:"period_seconds"`
	CliffPeriods    int64          `json:"cliff_periods"`
}

func toRoleDTO(s vesting.Schedule) RoleDTO {
	tranche, _ := s.Tranche()
	return RoleDTO{
		Role:            string(s.Role),
		TotalAllocation: s.TotalAllocation,
		Tranche:         tranche,
		Periods:         s.Periods,
		PeriodSeconds:   int64(s.PeriodDuration / time.Second),
		CliffPeriods:    s.CliffPeriods,
	}
}

// =============================================================================
// ENROLLMENTS
// =============================================================================

// RegisterEmployeesRequest pairs identities[i] with roles[i].
type RegisterEmployeesRequest struct {
	Identities []string `json:"identities"`
	Roles      []string `json:"roles"`
}

// EnrollmentDTO represents an enrollment in API responses.
type EnrollmentDTO struct {
	Identity      string         `json:"identity"`
	Role          string         `json:"role"`
	EnrolledAt    time.Time      `json:"enrolled_at"`
	ClaimedAmount generic.Amount `json:"claimed_amount"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func toEnrollmentDTO(e generic.Enrollment) EnrollmentDTO {
	return EnrollmentDTO{
		Identity:      string(e.Identity),
		Role:          string(e.Role),
		EnrolledAt:    e.EnrolledAt,
		ClaimedAmount: e.ClaimedAmount,
		UpdatedAt:     e.UpdatedAt,
	}
}

func toEnrollmentDTOs(es []generic.Enrollment) []EnrollmentDTO {
	dtos := make([]EnrollmentDTO, len(es))
	for i, e := range es {
		dtos[i] = toEnrollmentDTO(e)
	}
	return dtos
}

// =============================================================================
// POSITIONS AND CLAIMS
// =============================================================================

// ClaimableDTO is the claim preview.
type ClaimableDTO struct {
	Identity  string         `json:"identity"`
	Claimable generic.Amount `json:"claimable"`
	AsOf      time.Time      `json:"as_of"`
}

// PositionDTO is a point-in-time view of one enrollment.
type PositionDTO struct {
	Identity    string         `json:"identity"`
	Role        string         `json:"role"`
	EnrolledAt  time.Time      `json:"enrolled_at"`
	AsOf        time.Time      `json:"as_of"`
	Allocation  generic.Amount `json:"allocation"`
	Vested      generic.Amount `json:"vested"`
	Claimed     generic.Amount `json:"claimed"`
	Claimable   generic.Amount `json:"claimable"`
	Unvested    generic.Amount `json:"unvested"`
	NextUnlock  *time.Time     `json:"next_unlock,omitempty"`
	FullyVested bool           `json:"fully_vested"`
	Exhausted   bool           `json:"exhausted"`
}

func toPositionDTO(p generic.Position) PositionDTO {
	return PositionDTO{
		Identity:    string(p.Identity),
		Role:        string(p.Role),
		EnrolledAt:  p.EnrolledAt,
		AsOf:        p.AsOf,
		Allocation:  p.Allocation,
		Vested:      p.Vested,
		Claimed:     p.Claimed,
		Claimable:   p.Claimable,
		Unvested:    p.Unvested,
		NextUnlock:  p.NextUnlock,
		FullyVested: p.FullyVested(),
		Exhausted:   p.Exhausted(),
	}
}

// ClaimDTO is one ledger row.
type ClaimDTO struct {
	ID            string         `json:"id"`
	Identity      string         `json:"identity"`
	Role          string         `json:"role"`
	Amount        generic.Amount `json:"amount"`
	ClaimedBefore generic.Amount `json:"claimed_before"`
	ClaimedAfter  generic.Amount `json:"claimed_after"`
	Vested        generic.Amount `json:"vested"`
	ClaimedAt     time.Time      `json:"claimed_at"`
}

func toClaimDTO(tx generic.ClaimTransaction) ClaimDTO {
	return ClaimDTO{
		ID:            string(tx.ID),
		Identity:      string(tx.Identity),
		Role:          string(tx.Role),
		Amount:        tx.Amount,
		ClaimedBefore: tx.ClaimedBefore,
		ClaimedAfter:  tx.ClaimedAfter,
		Vested:        tx.Vested,
		ClaimedAt:     tx.ClaimedAt,
	}
}

// ClaimReceiptDTO is returned by POST /api/claims.
type ClaimReceiptDTO struct {
	Transaction ClaimDTO       `json:"transaction"`
	Paid        generic.Amount `json:"paid"`
	Remaining   generic.Amount `json:"remaining"`
}

// UnlockStepDTO is one step of the vesting timeline.
type UnlockStepDTO struct {
	Period         int64          `json:"period"`
	At             time.Time      `json:"at"`
	Amount         generic.Amount `json:"amount"`
	Cumulative     generic.Amount `json:"cumulative"`
	Unlocked       bool           `json:"unlocked"`
	ClaimableAfter generic.Amount `json:"claimable_after"`
}

// ProjectionDTO is the full unlock timeline of one enrollment.
type ProjectionDTO struct {
	Identity string          `json:"identity"`
	Role     string          `json:"role"`
	AsOf     time.Time       `json:"as_of"`
	Claimed  generic.Amount  `json:"claimed"`
	Steps    []UnlockStepDTO `json:"steps"`
}

func toProjectionDTO(p generic.Projection) ProjectionDTO {
	steps := make([]UnlockStepDTO, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = UnlockStepDTO{
			Period:         s.Period,
			At:             s.At,
			Amount:         s.Amount,
			Cumulative:     s.Cumulative,
			Unlocked:       s.Unlocked,
			ClaimableAfter: s.ClaimableAfter,
		}
	}
	return ProjectionDTO{
		Identity: string(p.Identity),
		Role:     string(p.Role),
		AsOf:     p.AsOf,
		Claimed:  p.Claimed,
		Steps:    steps,
	}
}

// BalanceDTO is a custody balance.
type BalanceDTO struct {
	Identity string         `json:"identity"`
	Balance  generic.Amount `json:"balance"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo cohort.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Employees   int    `json:"employees"`
}

// LoadScenarioRequest selects a demo cohort to register.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}
