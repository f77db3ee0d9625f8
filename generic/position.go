/*
position.go - Vested / claimed / claimable arithmetic

PURPOSE:
  Computes an identity's vesting position at a point in time. This is
  the calculation behind both the claim engine and the read-only query
  surface: "how much is mine, how much did I take, how much can I take?"

POSITION COMPONENTS:
  Allocation: The role's full grant
  Vested:     Cumulative amount unlocked at the calculation time
  Claimed:    Sum of all past claims (Enrollment.ClaimedAmount)
  Claimable:  Vested - Claimed
  Unvested:   Allocation - Vested

INVARIANTS:
  0 <= Claimed <= Vested <= Allocation
  A stored Claimed above Vested means the books are corrupt; NewPosition
  reports it as an ArithmeticError instead of clamping.

EXAMPLE:
  Executive, 1000 tokens over 4 yearly tranches, claimed 250, now = +2y:
    Vested = 500, Claimed = 250, Claimable = 250, Unvested = 500

SEE ALSO:
  - unlock.go: The schedule interface the position is computed against
  - vesting/engine.go: Uses Position to size a claim
*/
package generic

import "time"

// =============================================================================
// POSITION - Computed at a point in time
// =============================================================================

type Position struct {
	Identity   Identity
	Role       Role
	EnrolledAt time.Time
	AsOf       time.Time

	Allocation Amount
	Vested     Amount
	Claimed    Amount
	Claimable  Amount
	Unvested   Amount

	// NextUnlock is nil once the allocation is fully vested.
	NextUnlock *time.Time
}

// NewPosition computes the position of e under schedule at now.
func NewPosition(e Enrollment, schedule UnlockSchedule, now time.Time) (Position, error) {
	vested, err := schedule.VestedAt(e.EnrolledAt, now)
	if err != nil {
		return Position{}, err
	}

	claimable, err := vested.Sub(e.ClaimedAmount)
	if err != nil {
		return Position{}, &ArithmeticError{
			Op: "sub", Left: vested, Right: e.ClaimedAmount,
			Reason: "claimed exceeds vested for " + string(e.Identity),
		}
	}

	total := schedule.Total()
	unvested, err := total.Sub(vested)
	if err != nil {
		return Position{}, err
	}

	p := Position{
		Identity:   e.Identity,
		Role:       e.Role,
		EnrolledAt: e.EnrolledAt,
		AsOf:       now,
		Allocation: total,
		Vested:     vested,
		Claimed:    e.ClaimedAmount,
		Claimable:  claimable,
		Unvested:   unvested,
	}
	if next, ok := schedule.NextUnlock(e.EnrolledAt, now); ok {
		p.NextUnlock = &next
	}
	return p, nil
}

// FullyVested returns true once nothing remains locked.
func (p Position) FullyVested() bool { return p.Unvested.IsZero() }

// Exhausted returns true once the whole allocation has been claimed.
func (p Position) Exhausted() bool { return p.Claimed.Equal(p.Allocation) }

// Claim returns the ledger entry that would pay out the current claimable amount.
// Fails with ErrNothingToClaim when there is nothing to pay.
func (p Position) Claim(id TransactionID) (ClaimTransaction, error) {
	if p.Claimable.IsZero() {
		return ClaimTransaction{}, ErrNothingToClaim
	}
	after, err := p.Claimed.Add(p.Claimable)
	if err != nil {
		return ClaimTransaction{}, err
	}
	if after.GreaterThan(p.Allocation) {
		return ClaimTransaction{}, &ArithmeticError{
			Op: "add", Left: p.Claimed, Right: p.Claimable, Reason: "claim exceeds allocation",
		}
	}
	tx := ClaimTransaction{
		ID:            id,
		Identity:      p.Identity,
		Role:          p.Role,
		Amount:        p.Claimable,
		ClaimedBefore: p.Claimed,
		ClaimedAfter:  after,
		Vested:        p.Vested,
		ClaimedAt:     p.AsOf,
	}
	return tx, tx.Validate()
}
