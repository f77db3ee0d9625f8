/*
ledger.go - Append-only claim log

PURPOSE:
  The Ledger is the audit trail for every payout. Each successful claim
  appends exactly one ClaimTransaction; nothing is ever edited or removed.
  The enrollment's claimed amount is a running total that must always
  equal the sum of the identity's ledger rows.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. CHAINED: each row's ClaimedBefore is the previous row's ClaimedAfter
  3. BOUNDED: ClaimedAfter never exceeds the vested amount it was sized on

EXAMPLE FLOW:
  Executive, 1000 tokens over four years:
  1. +1y claim: 0 -> 250
  2. +3y claim: 250 -> 750
  3. +4y claim: 750 -> 1000
  Sum of rows = 1000 = Enrollment.ClaimedAmount

SEE ALSO:
  - store.go: Low-level persistence interface
  - vesting/engine.go: The only writer
*/
package generic

import (
	"context"
	"fmt"
)

// =============================================================================
// LEDGER - Append-only claim log
// =============================================================================

type Ledger interface {
	// Append validates and records a claim. This is the ONLY write operation.
	Append(ctx context.Context, tx ClaimTransaction) error

	// History returns an identity's claims, oldest first.
	History(ctx context.Context, identity Identity) ([]ClaimTransaction, error)

	// Reconcile checks that the enrollment's claimed amount equals the
	// sum of the ledger and that the rows chain.
	Reconcile(ctx context.Context, identity Identity) error
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx ClaimTransaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	return l.Store.AppendClaim(ctx, tx)
}

func (l *DefaultLedger) History(ctx context.Context, identity Identity) ([]ClaimTransaction, error) {
	return l.Store.LoadClaims(ctx, identity)
}

func (l *DefaultLedger) Reconcile(ctx context.Context, identity Identity) error {
	e, err := l.Store.GetEnrollment(ctx, identity)
	if err != nil {
		return err
	}
	if e == nil {
		return &NotEnrolledError{Identity: identity}
	}
	txs, err := l.Store.LoadClaims(ctx, identity)
	if err != nil {
		return err
	}

	sum := ZeroAmount()
	for i, tx := range txs {
		if !tx.ClaimedBefore.Equal(sum) {
			return &ArithmeticError{
				Op: "reconcile", Left: tx.ClaimedBefore, Right: sum,
				Reason: fmt.Sprintf("row %d (%s) does not chain", i, tx.ID),
			}
		}
		if sum, err = sum.Add(tx.Amount); err != nil {
			return err
		}
	}
	if !sum.Equal(e.ClaimedAmount) {
		return &ArithmeticError{
			Op: "reconcile", Left: e.ClaimedAmount, Right: sum,
			Reason: "claimed amount differs from ledger sum",
		}
	}
	return nil
}
