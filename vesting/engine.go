package vesting

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/warp/equity-vesting/generic"
)

// =============================================================================
// CLAIM ENGINE - Lookup, calculate, diff, mutate, pay
// =============================================================================

// ClaimReceipt is the result of a successful claim.
type ClaimReceipt struct {
	Transaction generic.ClaimTransaction
	Paid        generic.Amount
	Remaining   generic.Amount // allocation not yet claimed
}

// Engine runs claims against the registry's store and schedule table.
//
// INVARIANTS:
//   - Claimed never decreases and never exceeds the allocation.
//   - At most one claim per identity is in flight (keyed lock), and the
//     store rejects a claim sized on a stale claimed amount.
//   - A failed payout leaves the claimed amount unchanged.
type Engine struct {
	registry  *Registry
	store     generic.TxStore
	table     *ScheduleTable
	custodian Custodian
	locks     *keyedMutex
	opts      options
}

// NewEngine builds a claim engine sharing the registry's store and table.
// Options not given fall back to the registry's clock.
func NewEngine(registry *Registry, custodian Custodian, opts ...Option) *Engine {
	o := buildOptions("claim-engine", append([]Option{WithClock(registry.opts.clock)}, opts...))
	return &Engine{
		registry:  registry,
		store:     registry.store,
		table:     registry.table,
		custodian: custodian,
		locks:     newKeyedMutex(),
		opts:      o,
	}
}

func newTransactionID() generic.TransactionID {
	return generic.TransactionID(uuid.NewString())
}

// Claim pays out everything vested but unclaimed at the engine clock's now.
func (e *Engine) Claim(ctx context.Context, identity generic.Identity) (ClaimReceipt, error) {
	return e.ClaimAt(ctx, identity, e.opts.clock.Now())
}

// ClaimAt is Claim with an explicit now.
func (e *Engine) ClaimAt(ctx context.Context, identity generic.Identity, now time.Time) (ClaimReceipt, error) {
	receipt, err := e.claim(ctx, identity, now)
	if err != nil {
		e.opts.metrics.recordFailure(ctx, err)
		e.opts.logger.Log(ctx, logLevel(err), "claim failed", "identity", identity, "error", err)
		return ClaimReceipt{}, err
	}
	e.opts.metrics.recordClaim(ctx, receipt.Transaction)
	e.opts.logger.InfoContext(ctx, "claim paid",
		"identity", receipt.Transaction.Identity,
		"role", receipt.Transaction.Role,
		"amount", receipt.Paid.String(),
		"claimed", receipt.Transaction.ClaimedAfter.String(),
		"tx", receipt.Transaction.ID)
	return receipt, nil
}

func (e *Engine) claim(ctx context.Context, identity generic.Identity, now time.Time) (ClaimReceipt, error) {
	id, err := generic.NewIdentity(string(identity))
	if err != nil {
		return ClaimReceipt{}, err
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	var (
		receipt ClaimReceipt
		paid    bool
	)
	err = e.store.WithTx(ctx, func(s generic.Store) error {
		enrollment, err := s.GetEnrollment(ctx, id)
		if err != nil {
			return err
		}
		if enrollment == nil {
			return &generic.NotEnrolledError{Identity: id}
		}
		schedule, err := e.table.Lookup(enrollment.Role)
		if err != nil {
			return err
		}

		pos, err := generic.NewPosition(*enrollment, schedule, now)
		if err != nil {
			return err
		}
		tx, err := pos.Claim(newTransactionID())
		if err != nil {
			return err
		}
		if err := generic.NewLedger(s).Append(ctx, tx); err != nil {
			return err
		}

		if err := e.custodian.Transfer(ctx, id, tx.Amount); err != nil {
			return &generic.PayoutError{Identity: id, Amount: tx.Amount, Err: err}
		}
		paid = true
		receipt = ClaimReceipt{Transaction: tx, Paid: tx.Amount}

		receipt.Remaining, err = pos.Allocation.Sub(tx.ClaimedAfter)
		return err
	})
	if err != nil {
		if paid {
			err = e.reverse(ctx, id, receipt.Paid, err)
		}
		return ClaimReceipt{}, err
	}
	return receipt, nil
}

// logLevel keeps expected rejections out of the error stream.
func logLevel(err error) slog.Level {
	switch {
	case errors.Is(err, generic.ErrNothingToClaim):
		return slog.LevelDebug
	case generic.IsClientError(err), generic.IsNotFound(err):
		return slog.LevelInfo
	case generic.IsRetryable(err):
		return slog.LevelWarn
	}
	return slog.LevelError
}

// reverse undoes a payout whose store commit failed.
func (e *Engine) reverse(ctx context.Context, id generic.Identity, amount generic.Amount, commitErr error) error {
	r, ok := e.custodian.(Reverser)
	if !ok {
		e.opts.logger.ErrorContext(ctx, "commit failed after payout, custodian cannot reverse",
			"identity", id, "amount", amount.String(), "error", commitErr)
		return commitErr
	}
	if err := r.Reverse(ctx, id, amount); err != nil {
		e.opts.logger.ErrorContext(ctx, "payout reversal failed",
			"identity", id, "amount", amount.String(), "error", err)
		return errors.Join(commitErr, err)
	}
	e.opts.logger.WarnContext(ctx, "payout reversed after commit failure", "identity", id, "amount", amount.String())
	return commitErr
}

// =============================================================================
// QUERY SURFACE - Read-only
// =============================================================================

// Claimable previews what Claim would pay at now.
func (e *Engine) Claimable(ctx context.Context, identity generic.Identity, now time.Time) (generic.Amount, error) {
	pos, err := e.Position(ctx, identity, now)
	if err != nil {
		return generic.Amount{}, err
	}
	return pos.Claimable, nil
}

// Position returns the identity's allocation, vested, claimed and claimable
// amounts at now, and the next unlock time.
func (e *Engine) Position(ctx context.Context, identity generic.Identity, now time.Time) (generic.Position, error) {
	enrollment, err := e.enrollment(ctx, identity)
	if err != nil {
		return generic.Position{}, err
	}
	schedule, err := e.table.Lookup(enrollment.Role)
	if err != nil {
		return generic.Position{}, err
	}
	return generic.NewPosition(enrollment, schedule, now)
}

// Projection returns the identity's full unlock timeline seen from now.
func (e *Engine) Projection(ctx context.Context, identity generic.Identity, now time.Time) (generic.Projection, error) {
	enrollment, err := e.enrollment(ctx, identity)
	if err != nil {
		return generic.Projection{}, err
	}
	schedule, err := e.table.Lookup(enrollment.Role)
	if err != nil {
		return generic.Projection{}, err
	}
	return generic.NewProjection(enrollment, schedule, now)
}

// History returns the identity's claim transactions, oldest first.
func (e *Engine) History(ctx context.Context, identity generic.Identity) ([]generic.ClaimTransaction, error) {
	enrollment, err := e.enrollment(ctx, identity)
	if err != nil {
		return nil, err
	}
	return generic.NewLedger(e.store).History(ctx, enrollment.Identity)
}

// Reconcile checks the identity's claimed amount against its ledger.
// It holds the identity's claim lock and reads both inside one store
// transaction, so a concurrent claim is seen entirely or not at all.
func (e *Engine) Reconcile(ctx context.Context, identity generic.Identity) error {
	enrollment, err := e.enrollment(ctx, identity)
	if err != nil {
		return err
	}

	unlock := e.locks.Lock(enrollment.Identity)
	defer unlock()

	return e.store.WithTx(ctx, func(s generic.Store) error {
		return generic.NewLedger(s).Reconcile(ctx, enrollment.Identity)
	})
}

// Now is the engine clock's current time.
func (e *Engine) Now() time.Time { return e.opts.clock.Now() }

func (e *Engine) enrollment(ctx context.Context, identity generic.Identity) (generic.Enrollment, error) {
	enrollment, ok, err := e.registry.Lookup(ctx, identity)
	if err != nil {
		return generic.Enrollment{}, err
	}
	if !ok {
		return generic.Enrollment{}, &generic.NotEnrolledError{Identity: identity}
	}
	return enrollment, nil
}
