package vesting

import (
	"context"

	"github.com/warp/equity-vesting/generic"
)

// =============================================================================
// EXTERNAL COLLABORATORS
// =============================================================================

// Custodian holds the vesting reserve and pays claims out of it.
// Transfer must be fail-closed: an error means nothing moved.
type Custodian interface {
	BalanceOf(ctx context.Context, identity generic.Identity) (generic.Amount, error)
	Transfer(ctx context.Context, to generic.Identity, amount generic.Amount) error
}

// Reverser is implemented by custodians that can undo a transfer. The engine
// uses it when the store commit fails after the payout went through.
type Reverser interface {
	Reverse(ctx context.Context, to generic.Identity, amount generic.Amount) error
}

// AccessGate decides whether caller may run admin operations.
type AccessGate interface {
	IsAdmin(ctx context.Context, caller generic.Identity) bool
}
