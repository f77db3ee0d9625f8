/*
Package custody provides token ledgers that pay out vesting claims.

PURPOSE:
  The vesting engine never moves tokens itself. It asks a Custodian to
  transfer the claimable amount from the vesting reserve to the employee.
  This package holds two fungible-token ledgers that can act as that
  custodian: an in-memory one (tests, dev) and a Redis-backed one.

CONSERVATION:
  sum(balances) == TotalSupply at all times. Transfers are fail-closed: an
  insufficient balance moves nothing and returns ErrInsufficientReserve.

USAGE:
  token := custody.NewToken("EQT", 18)
  token.Mint(ctx, "reserve", generic.MustParseUnits("1200", 18))
  engine := vesting.NewEngine(registry, token.Reserve("reserve"))

SEE ALSO:
  - vesting/custody.go: Custodian and Reverser interfaces
  - redis.go: Redis-backed ledger
*/
package custody

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/equity-vesting/generic"
	"github.com/warp/equity-vesting/vesting"
)

// =============================================================================
// TOKEN - In-memory fungible ledger
// =============================================================================

type Token struct {
	mu       sync.RWMutex
	symbol   string
	decimals int32
	balances map[generic.Identity]generic.Amount
	supply   generic.Amount
}

func NewToken(symbol string, decimals int32) *Token {
	return &Token{
		symbol:   symbol,
		decimals: decimals,
		balances: make(map[generic.Identity]generic.Amount),
		supply:   generic.ZeroAmount(),
	}
}

func (t *Token) Symbol() string  { return t.symbol }
func (t *Token) Decimals() int32 { return t.decimals }

// Mint creates amount new units on to's balance.
func (t *Token) Mint(_ context.Context, to generic.Identity, amount generic.Amount) error {
	if err := amount.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	supply, err := t.supply.Add(amount)
	if err != nil {
		return err
	}
	balance, err := t.balance(to).Add(amount)
	if err != nil {
		return err
	}
	t.supply = supply
	t.balances[to] = balance
	return nil
}

func (t *Token) BalanceOf(_ context.Context, identity generic.Identity) (generic.Amount, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balance(identity), nil
}

func (t *Token) TotalSupply() generic.Amount {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.supply
}

// Transfer moves amount from one holder to another. Fail-closed.
func (t *Token) Transfer(ctx context.Context, from, to generic.Identity, amount generic.Amount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return &generic.InvalidInputError{Field: "amount", Reason: "transfer amount must be positive"}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	fromBalance, err := t.balance(from).Sub(amount)
	if err != nil {
		return fmt.Errorf("%s: %s holds %s, needs %s: %w",
			t.symbol, from, t.balance(from), amount, generic.ErrInsufficientReserve)
	}
	if from == to {
		return nil
	}
	toBalance, err := t.balance(to).Add(amount)
	if err != nil {
		return err
	}
	t.balances[from] = fromBalance
	t.balances[to] = toBalance
	return nil
}

func (t *Token) balance(id generic.Identity) generic.Amount {
	if b, ok := t.balances[id]; ok {
		return b
	}
	return generic.ZeroAmount()
}

// Reserve returns a Custodian paying out of holder's balance.
func (t *Token) Reserve(holder generic.Identity) *Reserve {
	return &Reserve{ledger: t, holder: holder}
}

// =============================================================================
// RESERVE - Custodian view of one holder account
// =============================================================================

// Ledger is the transfer surface a Reserve pays through.
type Ledger interface {
	BalanceOf(ctx context.Context, identity generic.Identity) (generic.Amount, error)
	Transfer(ctx context.Context, from, to generic.Identity, amount generic.Amount) error
}

// Reserve adapts a Ledger account to vesting.Custodian.
type Reserve struct {
	ledger Ledger
	holder generic.Identity
}

var (
	_ vesting.Custodian = (*Reserve)(nil)
	_ vesting.Reverser  = (*Reserve)(nil)
)

// NewReserve builds a Reserve over any Ledger.
func NewReserve(ledger Ledger, holder generic.Identity) *Reserve {
	return &Reserve{ledger: ledger, holder: holder}
}

// Holder is the reserve account identity.
func (r *Reserve) Holder() generic.Identity { return r.holder }

// Available is the reserve's current balance.
func (r *Reserve) Available(ctx context.Context) (generic.Amount, error) {
	return r.ledger.BalanceOf(ctx, r.holder)
}

func (r *Reserve) BalanceOf(ctx context.Context, identity generic.Identity) (generic.Amount, error) {
	return r.ledger.BalanceOf(ctx, identity)
}

func (r *Reserve) Transfer(ctx context.Context, to generic.Identity, amount generic.Amount) error {
	return r.ledger.Transfer(ctx, r.holder, to, amount)
}

// Reverse returns amount from to back to the reserve.
func (r *Reserve) Reverse(ctx context.Context, to generic.Identity, amount generic.Amount) error {
	return r.ledger.Transfer(ctx, to, r.holder, amount)
}
