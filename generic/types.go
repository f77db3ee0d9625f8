/*
Package generic provides the domain-agnostic core of the vesting engine.

PURPOSE:
  This package holds the value types, error taxonomy and persistence
  interfaces shared by the vesting domain, the storage adapters and the
  HTTP host. It knows nothing about concrete roles or token custody.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: an unsigned fixed-point token quantity in base units
  - Identity: the external principal an allocation belongs to
  - Role: the schedule key an identity is enrolled under
  - Enrollment: the per-identity vesting record
  - ClaimTransaction: an immutable ledger entry for one successful claim

DESIGN PRINCIPLES:
  1. Checked arithmetic: Amount never wraps, overflow is an ArithmeticError
  2. Precision: decimal.Decimal holding whole base units (no fractions)
  3. Append-only history: claims are recorded, never edited
  4. Type safety: identities and roles are distinct string types

USAGE:
  total, _ := generic.ParseUnits("1000", 18)
  tranche, _ := total.QuoInt(4)
  vested, _ := tranche.MulInt(2)

SEE ALSO:
  - errors.go: Error taxonomy
  - position.go: Vested / claimed / claimable arithmetic
  - ledger.go: Claim ledger
*/
package generic

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Unsigned fixed-point quantity in base units
// =============================================================================

// Amount is a non-negative whole number of token base units.
// The valid range is [0, 2^256-1], the range of an EVM uint256.
type Amount struct {
	Value decimal.Decimal
}

var maxAmountValue = decimal.NewFromBigInt(
	new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)), 0,
)

// MaxAmount returns the largest representable Amount.
func MaxAmount() Amount { return Amount{Value: maxAmountValue} }

// ZeroAmount returns an Amount of zero base units.
func ZeroAmount() Amount { return Amount{Value: decimal.Zero} }

// NewAmount builds an Amount from an int64 count of base units.
// A negative input yields an Amount that fails Validate.
func NewAmount(units int64) Amount {
	return Amount{Value: decimal.NewFromInt(units)}
}

// NewAmountFromDecimal validates d and wraps it as an Amount.
func NewAmountFromDecimal(d decimal.Decimal) (Amount, error) {
	a := Amount{Value: d}
	if err := a.Validate(); err != nil {
		return Amount{}, err
	}
	return a, nil
}

// ParseAmount parses a base-unit integer string such as "250000000000000000000".
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, &InvalidInputError{Field: "amount", Reason: fmt.Sprintf("not a number: %q", s)}
	}
	return NewAmountFromDecimal(d)
}

// ParseUnits parses a human token quantity ("1000", "0.5") and scales it by
// 10^decimals into base units. The scaled value must be a whole number.
func ParseUnits(s string, decimals int32) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, &InvalidInputError{Field: "amount", Reason: fmt.Sprintf("not a number: %q", s)}
	}
	return NewAmountFromDecimal(d.Shift(decimals))
}

// MustParseUnits is ParseUnits for constants and tests.
func MustParseUnits(s string, decimals int32) Amount {
	a, err := ParseUnits(s, decimals)
	if err != nil {
		panic(err)
	}
	return a
}

// Validate reports whether the amount is a whole, non-negative value within range.
func (a Amount) Validate() error {
	switch {
	case a.Value.IsNegative():
		return &InvalidInputError{Field: "amount", Reason: "negative amount"}
	case !a.Value.IsInteger():
		return &InvalidInputError{Field: "amount", Reason: "amount has fractional base units"}
	case a.Value.GreaterThan(maxAmountValue):
		return &ArithmeticError{Op: "validate", Left: a, Reason: "exceeds uint256"}
	}
	return nil
}

// Add returns a+b, failing with ArithmeticError on overflow.
func (a Amount) Add(b Amount) (Amount, error) {
	sum := a.Value.Add(b.Value)
	if sum.GreaterThan(maxAmountValue) {
		return Amount{}, &ArithmeticError{Op: "add", Left: a, Right: b, Reason: "overflow"}
	}
	return Amount{Value: sum}, nil
}

// Sub returns a-b, failing with ArithmeticError on underflow.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.Value.LessThan(b.Value) {
		return Amount{}, &ArithmeticError{Op: "sub", Left: a, Right: b, Reason: "underflow"}
	}
	return Amount{Value: a.Value.Sub(b.Value)}, nil
}

// MulInt returns a*n, failing with ArithmeticError on overflow or negative n.
func (a Amount) MulInt(n int64) (Amount, error) {
	if n < 0 {
		return Amount{}, &ArithmeticError{Op: "mul", Left: a, Right: NewAmount(n), Reason: "negative multiplier"}
	}
	product := a.Value.Mul(decimal.NewFromInt(n))
	if product.GreaterThan(maxAmountValue) {
		return Amount{}, &ArithmeticError{Op: "mul", Left: a, Right: NewAmount(n), Reason: "overflow"}
	}
	return Amount{Value: product}, nil
}

// QuoInt returns floor(a/n) for n > 0.
func (a Amount) QuoInt(n int64) (Amount, error) {
	if n <= 0 {
		return Amount{}, &ArithmeticError{Op: "quo", Left: a, Right: NewAmount(n), Reason: "non-positive divisor"}
	}
	q, _ := a.Value.QuoRem(decimal.NewFromInt(n), 0)
	return Amount{Value: q}, nil
}

func (a Amount) IsZero() bool { return a.Value.IsZero() }
func (a Amount) IsPositive() bool { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool { return a.Value.LessThan(b.Value) }
func (a Amount) Cmp(b Amount) int { return a.Value.Cmp(b.Value) }
func (a Amount) String() string { return a.Value.String() }
func (a Amount) FormatUnits(dec int32) string { return a.Value.Shift(-dec).String() }

// Min returns the smaller of a and b.
func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MarshalText encodes the amount as a base-unit integer string.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.Value.String()), nil
}

// UnmarshalText decodes a base-unit integer string.
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// Identity is the external address or principal that owns an enrollment.
type Identity string

// Role keys the schedule table.
type Role string

// TransactionID identifies a claim transaction.
type TransactionID string

var hexAddressPattern = regexp.MustCompile(`^0[xX][0-9a-fA-F]{40}$`)

// NewIdentity trims and validates an identity. Hex addresses are lower-cased
// so that checksummed and plain spellings map to the same registry key.
func NewIdentity(raw string) (Identity, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", &InvalidInputError{Field: "identity", Reason: "empty identity"}
	}
	if hexAddressPattern.MatchString(s) {
		s = strings.ToLower(s)
	}
	return Identity(s), nil
}

func (id Identity) String() string { return string(id) }
func (r Role) String() string      { return string(r) }

// =============================================================================
// ENROLLMENT - One per registered identity
// =============================================================================

// Enrollment is the vesting record of one identity.
//
// INVARIANTS:
//   - ClaimedAmount never decreases.
//   - ClaimedAmount never exceeds the role's total allocation.
//   - Role and EnrolledAt never change after creation.
type Enrollment struct {
	Identity      Identity
	Role          Role
	EnrolledAt    time.Time
	ClaimedAmount Amount
	UpdatedAt     time.Time
}

// =============================================================================
// CLAIM TRANSACTION - Immutable record of one payout
// =============================================================================

type ClaimTransaction struct {
	ID            TransactionID
	Identity      Identity
	Role          Role
	Amount        Amount // paid in this claim
	ClaimedBefore Amount
	ClaimedAfter  Amount
	Vested        Amount // vested total the claim was computed against
	ClaimedAt     time.Time
}

// Validate checks the internal consistency of a claim transaction.
func (tx ClaimTransaction) Validate() error {
	if tx.ID == "" {
		return &InvalidInputError{Field: "id", Reason: "missing transaction id"}
	}
	if tx.Identity == "" {
		return &InvalidInputError{Field: "identity", Reason: "missing identity"}
	}
	if !tx.Amount.IsPositive() {
		return &InvalidInputError{Field: "amount", Reason: "claim amount must be positive"}
	}
	after, err := tx.ClaimedBefore.Add(tx.Amount)
	if err != nil {
		return err
	}
	if !after.Equal(tx.ClaimedAfter) {
		return &ArithmeticError{Op: "add", Left: tx.ClaimedBefore, Right: tx.Amount, Reason: "claimed_after mismatch"}
	}
	if tx.ClaimedAfter.GreaterThan(tx.Vested) {
		return &ArithmeticError{Op: "cmp", Left: tx.ClaimedAfter, Right: tx.Vested, Reason: "claimed exceeds vested"}
	}
	return nil
}
