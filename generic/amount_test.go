package generic_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/equity-vesting/generic"
)

// =============================================================================
// AMOUNT TESTS
// =============================================================================

func TestAmount_ParseUnits_ScalesByDecimals(t *testing.T) {
	// GIVEN: A human amount of 1000 tokens with 18 decimals
	// WHEN: Parsing
	// THEN: The base-unit value is 1000 * 10^18

	a, err := generic.ParseUnits("1000", 18)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000", a.String())
	assert.Equal(t, "1000", a.FormatUnits(18))
}

func TestAmount_ParseUnits_RejectsFractionalBaseUnits(t *testing.T) {
	_, err := generic.ParseUnits("0.5", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, generic.ErrInvalidInput))
}

func TestAmount_ParseAmount_RejectsNegativeAndGarbage(t *testing.T) {
	_, err := generic.ParseAmount("-1")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = generic.ParseAmount("ten")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestAmount_Add_OverflowIsArithmeticError(t *testing.T) {
	// GIVEN: The largest uint256 value
	// WHEN: Adding one base unit
	// THEN: ArithmeticError, no wraparound

	_, err := generic.MaxAmount().Add(generic.NewAmount(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrArithmetic)

	var arith *generic.ArithmeticError
	require.True(t, errors.As(err, &arith))
	assert.Equal(t, "add", arith.Op)
}

func TestAmount_Sub_UnderflowIsArithmeticError(t *testing.T) {
	_, err := generic.NewAmount(1).Sub(generic.NewAmount(2))
	assert.ErrorIs(t, err, generic.ErrArithmetic)
}

func TestAmount_MulInt(t *testing.T) {
	got, err := generic.NewAmount(250).MulInt(3)
	require.NoError(t, err)
	assert.True(t, got.Equal(generic.NewAmount(750)))

	_, err = generic.MaxAmount().MulInt(2)
	assert.ErrorIs(t, err, generic.ErrArithmetic)

	_, err = generic.NewAmount(1).MulInt(-1)
	assert.ErrorIs(t, err, generic.ErrArithmetic)
}

func TestAmount_QuoInt_Floors(t *testing.T) {
	// GIVEN: 1000 base units split into 3 periods
	// THEN: Tranche is 333, remainder is left to the final period

	got, err := generic.NewAmount(1000).QuoInt(3)
	require.NoError(t, err)
	assert.Equal(t, "333", got.String())

	_, err = generic.NewAmount(1).QuoInt(0)
	assert.ErrorIs(t, err, generic.ErrArithmetic)
}

func TestAmount_Validate(t *testing.T) {
	assert.NoError(t, generic.ZeroAmount().Validate())
	assert.NoError(t, generic.MaxAmount().Validate())
	assert.Error(t, generic.NewAmount(-5).Validate())

	_, err := generic.NewAmountFromDecimal(decimal.RequireFromString("1.5"))
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestAmount_TextRoundTrip(t *testing.T) {
	a := generic.MustParseUnits("250", 18)
	text, err := a.MarshalText()
	require.NoError(t, err)

	var b generic.Amount
	require.NoError(t, b.UnmarshalText(text))
	assert.True(t, a.Equal(b))
}

// =============================================================================
// IDENTITY TESTS
// =============================================================================

func TestNewIdentity_NormalizesHexAddresses(t *testing.T) {
	id, err := generic.NewIdentity("  0xAbCdEf0123456789aBcDeF0123456789AbCdEf01 ")
	require.NoError(t, err)
	assert.Equal(t, generic.Identity("0xabcdef0123456789abcdef0123456789abcdef01"), id)

	// Non-address identities keep their case
	id, err = generic.NewIdentity("Alice")
	require.NoError(t, err)
	assert.Equal(t, generic.Identity("Alice"), id)
}

func TestNewIdentity_RejectsEmpty(t *testing.T) {
	_, err := generic.NewIdentity("   ")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

func TestErrors_Classification(t *testing.T) {
	payout := &generic.PayoutError{Identity: "a", Amount: generic.NewAmount(1), Err: generic.ErrInsufficientReserve}
	assert.True(t, generic.IsRetryable(payout))
	assert.ErrorIs(t, payout, generic.ErrInsufficientReserve)
	assert.False(t, generic.IsClientError(payout))

	assert.True(t, generic.IsClientError(generic.ErrNothingToClaim))
	assert.True(t, generic.IsClientError(&generic.AuthorizationError{Caller: "x", Operation: "register"}))
	assert.True(t, generic.IsNotFound(&generic.NotEnrolledError{Identity: "x"}))

	cfg := &generic.ConfigurationError{Role: "ceo", Reason: "not in table", Err: generic.ErrUnknownRole}
	assert.ErrorIs(t, cfg, generic.ErrConfiguration)
	assert.ErrorIs(t, cfg, generic.ErrUnknownRole)

	in := &generic.InvalidInputError{Field: "identities", Position: 3, Reason: "duplicate"}
	assert.Contains(t, in.Error(), "identities[2]")
}
