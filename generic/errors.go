/*
errors.go - Centralized error types for the vesting engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch with errors.Is on the sentinels and errors.As on the
  structured types when they need the details.

ERROR CATEGORIES:
  1. Configuration - unknown role, malformed schedule (fatal at startup)
  2. Authorization - caller is not the admin
  3. Invalid input - batch shape, duplicate identity, time ordering
  4. Not enrolled - claim or query for an unknown identity
  5. Nothing to claim - expected outcome, not a bug signal
  6. Arithmetic - overflow/underflow, an integrity violation
  7. Payout - custody refused the transfer, claim rolled back

USAGE:
  if errors.Is(err, generic.ErrNothingToClaim) {
      // nothing vested since the last claim
  }
  var payoutErr *generic.PayoutError
  if errors.As(err, &payoutErr) {
      // retry later
  }
*/
package generic

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfiguration marks a malformed schedule table or unknown role.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnknownRole is returned when a role is absent from the schedule table.
	ErrUnknownRole = errors.New("unknown role")

	// ErrUnauthorized is returned when the caller is not the admin identity.
	ErrUnauthorized = errors.New("caller is not authorized")

	// ErrInvalidInput marks a rejected request that changed nothing.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTime is returned when now precedes the enrollment time.
	ErrInvalidTime = errors.New("time precedes enrollment")

	// ErrAlreadyRegistered is returned when an identity already has an enrollment.
	ErrAlreadyRegistered = errors.New("identity already registered")

	// ErrNotEnrolled is returned for claims or queries on an unknown identity.
	ErrNotEnrolled = errors.New("identity not enrolled")

	// ErrNothingToClaim is returned when vested minus claimed is zero.
	ErrNothingToClaim = errors.New("zero amount to claim")

	// ErrArithmetic is returned when quantity math would overflow or underflow.
	ErrArithmetic = errors.New("arithmetic error")

	// ErrPayout is returned when the custodian rejects a transfer.
	ErrPayout = errors.New("payout failed")

	// ErrInsufficientReserve is returned by custodians that cannot cover a transfer.
	ErrInsufficientReserve = errors.New("insufficient reserve")

	// ErrConcurrentModification is returned when a claim was computed against
	// a stale claimed amount.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrTransactionFailed is returned when a claim transaction cannot be persisted.
	ErrTransactionFailed = errors.New("transaction failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError describes a schedule table problem.
type ConfigurationError struct {
	Role   Role
	Reason string
	Err    error // optional underlying sentinel such as ErrUnknownRole
}

func (e *ConfigurationError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("configuration error: role %q: %s", e.Role, e.Reason)
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConfiguration, e.Err}
	}
	return []error{ErrConfiguration}
}

// AuthorizationError is returned when a non-admin caller attempts an admin operation.
type AuthorizationError struct {
	Caller    Identity
	Operation string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s: caller %q is not the admin", e.Operation, e.Caller)
}

func (e *AuthorizationError) Unwrap() error { return ErrUnauthorized }

// InvalidInputError describes a rejected request.
type InvalidInputError struct {
	Field    string
	Position int // 1-based position in a batch, 0 when not tied to one element
	Reason   string
	Err      error
}

func (e *InvalidInputError) Error() string {
	if e.Position > 0 {
		return fmt.Sprintf("invalid input: %s[%d]: %s", e.Field, e.Position-1, e.Reason)
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidInput, e.Err}
	}
	return []error{ErrInvalidInput}
}

// InvalidTimeError is returned when now is before the enrollment time.
// It is an invalid-input error so clock skew surfaces instead of reading as zero.
type InvalidTimeError struct {
	EnrolledAt time.Time
	Now        time.Time
}

func (e *InvalidTimeError) Error() string {
	return fmt.Sprintf("invalid time: %s precedes enrollment at %s",
		e.Now.UTC().Format(time.RFC3339), e.EnrolledAt.UTC().Format(time.RFC3339))
}

func (e *InvalidTimeError) Unwrap() []error { return []error{ErrInvalidTime, ErrInvalidInput} }

// NotEnrolledError names the identity that has no enrollment.
type NotEnrolledError struct {
	Identity Identity
}

func (e *NotEnrolledError) Error() string {
	return fmt.Sprintf("identity %q is not enrolled", e.Identity)
}

func (e *NotEnrolledError) Unwrap() error { return ErrNotEnrolled }

// ArithmeticError reports an overflow, underflow or broken accounting identity.
type ArithmeticError struct {
	Op     string
	Left   Amount
	Right  Amount
	Reason string
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("arithmetic error: %s(%s, %s): %s", e.Op, e.Left, e.Right, e.Reason)
}

func (e *ArithmeticError) Unwrap() error { return ErrArithmetic }

// PayoutError wraps the custodian failure that aborted a claim.
type PayoutError struct {
	Identity Identity
	Amount   Amount
	Err      error
}

func (e *PayoutError) Error() string {
	return fmt.Sprintf("payout of %s to %q failed: %v", e.Amount, e.Identity, e.Err)
}

func (e *PayoutError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrPayout, e.Err}
	}
	return []error{ErrPayout}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the same call might succeed later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPayout) || errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrNothingToClaim) ||
		errors.Is(err, ErrUnknownRole)
}

// IsNotFound returns true if the error indicates a missing enrollment.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotEnrolled)
}
