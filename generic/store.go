/*
store.go - Persistence interface for enrollments and claim transactions

PURPOSE:
  Defines the interface between the vesting domain and the database.
  Enrollments are created once and only ever have their claimed amount
  raised; claim transactions are append-only. Different implementations
  use SQLite, PostgreSQL or in-memory storage.

KEY INTERFACES:
  Store:   Enrollment + claim persistence
  TxStore: Store with atomic multi-write transactions

APPEND-ONLY CONTRACT:
  - InsertEnrollments(): create, never overwrite
  - AppendClaim(): the ONLY way an enrollment's claimed amount changes
  - NO Update() or Delete() methods exist

OPTIMISTIC CHECK:
  AppendClaim carries the claimed amount the claim was computed against
  (ClaimedBefore). If the stored value differs, another claim won the race
  and the write fails with ErrConcurrentModification. Combined with the
  engine's per-identity lock this makes double payout impossible even when
  several processes share one database.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory for testing/dev
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/store.go: PostgreSQL

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package generic

import "context"

// =============================================================================
// STORE - Interface for enrollment and claim persistence
// =============================================================================

type Store interface {
	// InsertEnrollments persists a batch atomically. Fails with
	// ErrAlreadyRegistered if any identity exists; nothing is written then.
	InsertEnrollments(ctx context.Context, enrollments []Enrollment) error

	// GetEnrollment returns nil, nil when the identity is not enrolled.
	GetEnrollment(ctx context.Context, identity Identity) (*Enrollment, error)

	// ListEnrollments returns all enrollments ordered by identity.
	ListEnrollments(ctx context.Context) ([]Enrollment, error)

	// AppendClaim records tx and sets the enrollment's claimed amount to
	// tx.ClaimedAfter. Fails with NotEnrolledError for unknown identities and
	// ErrConcurrentModification if the stored claimed amount is not
	// tx.ClaimedBefore.
	AppendClaim(ctx context.Context, tx ClaimTransaction) error

	// LoadClaims returns the identity's claims ordered by ClaimedAt.
	LoadClaims(ctx context.Context, identity Identity) ([]ClaimTransaction, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
