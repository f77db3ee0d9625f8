/*
Package sqlite provides a SQLite-backed implementation of generic.TxStore.

PURPOSE:
  Persists enrollments and claim transactions in SQLite. In production the
  same patterns apply to PostgreSQL (see store/postgres); only the locking
  and error-code translation differ.

KEY TABLES:
  enrollments:        One row per identity. claimed_amount is the only
                      column that ever changes after insert.
  claim_transactions: Append-only ledger of payouts.

APPEND-ONLY ENFORCEMENT:
  - No DELETE statements
  - The only UPDATE raises enrollments.claimed_amount, guarded by
    "WHERE claimed_amount = <claimed_before>"; zero affected rows means a
    competing claim got there first (ErrConcurrentModification)

AMOUNTS:
  Stored as canonical decimal TEXT. SQLite integers stop at 2^63 and token
  amounts do not.

CONCURRENCY:
  Uses sync.RWMutex plus a single connection: one writer at a time, and
  ":memory:" databases stay one database. WithTx holds the write lock for
  the whole of fn, including any payout the claim engine runs inside it,
  so claims for different identities serialize on this store. Deployments
  that need parallel claims use store/postgres.

USAGE:
  store, err := sqlite.New("./data/vesting.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  registry := vesting.NewRegistry(store, table, gate)

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/equity-vesting/generic"
)

// timeLayout has fixed width so TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements generic.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := NewWithDB(db)
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an already-migrated database handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS enrollments (
		identity TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		enrolled_at TEXT NOT NULL,
		claimed_amount TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS claim_transactions (
		id TEXT PRIMARY KEY,
		identity TEXT NOT NULL REFERENCES enrollments(identity),
		role TEXT NOT NULL,
		amount TEXT NOT NULL,
		claimed_before TEXT NOT NULL,
		claimed_after TEXT NOT NULL,
		vested TEXT NOT NULL,
		claimed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_claims_identity_time
		ON claim_transactions(identity, claimed_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// generic.Store
// =============================================================================

// InsertEnrollments inserts the batch in one transaction.
func (s *Store) InsertEnrollments(ctx context.Context, enrollments []generic.Enrollment) error {
	return s.WithTx(ctx, func(st generic.Store) error {
		return st.InsertEnrollments(ctx, enrollments)
	})
}

func (s *Store) GetEnrollment(ctx context.Context, identity generic.Identity) (*generic.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEnrollment(ctx, s.db, identity)
}

func (s *Store) ListEnrollments(ctx context.Context) ([]generic.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEnrollments(ctx, s.db)
}

// AppendClaim runs the guarded update and the ledger insert in one transaction.
func (s *Store) AppendClaim(ctx context.Context, tx generic.ClaimTransaction) error {
	return s.WithTx(ctx, func(st generic.Store) error {
		return st.AppendClaim(ctx, tx)
	})
}

func (s *Store) LoadClaims(ctx context.Context, identity generic.Identity) ([]generic.ClaimTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadClaims(ctx, s.db, identity)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore runs inside WithTx and must not touch the parent's mutex.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) InsertEnrollments(ctx context.Context, enrollments []generic.Enrollment) error {
	for _, e := range enrollments {
		if err := insertEnrollment(ctx, ts.tx, e); err != nil {
			return err
		}
	}
	return nil
}

func (ts *txStore) GetEnrollment(ctx context.Context, identity generic.Identity) (*generic.Enrollment, error) {
	return getEnrollment(ctx, ts.tx, identity)
}

func (ts *txStore) ListEnrollments(ctx context.Context) ([]generic.Enrollment, error) {
	return listEnrollments(ctx, ts.tx)
}

func (ts *txStore) AppendClaim(ctx context.Context, tx generic.ClaimTransaction) error {
	return appendClaim(ctx, ts.tx, tx)
}

func (ts *txStore) LoadClaims(ctx context.Context, identity generic.Identity) ([]generic.ClaimTransaction, error) {
	return loadClaims(ctx, ts.tx, identity)
}

// =============================================================================
// QUERIES (shared by Store and txStore)
// =============================================================================

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertEnrollment(ctx context.Context, q queryer, e generic.Enrollment) error {
	updated := e.UpdatedAt
	if updated.IsZero() {
		updated = e.EnrolledAt
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO enrollments (identity, role, enrolled_at, claimed_amount, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(e.Identity),
		string(e.Role),
		formatTime(e.EnrolledAt),
		e.ClaimedAmount.String(),
		formatTime(updated),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%s: %w", e.Identity, generic.ErrAlreadyRegistered)
		}
		return fmt.Errorf("failed to insert enrollment: %w", err)
	}
	return nil
}

const enrollmentColumns = `identity, role, enrolled_at, claimed_amount, updated_at`

func getEnrollment(ctx context.Context, q queryer, identity generic.Identity) (*generic.Enrollment, error) {
	row := q.QueryRowContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE identity = ?`, string(identity))
	e, err := scanEnrollment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	return &e, nil
}

func listEnrollments(ctx context.Context, q queryer) ([]generic.Enrollment, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	defer rows.Close()

	var result []generic.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func appendClaim(ctx context.Context, q queryer, tx generic.ClaimTransaction) error {
	res, err := q.ExecContext(ctx, `
		UPDATE enrollments SET claimed_amount = ?, updated_at = ?
		WHERE identity = ? AND claimed_amount = ?`,
		tx.ClaimedAfter.String(),
		formatTime(tx.ClaimedAt),
		string(tx.Identity),
		tx.ClaimedBefore.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update claimed amount: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update claimed amount: %w", err)
	}
	if affected == 0 {
		var one int
		err := q.QueryRowContext(ctx, `SELECT 1 FROM enrollments WHERE identity = ?`, string(tx.Identity)).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return &generic.NotEnrolledError{Identity: tx.Identity}
		case err != nil:
			return fmt.Errorf("failed to check enrollment: %w", err)
		}
		return generic.ErrConcurrentModification
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO claim_transactions
		(id, identity, role, amount, claimed_before, claimed_after, vested, claimed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(tx.ID),
		string(tx.Identity),
		string(tx.Role),
		tx.Amount.String(),
		tx.ClaimedBefore.String(),
		tx.ClaimedAfter.String(),
		tx.Vested.String(),
		formatTime(tx.ClaimedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrConcurrentModification
		}
		return fmt.Errorf("failed to append claim: %w", err)
	}
	return nil
}

func loadClaims(ctx context.Context, q queryer, identity generic.Identity) ([]generic.ClaimTransaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, identity, role, amount, claimed_before, claimed_after, vested, claimed_at
		FROM claim_transactions
		WHERE identity = ?
		ORDER BY claimed_at, rowid`, string(identity))
	if err != nil {
		return nil, fmt.Errorf("failed to load claims: %w", err)
	}
	defer rows.Close()

	var result []generic.ClaimTransaction
	for rows.Next() {
		tx, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanEnrollment(row scanner) (generic.Enrollment, error) {
	var (
		e                     generic.Enrollment
		identity, role        string
		enrolledAt, updatedAt string
		claimed               string
	)
	if err := row.Scan(&identity, &role, &enrolledAt, &claimed, &updatedAt); err != nil {
		return generic.Enrollment{}, err
	}
	e.Identity = generic.Identity(identity)
	e.Role = generic.Role(role)

	var err error
	if e.EnrolledAt, err = parseTime(enrolledAt); err != nil {
		return generic.Enrollment{}, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return generic.Enrollment{}, err
	}
	if e.ClaimedAmount, err = generic.ParseAmount(claimed); err != nil {
		return generic.Enrollment{}, err
	}
	return e, nil
}

func scanClaim(row scanner) (generic.ClaimTransaction, error) {
	var (
		tx                            generic.ClaimTransaction
		id, identity, role, claimedAt string
		amount, before, after, vested string
	)
	if err := row.Scan(&id, &identity, &role, &amount, &before, &after, &vested, &claimedAt); err != nil {
		return generic.ClaimTransaction{}, err
	}
	tx.ID = generic.TransactionID(id)
	tx.Identity = generic.Identity(identity)
	tx.Role = generic.Role(role)

	var err error
	if tx.ClaimedAt, err = parseTime(claimedAt); err != nil {
		return generic.ClaimTransaction{}, err
	}
	for _, f := range []struct {
		dst *generic.Amount
		src string
	}{{&tx.Amount, amount}, {&tx.ClaimedBefore, before}, {&tx.ClaimedAfter, after}, {&tx.Vested, vested}} {
		if *f.dst, err = generic.ParseAmount(f.src); err != nil {
			return generic.ClaimTransaction{}, err
		}
	}
	return tx, nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ generic.TxStore = (*Store)(nil)
