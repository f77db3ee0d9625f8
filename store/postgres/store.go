/*
Package postgres provides a PostgreSQL implementation of generic.TxStore.

PURPOSE:
  Production storage for enrollments and claim transactions on pgx/v5.
  Transactions are carried in the context by TransactionManager, so any
  query issued with a transaction context joins it.

LOCKING:
  Inside WithTx, GetEnrollment reads with SELECT ... FOR UPDATE. Two
  processes claiming for the same identity serialize on the row lock;
  the guarded UPDATE in AppendClaim catches anything that slips past.

AMOUNTS:
  NUMERIC(78,0) columns (uint256 fits), exchanged with pgx as text.

ERRORS:
  23505 unique_violation on enrollments  -> generic.ErrAlreadyRegistered
  23505 unique_violation on claims        -> generic.ErrConcurrentModification
  23503 foreign_key_violation on claims   -> generic.NotEnrolledError

SEE ALSO:
  - transaction.go: TransactionManager / QueryerFromContext
  - migrations/: Schema (golang-migrate, embedded)
  - store/sqlite: SQLite implementation of the same contract
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/warp/equity-vesting/generic"
)

const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
)

// Pool is the subset of *pgxpool.Pool the store needs.
type Pool interface {
	Queryer
	txStarter
}

// Store implements generic.TxStore on PostgreSQL.
type Store struct {
	pool Queryer
	tm   *TransactionManager
}

func NewStore(pool Pool) *Store {
	return &Store{pool: pool, tm: NewTransactionManager(pool)}
}

// =============================================================================
// generic.Store
// =============================================================================

func (s *Store) InsertEnrollments(ctx context.Context, enrollments []generic.Enrollment) error {
	return s.tm.WithinReadWrite(ctx, func(ctx context.Context) error {
		q := QueryerFromContext(ctx, s.pool)
		for _, e := range enrollments {
			if err := insertEnrollment(ctx, q, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Reads join the context's transaction, or run in a read-only one.

func (s *Store) GetEnrollment(ctx context.Context, identity generic.Identity) (*generic.Enrollment, error) {
	var e *generic.Enrollment
	err := s.tm.WithinReadOnly(ctx, func(ctx context.Context) error {
		var err error
		e, err = getEnrollment(ctx, QueryerFromContext(ctx, s.pool), identity, false)
		return err
	})
	return e, err
}

func (s *Store) ListEnrollments(ctx context.Context) ([]generic.Enrollment, error) {
	var list []generic.Enrollment
	err := s.tm.WithinReadOnly(ctx, func(ctx context.Context) error {
		var err error
		list, err = listEnrollments(ctx, QueryerFromContext(ctx, s.pool))
		return err
	})
	return list, err
}

func (s *Store) AppendClaim(ctx context.Context, tx generic.ClaimTransaction) error {
	return s.tm.WithinReadWrite(ctx, func(ctx context.Context) error {
		return appendClaim(ctx, QueryerFromContext(ctx, s.pool), tx)
	})
}

func (s *Store) LoadClaims(ctx context.Context, identity generic.Identity) ([]generic.ClaimTransaction, error) {
	var claims []generic.ClaimTransaction
	err := s.tm.WithinReadOnly(ctx, func(ctx context.Context) error {
		var err error
		claims, err = loadClaims(ctx, QueryerFromContext(ctx, s.pool), identity)
		return err
	})
	return claims, err
}

// WithTx runs fn in a read-write transaction.
func (s *Store) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return s.tm.WithinReadWrite(ctx, func(txCtx context.Context) error {
		return fn(&txStore{q: QueryerFromContext(txCtx, s.pool)})
	})
}

// txStore is bound to one transaction and locks the rows it reads.
type txStore struct {
	q Queryer
}

func (ts *txStore) InsertEnrollments(ctx context.Context, enrollments []generic.Enrollment) error {
	for _, e := range enrollments {
		if err := insertEnrollment(ctx, ts.q, e); err != nil {
			return err
		}
	}
	return nil
}

func (ts *txStore) GetEnrollment(ctx context.Context, identity generic.Identity) (*generic.Enrollment, error) {
	return getEnrollment(ctx, ts.q, identity, true)
}

func (ts *txStore) ListEnrollments(ctx context.Context) ([]generic.Enrollment, error) {
	return listEnrollments(ctx, ts.q)
}

func (ts *txStore) AppendClaim(ctx context.Context, tx generic.ClaimTransaction) error {
	return appendClaim(ctx, ts.q, tx)
}

func (ts *txStore) LoadClaims(ctx context.Context, identity generic.Identity) ([]generic.ClaimTransaction, error) {
	return loadClaims(ctx, ts.q, identity)
}

// =============================================================================
// QUERIES
// =============================================================================

const selectEnrollment = `
        SELECT identity, role, enrolled_at, claimed_amount::text, updated_at
          FROM enrollments`

func insertEnrollment(ctx context.Context, q Queryer, e generic.Enrollment) error {
	updated := e.UpdatedAt
	if updated.IsZero() {
		updated = e.EnrolledAt
	}
	_, err := q.Exec(ctx, `
        INSERT INTO enrollments (identity, role, enrolled_at, claimed_amount, updated_at)
        VALUES ($1, $2, $3, $4::numeric, $5)`,
		string(e.Identity),
		string(e.Role),
		e.EnrolledAt.UTC(),
		e.ClaimedAmount.String(),
		updated.UTC(),
	)
	if err != nil {
		if pgErrorCode(err) == uniqueViolationCode {
			return fmt.Errorf("%s: %w", e.Identity, generic.ErrAlreadyRegistered)
		}
		return fmt.Errorf("postgres: insert enrollment: %w", err)
	}
	return nil
}

func getEnrollment(ctx context.Context, q Queryer, identity generic.Identity, forUpdate bool) (*generic.Enrollment, error) {
	query := selectEnrollment + ` WHERE identity = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	e, err := scanEnrollment(q.QueryRow(ctx, query, string(identity)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get enrollment: %w", err)
	}
	return &e, nil
}

func listEnrollments(ctx context.Context, q Queryer) ([]generic.Enrollment, error) {
	rows, err := q.Query(ctx, selectEnrollment+` ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list enrollments: %w", err)
	}
	defer rows.Close()

	var result []generic.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan enrollment: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func appendClaim(ctx context.Context, q Queryer, tx generic.ClaimTransaction) error {
	tag, err := q.Exec(ctx, `
        UPDATE enrollments
           SET claimed_amount = $1::numeric,
               updated_at = $2
         WHERE identity = $3 AND claimed_amount = $4::numeric`,
		tx.ClaimedAfter.String(),
		tx.ClaimedAt.UTC(),
		string(tx.Identity),
		tx.ClaimedBefore.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: update claimed amount: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM enrollments WHERE identity = $1)`, string(tx.Identity)).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check enrollment: %w", err)
		}
		if !exists {
			return &generic.NotEnrolledError{Identity: tx.Identity}
		}
		return generic.ErrConcurrentModification
	}

	_, err = q.Exec(ctx, `
        INSERT INTO claim_transactions
            (id, identity, role, amount, claimed_before, claimed_after, vested, claimed_at)
        VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8)`,
		string(tx.ID),
		string(tx.Identity),
		string(tx.Role),
		tx.Amount.String(),
		tx.ClaimedBefore.String(),
		tx.ClaimedAfter.String(),
		tx.Vested.String(),
		tx.ClaimedAt.UTC(),
	)
	switch pgErrorCode(err) {
	case "":
		if err != nil {
			return fmt.Errorf("postgres: append claim: %w", err)
		}
		return nil
	case uniqueViolationCode:
		return generic.ErrConcurrentModification
	case foreignKeyViolationCode:
		return &generic.NotEnrolledError{Identity: tx.Identity}
	default:
		return fmt.Errorf("postgres: append claim: %w", err)
	}
}

func loadClaims(ctx context.Context, q Queryer, identity generic.Identity) ([]generic.ClaimTransaction, error) {
	rows, err := q.Query(ctx, `
        SELECT id, identity, role, amount::text, claimed_before::text, claimed_after::text, vested::text, claimed_at
          FROM claim_transactions
         WHERE identity = $1
         ORDER BY claimed_at, claimed_after`, string(identity))
	if err != nil {
		return nil, fmt.Errorf("postgres: load claims: %w", err)
	}
	defer rows.Close()

	var result []generic.ClaimTransaction
	for rows.Next() {
		tx, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan claim: %w", err)
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnrollment(row rowScanner) (generic.Enrollment, error) {
	var (
		identity, role, claimed string
		enrolledAt, updatedAt   time.Time
	)
	if err := row.Scan(&identity, &role, &enrolledAt, &claimed, &updatedAt); err != nil {
		return generic.Enrollment{}, err
	}
	amount, err := generic.ParseAmount(claimed)
	if err != nil {
		return generic.Enrollment{}, err
	}
	return generic.Enrollment{
		Identity:      generic.Identity(identity),
		Role:          generic.Role(role),
		EnrolledAt:    enrolledAt.UTC(),
		ClaimedAmount: amount,
		UpdatedAt:     updatedAt.UTC(),
	}, nil
}

func scanClaim(row rowScanner) (generic.ClaimTransaction, error) {
	var (
		id, identity, role            string
		amount, before, after, vested string
		claimedAt                     time.Time
	)
	if err := row.Scan(&id, &identity, &role, &amount, &before, &after, &vested, &claimedAt); err != nil {
		return generic.ClaimTransaction{}, err
	}
	tx := generic.ClaimTransaction{
		ID:        generic.TransactionID(id),
		Identity:  generic.Identity(identity),
		Role:      generic.Role(role),
		ClaimedAt: claimedAt.UTC(),
	}
	var err error
	if tx.Amount, err = generic.ParseAmount(amount); err != nil {
		return generic.ClaimTransaction{}, err
	}
	if tx.ClaimedBefore, err = generic.ParseAmount(before); err != nil {
		return generic.ClaimTransaction{}, err
	}
	if tx.ClaimedAfter, err = generic.ParseAmount(after); err != nil {
		return generic.ClaimTransaction{}, err
	}
	if tx.Vested, err = generic.ParseAmount(vested); err != nil {
		return generic.ClaimTransaction{}, err
	}
	return tx, nil
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

var _ generic.TxStore = (*Store)(nil)
