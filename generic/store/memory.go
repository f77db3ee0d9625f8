// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/equity-vesting/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	enrollments map[generic.Identity]generic.Enrollment
	claims      map[generic.Identity][]generic.ClaimTransaction
	claimIDs    map[generic.TransactionID]bool
}

func NewMemory() *Memory {
	return &Memory{
		enrollments: make(map[generic.Identity]generic.Enrollment),
		claims:      make(map[generic.Identity][]generic.ClaimTransaction),
		claimIDs:    make(map[generic.TransactionID]bool),
	}
}

// InsertEnrollments adds a batch atomically. Create-only.
func (m *Memory) InsertEnrollments(_ context.Context, enrollments []generic.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(enrollments)
}

func (m *Memory) insertLocked(enrollments []generic.Enrollment) error {
	// Check every identity first (atomic check)
	seen := make(map[generic.Identity]bool, len(enrollments))
	for _, e := range enrollments {
		if _, exists := m.enrollments[e.Identity]; exists || seen[e.Identity] {
			return generic.ErrAlreadyRegistered
		}
		seen[e.Identity] = true
	}
	for _, e := range enrollments {
		m.enrollments[e.Identity] = e
	}
	return nil
}

func (m *Memory) GetEnrollment(_ context.Context, identity generic.Identity) (*generic.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(identity), nil
}

func (m *Memory) getLocked(identity generic.Identity) *generic.Enrollment {
	e, ok := m.enrollments[identity]
	if !ok {
		return nil
	}
	return &e
}

func (m *Memory) ListEnrollments(_ context.Context) ([]generic.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(), nil
}

func (m *Memory) listLocked() []generic.Enrollment {
	result := make([]generic.Enrollment, 0, len(m.enrollments))
	for _, e := range m.enrollments {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Identity < result[j].Identity })
	return result
}

// AppendClaim records a claim and raises the enrollment's claimed amount.
func (m *Memory) AppendClaim(_ context.Context, tx generic.ClaimTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) appendLocked(tx generic.ClaimTransaction) error {
	e, ok := m.enrollments[tx.Identity]
	if !ok {
		return &generic.NotEnrolledError{Identity: tx.Identity}
	}
	if !e.ClaimedAmount.Equal(tx.ClaimedBefore) || m.claimIDs[tx.ID] {
		return generic.ErrConcurrentModification
	}

	e.ClaimedAmount = tx.ClaimedAfter
	e.UpdatedAt = tx.ClaimedAt
	m.enrollments[tx.Identity] = e
	m.claims[tx.Identity] = append(m.claims[tx.Identity], tx)
	m.claimIDs[tx.ID] = true
	return nil
}

func (m *Memory) LoadClaims(_ context.Context, identity generic.Identity) ([]generic.ClaimTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked(identity), nil
}

func (m *Memory) loadLocked(identity generic.Identity) []generic.ClaimTransaction {
	result := make([]generic.ClaimTransaction, len(m.claims[identity]))
	copy(result, m.claims[identity])
	return result
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
//
// A transaction buffers its writes and applies them at commit under the
// write lock, so fn itself runs without holding the store. Transactions on
// different identities never block each other; two touching the same
// enrollment are settled by the AppendClaim guard at commit.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction. Writes made through the view
// are visible to fn and discarded if it fails.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	view := &txMemoryView{
		parent:      tm,
		enrollments: make(map[generic.Identity]generic.Enrollment),
		claims:      make(map[generic.Identity][]generic.ClaimTransaction),
		claimIDs:    make(map[generic.TransactionID]bool),
	}
	if err := fn(view); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tm.commit(view)
}

// commit replays the view's writes; any failure restores the snapshot.
func (tm *TxMemory) commit(view *txMemoryView) error {
	if len(view.inserts) == 0 && len(view.appends) == 0 {
		return nil
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if len(view.inserts) > 0 {
		if err := tm.insertLocked(view.inserts); err != nil {
			tm.restore(snapshot)
			return err
		}
	}
	for _, tx := range view.appends {
		if err := tm.appendLocked(tx); err != nil {
			tm.restore(snapshot)
			return err
		}
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	enrollments := make(map[generic.Identity]generic.Enrollment, len(tm.enrollments))
	for k, v := range tm.enrollments {
		enrollments[k] = v
	}
	claims := make(map[generic.Identity][]generic.ClaimTransaction, len(tm.claims))
	for k, v := range tm.claims {
		claims[k] = append([]generic.ClaimTransaction{}, v...)
	}
	ids := make(map[generic.TransactionID]bool, len(tm.claimIDs))
	for k, v := range tm.claimIDs {
		ids[k] = v
	}
	return memorySnapshot{enrollments: enrollments, claims: claims, claimIDs: ids}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.enrollments = s.enrollments
	tm.claims = s.claims
	tm.claimIDs = s.claimIDs
}

type memorySnapshot struct {
	enrollments map[generic.Identity]generic.Enrollment
	claims      map[generic.Identity][]generic.ClaimTransaction
	claimIDs    map[generic.TransactionID]bool
}

// txMemoryView overlays pending writes on the parent. Reads of the parent
// take its read lock per call.
type txMemoryView struct {
	parent *TxMemory

	inserts []generic.Enrollment
	appends []generic.ClaimTransaction

	enrollments map[generic.Identity]generic.Enrollment
	claims      map[generic.Identity][]generic.ClaimTransaction
	claimIDs    map[generic.TransactionID]bool
}

func (tv *txMemoryView) InsertEnrollments(ctx context.Context, enrollments []generic.Enrollment) error {
	seen := make(map[generic.Identity]bool, len(enrollments))
	for _, e := range enrollments {
		existing, err := tv.GetEnrollment(ctx, e.Identity)
		if err != nil {
			return err
		}
		if existing != nil || seen[e.Identity] {
			return generic.ErrAlreadyRegistered
		}
		seen[e.Identity] = true
	}
	for _, e := range enrollments {
		tv.inserts = append(tv.inserts, e)
		tv.enrollments[e.Identity] = e
	}
	return nil
}

func (tv *txMemoryView) GetEnrollment(ctx context.Context, identity generic.Identity) (*generic.Enrollment, error) {
	if e, ok := tv.enrollments[identity]; ok {
		return &e, nil
	}
	return tv.parent.GetEnrollment(ctx, identity)
}

func (tv *txMemoryView) ListEnrollments(ctx context.Context) ([]generic.Enrollment, error) {
	list, err := tv.parent.ListEnrollments(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]generic.Enrollment, 0, len(list)+len(tv.enrollments))
	for _, e := range list {
		if _, pending := tv.enrollments[e.Identity]; !pending {
			result = append(result, e)
		}
	}
	for _, e := range tv.enrollments {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Identity < result[j].Identity })
	return result, nil
}

func (tv *txMemoryView) AppendClaim(ctx context.Context, tx generic.ClaimTransaction) error {
	e, err := tv.GetEnrollment(ctx, tx.Identity)
	if err != nil {
		return err
	}
	if e == nil {
		return &generic.NotEnrolledError{Identity: tx.Identity}
	}
	if !e.ClaimedAmount.Equal(tx.ClaimedBefore) || tv.claimIDs[tx.ID] || tv.parent.hasClaim(tx.ID) {
		return generic.ErrConcurrentModification
	}

	e.ClaimedAmount = tx.ClaimedAfter
	e.UpdatedAt = tx.ClaimedAt
	tv.enrollments[tx.Identity] = *e
	tv.claims[tx.Identity] = append(tv.claims[tx.Identity], tx)
	tv.claimIDs[tx.ID] = true
	tv.appends = append(tv.appends, tx)
	return nil
}

func (tv *txMemoryView) LoadClaims(ctx context.Context, identity generic.Identity) ([]generic.ClaimTransaction, error) {
	committed, err := tv.parent.LoadClaims(ctx, identity)
	if err != nil {
		return nil, err
	}
	return append(committed, tv.claims[identity]...), nil
}

func (m *Memory) hasClaim(id generic.TransactionID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.claimIDs[id]
}

var (
	_ generic.TxStore = (*TxMemory)(nil)
	_ generic.Store   = (*txMemoryView)(nil)
)
