package vesting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/warp/equity-vesting/generic"
)

// =============================================================================
// OPTIONS - Shared by Registry and Engine
// =============================================================================

type options struct {
	clock   generic.Clock
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*options)

// WithClock replaces the system clock.
func WithClock(c generic.Clock) Option { return func(o *options) { o.clock = c } }

// WithLogger replaces slog.Default().
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics records counters on m.
func WithMetrics(m *Metrics) Option { return func(o *options) { o.metrics = m } }

func buildOptions(component string, opts []Option) options {
	o := options{clock: generic.SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", component)
	return o
}

// =============================================================================
// EMPLOYEE REGISTRY - Admin-gated batch enrollment
// =============================================================================

// Registry owns enrollment. It is the only component that creates records.
type Registry struct {
	store generic.TxStore
	table *ScheduleTable
	gate  AccessGate
	opts  options

	// mu serializes registrations within the process; the store's unique
	// key on identity covers concurrent processes.
	mu sync.Mutex
}

func NewRegistry(store generic.TxStore, table *ScheduleTable, gate AccessGate, opts ...Option) *Registry {
	return &Registry{
		store: store,
		table: table,
		gate:  gate,
		opts:  buildOptions("registry", opts),
	}
}

// Schedules exposes the table the registry validates roles against.
func (r *Registry) Schedules() *ScheduleTable { return r.table }

// RegisterEmployees enrolls identities[i] under roles[i] at the current time.
//
// Checks run in order and the first failure aborts with nothing written:
//  1. caller must be the admin (AuthorizationError)
//  2. non-empty batch of equal lengths (InvalidInputError)
//  3. identities non-empty and unique within the batch (InvalidInputError)
//  4. every role in the schedule table (ConfigurationError)
//  5. no identity already enrolled (InvalidInputError wrapping ErrAlreadyRegistered)
//
// All records are then written in one store transaction.
func (r *Registry) RegisterEmployees(ctx context.Context, caller generic.Identity, identities []generic.Identity, roles []generic.Role) ([]generic.Enrollment, error) {
	if r.gate == nil || !r.gate.IsAdmin(ctx, caller) {
		r.opts.logger.WarnContext(ctx, "registration rejected", "caller", caller, "reason", "not admin")
		return nil, &generic.AuthorizationError{Caller: caller, Operation: "register employees"}
	}

	if len(identities) == 0 {
		return nil, &generic.InvalidInputError{Field: "identities", Reason: "empty batch"}
	}
	if len(identities) != len(roles) {
		return nil, &generic.InvalidInputError{
			Field:  "roles",
			Reason: fmt.Sprintf("length mismatch: %d identities, %d roles", len(identities), len(roles)),
		}
	}

	normalized := make([]generic.Identity, len(identities))
	seen := make(map[generic.Identity]int, len(identities))
	for i, raw := range identities {
		id, err := generic.NewIdentity(string(raw))
		if err != nil {
			return nil, &generic.InvalidInputError{Field: "identities", Position: i + 1, Reason: "empty identity"}
		}
		if first, dup := seen[id]; dup {
			return nil, &generic.InvalidInputError{
				Field: "identities", Position: i + 1,
				Reason: fmt.Sprintf("duplicate of identities[%d]", first),
			}
		}
		seen[id] = i
		normalized[i] = id
	}

	canonical := make([]generic.Role, len(roles))
	for i, role := range roles {
		c, err := r.table.Resolve(string(role))
		if err != nil {
			return nil, err
		}
		canonical[i] = c
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.opts.clock.Now()
	batch := make([]generic.Enrollment, len(normalized))
	for i := range normalized {
		batch[i] = generic.Enrollment{
			Identity:      normalized[i],
			Role:          canonical[i],
			EnrolledAt:    now,
			ClaimedAmount: generic.ZeroAmount(),
			UpdatedAt:     now,
		}
	}

	err := r.store.WithTx(ctx, func(s generic.Store) error {
		for i, e := range batch {
			existing, err := s.GetEnrollment(ctx, e.Identity)
			if err != nil {
				return err
			}
			if existing != nil {
				return &generic.InvalidInputError{
					Field: "identities", Position: i + 1,
					Reason: fmt.Sprintf("%s is already registered", e.Identity),
					Err:    generic.ErrAlreadyRegistered,
				}
			}
		}
		if err := s.InsertEnrollments(ctx, batch); err != nil {
			if errors.Is(err, generic.ErrAlreadyRegistered) {
				return &generic.InvalidInputError{Field: "identities", Reason: "already registered", Err: err}
			}
			return err
		}
		return nil
	})
	if err != nil {
		r.opts.logger.WarnContext(ctx, "registration failed", "batch", len(batch), "error", err)
		return nil, err
	}

	r.opts.metrics.recordRegistrations(ctx, len(batch))
	r.opts.logger.InfoContext(ctx, "employees registered", "batch", len(batch), "caller", caller)
	return batch, nil
}

// Lookup returns the enrollment of identity. The bool is false when the
// identity is not enrolled; the error is reserved for storage failures.
func (r *Registry) Lookup(ctx context.Context, identity generic.Identity) (generic.Enrollment, bool, error) {
	id, err := generic.NewIdentity(string(identity))
	if err != nil {
		return generic.Enrollment{}, false, nil
	}
	e, err := r.store.GetEnrollment(ctx, id)
	if err != nil {
		return generic.Enrollment{}, false, fmt.Errorf("lookup %s: %w", id, err)
	}
	if e == nil {
		return generic.Enrollment{}, false, nil
	}
	return *e, true, nil
}

// List returns every enrollment ordered by identity.
func (r *Registry) List(ctx context.Context) ([]generic.Enrollment, error) {
	return r.store.ListEnrollments(ctx)
}
