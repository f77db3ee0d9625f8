package vesting

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/warp/equity-vesting/generic"
)

const instrumentationName = "github.com/warp/equity-vesting/vesting"

// Metrics records claim and registration counters. The zero value and a nil
// *Metrics are no-ops.
type Metrics struct {
	claims        metric.Int64Counter
	failures      metric.Int64Counter
	claimedAmount metric.Float64Counter
	registrations metric.Int64Counter
}

// NewMetrics creates the instruments on meter. A nil meter uses the global
// provider, which is a no-op until the host installs one.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	var (
		m   Metrics
		err error
	)
	if m.claims, err = meter.Int64Counter("vesting.claims",
		metric.WithDescription("Successful claims"),
		metric.WithUnit("{claim}")); err != nil {
		return nil, err
	}
	if m.failures, err = meter.Int64Counter("vesting.claim_failures",
		metric.WithDescription("Rejected or failed claims by reason"),
		metric.WithUnit("{claim}")); err != nil {
		return nil, err
	}
	if m.claimedAmount, err = meter.Float64Counter("vesting.claimed_amount",
		metric.WithDescription("Base units paid out"),
		metric.WithUnit("{unit}")); err != nil {
		return nil, err
	}
	if m.registrations, err = meter.Int64Counter("vesting.registrations",
		metric.WithDescription("Enrolled identities"),
		metric.WithUnit("{identity}")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) recordClaim(ctx context.Context, tx generic.ClaimTransaction) {
	if m == nil || m.claims == nil {
		return
	}
	role := metric.WithAttributes(attribute.String("role", string(tx.Role)))
	m.claims.Add(ctx, 1, role)
	m.claimedAmount.Add(ctx, tx.Amount.Value.InexactFloat64(), role)
}

func (m *Metrics) recordFailure(ctx context.Context, err error) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", failureReason(err))))
}

func (m *Metrics) recordRegistrations(ctx context.Context, n int) {
	if m == nil || m.registrations == nil {
		return
	}
	m.registrations.Add(ctx, int64(n))
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, generic.ErrNothingToClaim):
		return "nothing_to_claim"
	case errors.Is(err, generic.ErrNotEnrolled):
		return "not_enrolled"
	case errors.Is(err, generic.ErrInvalidTime):
		return "invalid_time"
	case errors.Is(err, generic.ErrPayout):
		return "payout"
	case errors.Is(err, generic.ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, generic.ErrArithmetic):
		return "arithmetic"
	case errors.Is(err, generic.ErrConfiguration):
		return "configuration"
	default:
		return "internal"
	}
}
