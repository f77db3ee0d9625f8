package vesting_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/equity-vesting/custody"
	"github.com/warp/equity-vesting/generic"
	"github.com/warp/equity-vesting/generic/store"
	"github.com/warp/equity-vesting/vesting"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const admin generic.Identity = "0x00000000000000000000000000000000000000ad"

var t0 = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func tokens(n int64) generic.Amount {
	return generic.MustParseUnits(strconv.FormatInt(n, 10), 18)
}

func years(n int) time.Time { return t0.Add(time.Duration(n) * generic.Year) }

type adminGate struct{ admin generic.Identity }

func (g adminGate) IsAdmin(_ context.Context, caller generic.Identity) bool { return caller == g.admin }

type fixture struct {
	clock    *generic.FixedClock
	store    generic.TxStore
	token    *custody.Token
	reserve  *custody.Reserve
	registry *vesting.Registry
	engine   *vesting.Engine
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	store     generic.TxStore
	custodian vesting.Custodian
	funding   generic.Amount
	opts      []vesting.Option
}

func withStore(s generic.TxStore) fixtureOption {
	return func(c *fixtureConfig) { c.store = s }
}

func withCustodian(cu vesting.Custodian) fixtureOption {
	return func(c *fixtureConfig) { c.custodian = cu }
}

func withFunding(a generic.Amount) fixtureOption {
	return func(c *fixtureConfig) { c.funding = a }
}

func withOptions(opts ...vesting.Option) fixtureOption {
	return func(c *fixtureConfig) { c.opts = append(c.opts, opts...) }
}

// newFixture builds the default table, an in-memory store and a token whose
// vesting reserve is funded with 1200 tokens.
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{store: store.NewTxMemory(), funding: tokens(1200)}
	for _, o := range opts {
		o(&cfg)
	}

	f := &fixture{clock: generic.NewFixedClock(t0), store: cfg.store}
	f.token = custody.NewToken("EQT", 18)
	require.NoError(t, f.token.Mint(context.Background(), "vesting-reserve", cfg.funding))
	f.reserve = f.token.Reserve("vesting-reserve")

	custodian := cfg.custodian
	if custodian == nil {
		custodian = f.reserve
	}

	options := append([]vesting.Option{vesting.WithClock(f.clock)}, cfg.opts...)
	f.registry = vesting.NewRegistry(cfg.store, vesting.DefaultScheduleTable(18), adminGate{admin: admin}, options...)
	f.engine = vesting.NewEngine(f.registry, custodian, options...)
	return f
}

func (f *fixture) enroll(t *testing.T, id generic.Identity, role generic.Role) {
	t.Helper()
	_, err := f.registry.RegisterEmployees(context.Background(), admin, []generic.Identity{id}, []generic.Role{role})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, id generic.Identity) generic.Amount {
	t.Helper()
	b, err := f.token.BalanceOf(context.Background(), id)
	require.NoError(t, err)
	return b
}

// failingCustodian refuses every transfer.
type failingCustodian struct{ err error }

func (c failingCustodian) BalanceOf(context.Context, generic.Identity) (generic.Amount, error) {
	return generic.ZeroAmount(), nil
}

func (c failingCustodian) Transfer(context.Context, generic.Identity, generic.Amount) error {
	return c.err
}

// commitFailingStore runs fn, then fails the commit (rolling back).
type commitFailingStore struct {
	*store.TxMemory
	err error
}

func (s *commitFailingStore) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return s.TxMemory.WithTx(ctx, func(tx generic.Store) error {
		if err := fn(tx); err != nil {
			return err
		}
		return s.err
	})
}

var errCommit = errors.New("commit failed: disk full")
