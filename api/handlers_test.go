/*
handlers_test.go - HTTP tests for the vesting API

Tests for:
- Registration (admin gate, validation errors, duplicate enrollment)
- Claim flow end to end (preview, payout, balance, history)
- Error mapping (statusFor)
- Reconciliation endpoints and rate limiting
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/equity-vesting/auth"
	"github.com/warp/equity-vesting/config"
	"github.com/warp/equity-vesting/custody"
	"github.com/warp/equity-vesting/generic"
	"github.com/warp/equity-vesting/generic/store"
	"github.com/warp/equity-vesting/vesting"
)

const (
	adminID = "0x00000000000000000000000000000000000000ad"
	alice   = "0x00000000000000000000000000000000000000a1"
	bob     = "0x00000000000000000000000000000000000000b0"
)

var (
	t0     = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	secret = []byte("0123456789abcdef0123456789abcdef")
)

type testServer struct {
	clock  *generic.FixedClock
	token  *custody.Token
	authn  *auth.JWTAuthenticator
	router http.Handler
}

func newTestServer(t *testing.T, serverCfg config.ServerConfig) *testServer {
	t.Helper()
	ctx := context.Background()

	clock := generic.NewFixedClock(t0)
	token := custody.NewToken("EQT", 18)
	require.NoError(t, token.Mint(ctx, "vesting-reserve", generic.MustParseUnits("10000", 18)))

	gate, err := auth.NewAdminIdentity(adminID)
	require.NoError(t, err)
	authn, err := auth.NewJWTAuthenticator(secret, "equity-vesting")
	require.NoError(t, err)

	registry := vesting.NewRegistry(store.NewTxMemory(), vesting.DefaultScheduleTable(18), gate, vesting.WithClock(clock))
	reserve := token.Reserve("vesting-reserve")
	engine := vesting.NewEngine(registry, reserve, vesting.WithClock(clock))

	h := NewHandler(registry, engine, reserve, gate, nil)
	h.Scheduler = NewReconciliationScheduler(registry, engine, nil)

	return &testServer{
		clock:  clock,
		token:  token,
		authn:  authn,
		router: NewRouter(h, serverCfg, authn),
	}
}

func openServer() config.ServerConfig {
	return config.ServerConfig{CORSOrigins: []string{"*"}}
}

func (s *testServer) bearer(t *testing.T, subject string) string {
	t.Helper()
	tok, err := s.authn.Issue(generic.Identity(subject), time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (s *testServer) do(t *testing.T, method, path, authz string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) register(t *testing.T, ids, roles []string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/api/admin/employees", s.bearer(t, adminID),
		RegisterEmployeesRequest{Identities: ids, Roles: roles})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func units(tokens string) string {
	return generic.MustParseUnits(tokens, 18).String()
}

// =============================================================================
// SCHEDULES AND HEALTH
// =============================================================================

func TestHealth(t *testing.T) {
	s := newTestServer(t, openServer())
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListRoles(t *testing.T) {
	s := newTestServer(t, openServer())

	rec := s.do(t, http.MethodGet, "/api/roles", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	roles := decode[[]RoleDTO](t, rec)
	require.Len(t, roles, 3)
	byRole := map[string]RoleDTO{}
	for _, r := range roles {
		byRole[r.Role] = r
	}
	exec := byRole[string(vesting.RoleExecutive)]
	assert.Equal(t, units("1000"), exec.TotalAllocation.String())
	assert.Equal(t, units("250"), exec.Tranche.String())
	assert.Equal(t, int64(4), exec.Periods)
	assert.Equal(t, int64(1), exec.CliffPeriods)
}

// =============================================================================
// REGISTRATION
// =============================================================================

func TestRegisterEmployees_Success(t *testing.T) {
	// GIVEN: An admin token
	s := newTestServer(t, openServer())

	// WHEN: Registering two employees
	rec := s.register(t, []string{alice, bob}, []string{string(vesting.RoleExecutive), string(vesting.RoleOther)})

	// THEN: Both are enrolled at the clock's time with nothing claimed
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	enrollments := decode[[]EnrollmentDTO](t, rec)
	require.Len(t, enrollments, 2)
	assert.Equal(t, alice, enrollments[0].Identity)
	assert.True(t, enrollments[0].EnrolledAt.Equal(t0))
	assert.Equal(t, "0", enrollments[0].ClaimedAmount.String())

	list := s.do(t, http.MethodGet, "/api/employees", "", nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Len(t, decode[[]EnrollmentDTO](t, list), 2)

	one := s.do(t, http.MethodGet, "/api/employees/"+bob, "", nil)
	require.Equal(t, http.StatusOK, one.Code)
	assert.Equal(t, string(vesting.RoleOther), decode[EnrollmentDTO](t, one).Role)
}

func TestRegisterEmployees_Errors(t *testing.T) {
	s := newTestServer(t, openServer())
	require.Equal(t, http.StatusCreated, s.register(t, []string{alice}, []string{string(vesting.RoleOther)}).Code)

	tests := []struct {
		name   string
		authz  string
		body   any
		status int
		code   string
	}{
		{
			name:   "no token",
			body:   RegisterEmployeesRequest{Identities: []string{bob}, Roles: []string{string(vesting.RoleOther)}},
			status: http.StatusUnauthorized, code: "unauthorized",
		},
		{
			name:   "not admin",
			authz:  s.bearer(t, bob),
			body:   RegisterEmployeesRequest{Identities: []string{bob}, Roles: []string{string(vesting.RoleOther)}},
			status: http.StatusForbidden, code: "forbidden",
		},
		{
			name:   "unknown role",
			authz:  s.bearer(t, adminID),
			body:   RegisterEmployeesRequest{Identities: []string{bob}, Roles: []string{"INTERN"}},
			status: http.StatusUnprocessableEntity, code: "configuration",
		},
		{
			name:   "length mismatch",
			authz:  s.bearer(t, adminID),
			body:   RegisterEmployeesRequest{Identities: []string{bob}, Roles: nil},
			status: http.StatusBadRequest, code: "invalid_input",
		},
		{
			name:   "empty batch",
			authz:  s.bearer(t, adminID),
			body:   RegisterEmployeesRequest{},
			status: http.StatusBadRequest, code: "invalid_input",
		},
		{
			name:   "already registered",
			authz:  s.bearer(t, adminID),
			body:   RegisterEmployeesRequest{Identities: []string{bob, alice}, Roles: []string{string(vesting.RoleOther), string(vesting.RoleOther)}},
			status: http.StatusBadRequest, code: "already_registered",
		},
		{
			name:   "bad json",
			authz:  s.bearer(t, adminID),
			body:   "not an object",
			status: http.StatusBadRequest, code: "invalid_json",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/admin/employees", tt.authz, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}

	// THEN: No failed batch left a partial enrollment behind
	list := s.do(t, http.MethodGet, "/api/employees", "", nil)
	assert.Len(t, decode[[]EnrollmentDTO](t, list), 1)
}

func TestGetEmployee_NotEnrolled(t *testing.T) {
	s := newTestServer(t, openServer())
	rec := s.do(t, http.MethodGet, "/api/employees/"+alice, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_enrolled", decode[ErrorResponse](t, rec).Code)
}

// =============================================================================
// CLAIMS
// =============================================================================

func TestClaim_EndToEnd(t *testing.T) {
	// GIVEN: An executive enrolled at t0
	s := newTestServer(t, openServer())
	require.Equal(t, http.StatusCreated, s.register(t, []string{alice}, []string{string(vesting.RoleExecutive)}).Code)

	// WHEN: Nothing has vested yet
	rec := s.do(t, http.MethodPost, "/api/claims", s.bearer(t, alice), nil)

	// THEN: The claim is rejected and nothing moves
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "nothing_to_claim", decode[ErrorResponse](t, rec).Code)

	// WHEN: One period has elapsed
	s.clock.Set(t0.Add(generic.Year + time.Hour))

	preview := s.do(t, http.MethodGet, "/api/employees/"+alice+"/claimable", "", nil)
	require.Equal(t, http.StatusOK, preview.Code)
	assert.Equal(t, units("250"), decode[ClaimableDTO](t, preview).Claimable.String())

	rec = s.do(t, http.MethodPost, "/api/claims", s.bearer(t, alice), nil)

	// THEN: The first tranche is paid out
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	receipt := decode[ClaimReceiptDTO](t, rec)
	assert.Equal(t, units("250"), receipt.Paid.String())
	assert.Equal(t, units("750"), receipt.Remaining.String())
	assert.Equal(t, "0", receipt.Transaction.ClaimedBefore.String())
	assert.Equal(t, units("250"), receipt.Transaction.ClaimedAfter.String())

	balance := s.do(t, http.MethodGet, "/api/custody/balance/"+alice, "", nil)
	require.Equal(t, http.StatusOK, balance.Code)
	assert.Equal(t, units("250"), decode[BalanceDTO](t, balance).Balance.String())

	pos := s.do(t, http.MethodGet, "/api/employees/"+alice+"/position", "", nil)
	require.Equal(t, http.StatusOK, pos.Code)
	position := decode[PositionDTO](t, pos)
	assert.Equal(t, "0", position.Claimable.String())
	assert.Equal(t, units("250"), position.Claimed.String())
	assert.False(t, position.FullyVested)
	assert.False(t, position.Exhausted)
	require.NotNil(t, position.NextUnlock)
	assert.True(t, position.NextUnlock.Equal(t0.Add(2*generic.Year)))

	// WHEN: Claiming again in the same period
	again := s.do(t, http.MethodPost, "/api/claims", s.bearer(t, alice), nil)

	// THEN: Nothing more is paid
	assert.Equal(t, http.StatusConflict, again.Code)

	history := s.do(t, http.MethodGet, "/api/employees/"+alice+"/claims", "", nil)
	require.Equal(t, http.StatusOK, history.Code)
	assert.Len(t, decode[[]ClaimDTO](t, history), 1)
}

func TestClaim_Errors(t *testing.T) {
	s := newTestServer(t, openServer())
	require.Equal(t, http.StatusCreated, s.register(t, []string{alice}, []string{string(vesting.RoleOther)}).Code)

	t.Run("no token", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/claims", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("not enrolled", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/claims", s.bearer(t, bob), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("invalid at", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/employees/"+alice+"/claimable?at=yesterday", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_input", decode[ErrorResponse](t, rec).Code)
	})
	t.Run("at before enrollment", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/employees/"+alice+"/claimable?at=2024-06-01", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_time", decode[ErrorResponse](t, rec).Code)
	})
	t.Run("at after horizon", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/employees/"+alice+"/claimable?at=2035-01-01T00:00:00Z", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, units("250"), decode[ClaimableDTO](t, rec).Claimable.String())
	})
}

// =============================================================================
// ADMIN AND MIDDLEWARE
// =============================================================================

func TestReconciliation(t *testing.T) {
	s := newTestServer(t, openServer())
	require.Equal(t, http.StatusCreated, s.register(t, []string{alice, bob}, []string{string(vesting.RoleOther), string(vesting.RoleOther)}).Code)

	// GIVEN: No sweep has run
	rec := s.do(t, http.MethodGet, "/api/admin/reconciliation", s.bearer(t, adminID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// WHEN: A non-admin asks for a sweep
	rec = s.do(t, http.MethodPost, "/api/admin/reconciliation/run", s.bearer(t, alice), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// WHEN: The admin runs one
	rec = s.do(t, http.MethodPost, "/api/admin/reconciliation/run", s.bearer(t, adminID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[ReconciliationReport](t, rec)

	// THEN: Every ledger reconciles and the report is retained
	assert.Equal(t, 2, report.Checked)
	assert.True(t, report.OK())

	rec = s.do(t, http.MethodGet, "/api/admin/reconciliation", s.bearer(t, adminID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[ReconciliationReport](t, rec).Checked)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{
		CORSOrigins: []string{"*"},
		RateLimit:   config.RateLimitConfig{RPS: 0.001, Burst: 1},
	})

	first := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, first.Code)

	second := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decode[ErrorResponse](t, second).Code)
}

func TestRateLimiter_SweepsStaleVisitors(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := t0
	rl.now = func() time.Time { return now }

	rl.getVisitor("10.0.0.1")
	rl.getVisitor("10.0.0.2")
	require.Len(t, rl.visitors, 2)

	now = now.Add(visitorTTL + time.Second)
	rl.getVisitor("10.0.0.3")

	assert.Len(t, rl.visitors, 1)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&generic.AuthorizationError{Caller: bob}, http.StatusForbidden, "forbidden"},
		{&generic.PayoutError{Identity: alice, Err: errors.New("boom")}, http.StatusBadGateway, "payout_failed"},
		{&generic.InvalidTimeError{EnrolledAt: t0, Now: t0.Add(-time.Hour)}, http.StatusBadRequest, "invalid_time"},
		{&generic.InvalidInputError{Field: "x", Err: generic.ErrAlreadyRegistered}, http.StatusBadRequest, "already_registered"},
		{&generic.InvalidInputError{Field: "x"}, http.StatusBadRequest, "invalid_input"},
		{&generic.NotEnrolledError{Identity: alice}, http.StatusNotFound, "not_enrolled"},
		{generic.ErrNothingToClaim, http.StatusConflict, "nothing_to_claim"},
		{generic.ErrConcurrentModification, http.StatusConflict, "conflict"},
		{&generic.ConfigurationError{Role: "INTERN"}, http.StatusUnprocessableEntity, "configuration"},
		{generic.ErrArithmetic, http.StatusInternalServerError, "arithmetic"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := statusFor(tt.err)
			assert.Equal(t, tt.status, status, tt.err.Error())
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestInternalErrorsHideDetails(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/employees", nil)

	h.writeDomainError(rec, req, errors.New("connection refused to 10.0.0.5"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, strings.Contains(rec.Body.String(), "10.0.0.5"))
}

func TestGetUnlocks(t *testing.T) {
	// GIVEN: An executive enrolled at t0, eighteen months in
	s := newTestServer(t, openServer())
	require.Equal(t, http.StatusCreated, s.register(t, []string{alice}, []string{string(vesting.RoleExecutive)}).Code)
	s.clock.Set(t0.Add(3 * generic.Year / 2))

	// WHEN: Fetching the timeline
	rec := s.do(t, http.MethodGet, "/api/employees/"+alice+"/unlocks", "", nil)

	// THEN: Four yearly steps, the first one unlocked
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	proj := decode[ProjectionDTO](t, rec)
	require.Len(t, proj.Steps, 4)
	assert.True(t, proj.Steps[0].Unlocked)
	assert.False(t, proj.Steps[1].Unlocked)
	assert.Equal(t, units("1000"), proj.Steps[3].Cumulative.String())
	assert.Equal(t, units("500"), proj.Steps[1].ClaimableAfter.String())

	// WHEN: Asking for the upcoming steps only
	rec = s.do(t, http.MethodGet, "/api/employees/"+alice+"/unlocks?upcoming=true", "", nil)

	// THEN: The three locked tranches, starting at year two
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	upcoming := decode[ProjectionDTO](t, rec)
	require.Len(t, upcoming.Steps, 3)
	assert.True(t, upcoming.Steps[0].At.Equal(t0.Add(2*generic.Year)))
	for _, step := range upcoming.Steps {
		assert.False(t, step.Unlocked)
	}
}

func TestGetPosition_ExhaustedAfterFinalClaim(t *testing.T) {
	// GIVEN: An executive who claimed everything after four years
	s := newTestServer(t, openServer())
	require.Equal(t, http.StatusCreated, s.register(t, []string{alice}, []string{string(vesting.RoleExecutive)}).Code)
	s.clock.Set(t0.Add(4 * generic.Year))
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/claims", s.bearer(t, alice), nil).Code)

	// WHEN: Fetching the position
	rec := s.do(t, http.MethodGet, "/api/employees/"+alice+"/position", "", nil)

	// THEN: Fully vested and exhausted, no further unlock
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pos := decode[PositionDTO](t, rec)
	assert.True(t, pos.FullyVested)
	assert.True(t, pos.Exhausted)
	assert.Nil(t, pos.NextUnlock)
}

func TestGetReserve(t *testing.T) {
	// GIVEN: A reserve funded with 10000 tokens and one executive claim of 250
	s := newTestServer(t, openServer())
	require.Equal(t, http.StatusCreated, s.register(t, []string{alice}, []string{string(vesting.RoleExecutive)}).Code)
	s.clock.Set(t0.Add(generic.Year))
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/claims", s.bearer(t, alice), nil).Code)

	// WHEN: Fetching the reserve
	rec := s.do(t, http.MethodGet, "/api/custody/reserve", "", nil)

	// THEN: The reserve account and what is left in it
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reserve := decode[BalanceDTO](t, rec)
	assert.Equal(t, "vesting-reserve", reserve.Identity)
	assert.Equal(t, units("9750"), reserve.Balance.String())
}
