/*
handlers.go - HTTP API handlers for the vesting engine

PURPOSE:
  Exposes registration, claim and query operations via REST. Handles HTTP
  request/response and JSON, and delegates to vesting.Registry and
  vesting.Engine.

ENDPOINTS:
  Public:
    GET  /health                          Liveness
    GET  /api/roles                       Schedule table
    GET  /api/employees                   List enrollments
    GET  /api/employees/{id}              Enrollment
    GET  /api/employees/{id}/claimable    Claim preview (?at=RFC3339)
    GET  /api/employees/{id}/position     Position (?at=RFC3339)
    GET  /api/employees/{id}/unlocks      Unlock timeline (?at=RFC3339, ?upcoming=true)
    GET  /api/employees/{id}/claims       Claim history
    GET  /api/scenarios                   Demo cohorts
    GET  /api/custody/balance/{id}        Token balance
    GET  /api/custody/reserve             Payout reserve balance

  Bearer token required:
    POST /api/claims                      Claim for the token's subject
    POST /api/admin/employees             Batch registration (admin)
    POST /api/admin/scenarios/load        Register a demo cohort (admin)
    GET  /api/admin/reconciliation        Last reconciliation sweep (admin)
    POST /api/admin/reconciliation/run    Run a sweep now (admin)

ERROR HANDLING:
  Domain errors map to HTTP status through statusFor:
  - 400: InvalidInput, InvalidTime, AlreadyRegistered
  - 401: Missing or invalid bearer token (auth.Middleware)
  - 403: Authorization
  - 404: NotEnrolled
  - 409: NothingToClaim, ConcurrentModification
  - 422: Configuration (unknown role)
  - 502: Payout
  - 500: Arithmetic and everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Reconciliation sweep
  - scenarios.go: Demo cohorts
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/equity-vesting/auth"
	"github.com/warp/equity-vesting/generic"
	"github.com/warp/equity-vesting/vesting"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Registry  *vesting.Registry
	Engine    *vesting.Engine
	Custody   vesting.Custodian
	Gate      vesting.AccessGate
	Scheduler *ReconciliationScheduler

	logger *slog.Logger
}

// NewHandler creates a handler. A nil logger means slog.Default().
func NewHandler(registry *vesting.Registry, engine *vesting.Engine, custody vesting.Custodian, gate vesting.AccessGate, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Registry: registry,
		Engine:   engine,
		Custody:  custody,
		Gate:     gate,
		logger:   logger.With("component", "api"),
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// ListRoles returns the schedule table.
// GET /api/roles
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	schedules := h.Registry.Schedules().Schedules()
	dtos := make([]RoleDTO, len(schedules))
	for i, s := range schedules {
		dtos[i] = toRoleDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ENROLLMENT HANDLERS
// =============================================================================

// RegisterEmployees enrolls a batch. The caller is the bearer token subject.
// POST /api/admin/employees
func (h *Handler) RegisterEmployees(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.CallerFromContext(r.Context())

	var req RegisterEmployeesRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	identities := make([]generic.Identity, len(req.Identities))
	for i, s := range req.Identities {
		identities[i] = generic.Identity(s)
	}
	roles := make([]generic.Role, len(req.Roles))
	for i, s := range req.Roles {
		roles[i] = generic.Role(s)
	}

	enrollments, err := h.Registry.RegisterEmployees(r.Context(), caller, identities, roles)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEnrollmentDTOs(enrollments))
}

// ListEmployees returns all enrollments.
// GET /api/employees
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	enrollments, err := h.Registry.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentDTOs(enrollments))
}

// GetEmployee returns one enrollment.
// GET /api/employees/{id}
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id := generic.Identity(chi.URLParam(r, "id"))
	enrollment, ok, err := h.Registry.Lookup(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if !ok {
		h.writeDomainError(w, r, &generic.NotEnrolledError{Identity: id})
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentDTO(enrollment))
}

// =============================================================================
// POSITION HANDLERS
// =============================================================================

// GetClaimable previews the claim at ?at= (default: now).
// GET /api/employees/{id}/claimable
func (h *Handler) GetClaimable(w http.ResponseWriter, r *http.Request) {
	at, ok := h.asOf(w, r)
	if !ok {
		return
	}
	id := generic.Identity(chi.URLParam(r, "id"))
	pos, err := h.Engine.Position(r.Context(), id, at)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimableDTO{Identity: string(pos.Identity), Claimable: pos.Claimable, AsOf: at})
}

// GetPosition returns the full position at ?at= (default: now).
// GET /api/employees/{id}/position
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	at, ok := h.asOf(w, r)
	if !ok {
		return
	}
	pos, err := h.Engine.Position(r.Context(), generic.Identity(chi.URLParam(r, "id")), at)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionDTO(pos))
}

// GetUnlocks returns the unlock timeline seen from ?at= (default: now).
// ?upcoming=true keeps only the steps not yet unlocked.
// GET /api/employees/{id}/unlocks
func (h *Handler) GetUnlocks(w http.ResponseWriter, r *http.Request) {
	at, ok := h.asOf(w, r)
	if !ok {
		return
	}
	proj, err := h.Engine.Projection(r.Context(), generic.Identity(chi.URLParam(r, "id")), at)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if r.URL.Query().Get("upcoming") == "true" {
		proj.Steps = proj.Upcoming()
	}
	writeJSON(w, http.StatusOK, toProjectionDTO(proj))
}

// GetClaims returns the claim history, oldest first.
// GET /api/employees/{id}/claims
func (h *Handler) GetClaims(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Engine.History(r.Context(), generic.Identity(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]ClaimDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toClaimDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CLAIM HANDLERS
// =============================================================================

// Claim pays out everything currently claimable to the authenticated caller.
// POST /api/claims
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing caller identity", nil)
		return
	}

	receipt, err := h.Engine.Claim(r.Context(), caller)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimReceiptDTO{
		Transaction: toClaimDTO(receipt.Transaction),
		Paid:        receipt.Paid,
		Remaining:   receipt.Remaining,
	})
}

// GetBalance returns the custody balance of an identity.
// GET /api/custody/balance/{id}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, err := generic.NewIdentity(chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	balance, err := h.Custody.BalanceOf(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{Identity: string(id), Balance: balance})
}

// reserveAccount is a custodian paying out of one funded account.
type reserveAccount interface {
	Holder() generic.Identity
	Available(ctx context.Context) (generic.Amount, error)
}

// GetReserve returns the payout reserve's remaining balance.
// GET /api/custody/reserve
func (h *Handler) GetReserve(w http.ResponseWriter, r *http.Request) {
	reserve, ok := h.Custody.(reserveAccount)
	if !ok {
		writeError(w, http.StatusNotFound, "no_reserve", "custodian does not pay from a reserve account", nil)
		return
	}
	available, err := reserve.Available(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{Identity: string(reserve.Holder()), Balance: available})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// requireAdmin wraps admin-only handlers behind the access gate.
func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := auth.CallerFromContext(r.Context())
		if h.Gate == nil || !h.Gate.IsAdmin(r.Context(), caller) {
			h.writeDomainError(w, r, &generic.AuthorizationError{Caller: caller, Operation: r.URL.Path})
			return
		}
		next(w, r)
	}
}

// GetReconciliation returns the last sweep report.
// GET /api/admin/reconciliation
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusNotFound, "not_configured", "reconciliation scheduler is not running", nil)
		return
	}
	report, ok := h.Scheduler.LastReport()
	if !ok {
		writeError(w, http.StatusNotFound, "no_report", "no reconciliation has run yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RunReconciliation runs a sweep synchronously and returns its report.
// POST /api/admin/reconciliation/run
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusNotFound, "not_configured", "reconciliation scheduler is not running", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.RunNow(r.Context()))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) asOf(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("at")
	if raw == "" {
		return h.Engine.Now(), true
	}
	at, err := generic.ParseTime(raw)
	if err != nil {
		h.writeDomainError(w, r, err)
		return time.Time{}, false
	}
	return at, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body", err)
		return false
	}
	return true
}

// statusFor maps a domain error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, generic.ErrUnauthorized):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, generic.ErrPayout):
		return http.StatusBadGateway, "payout_failed"
	case errors.Is(err, generic.ErrInvalidTime):
		return http.StatusBadRequest, "invalid_time"
	case errors.Is(err, generic.ErrAlreadyRegistered):
		return http.StatusBadRequest, "already_registered"
	case errors.Is(err, generic.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, generic.ErrNotEnrolled):
		return http.StatusNotFound, "not_enrolled"
	case errors.Is(err, generic.ErrNothingToClaim):
		return http.StatusConflict, "nothing_to_claim"
	case errors.Is(err, generic.ErrConcurrentModification):
		return http.StatusConflict, "conflict"
	case errors.Is(err, generic.ErrConfiguration):
		return http.StatusUnprocessableEntity, "configuration"
	case errors.Is(err, generic.ErrArithmetic):
		return http.StatusInternalServerError, "arithmetic"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", code, "error", err)
		// Internal details stay in the log.
		if status == http.StatusInternalServerError {
			writeError(w, status, code, "internal error", nil)
			return
		}
	}
	writeError(w, status, code, http.StatusText(status), err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
