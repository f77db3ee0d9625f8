/*
scenarios.go - Demo cohorts for testing and demonstrations

PURPOSE:
  Registers pre-built groups of employees so a fresh server has something
  to claim against. Each scenario is one RegisterEmployees batch submitted
  as the authenticated admin, so it goes through the same validation,
  audit logging and all-or-nothing write as any other registration.

AVAILABLE SCENARIOS:
  executive:    One executive
  mixed-team:   One executive, two senior managers, three others
  large-cohort: Fifty employees spread across every role

IDENTITIES:
  Scenario identities are synthetic 0x addresses derived from a per-scenario
  base, so two scenarios never collide. Loading the same scenario twice fails
  with already_registered: enrollments are permanent.

USAGE VIA API:
  GET  /api/scenarios
  POST /api/admin/scenarios/load
  {"scenario_id": "mixed-team"}

SEE ALSO:
  - handlers.go: RegisterEmployees
*/
package api

import (
	"fmt"
	"net/http"

	"github.com/warp/equity-vesting/auth"
	"github.com/warp/equity-vesting/generic"
	"github.com/warp/equity-vesting/vesting"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	base  uint64
	roles []generic.Role
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "executive",
			Name:        "Executive",
			Description: "One executive on the 1000 token, four year schedule",
		},
		base:  0x1000,
		roles: []generic.Role{vesting.RoleExecutive},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "mixed-team",
			Name:        "Mixed Team",
			Description: "One executive, two senior managers and three others",
		},
		base: 0x2000,
		roles: []generic.Role{
			vesting.RoleExecutive,
			vesting.RoleSeniorManager, vesting.RoleSeniorManager,
			vesting.RoleOther, vesting.RoleOther, vesting.RoleOther,
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "large-cohort",
			Name:        "Large Cohort",
			Description: "Fifty employees cycling through every role",
		},
		base:  0x3000,
		roles: cycleRoles(50, vesting.RoleExecutive, vesting.RoleSeniorManager, vesting.RoleOther),
	},
}

func cycleRoles(n int, roles ...generic.Role) []generic.Role {
	out := make([]generic.Role, n)
	for i := range out {
		out[i] = roles[i%len(roles)]
	}
	return out
}

func (s scenario) identities() []generic.Identity {
	ids := make([]generic.Identity, len(s.roles))
	for i := range ids {
		ids[i] = generic.Identity(fmt.Sprintf("0x%040x", s.base+uint64(i)))
	}
	return ids
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns the available demo cohorts.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
		dtos[i].Employees = len(s.roles)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario registers a demo cohort as the calling admin.
// POST /api/admin/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.CallerFromContext(r.Context())

	var req LoadScenarioRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_scenario", fmt.Sprintf("unknown scenario: %s", req.ScenarioID), nil)
		return
	}

	enrollments, err := h.Registry.RegisterEmployees(r.Context(), caller, s.identities(), s.roles)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "scenario loaded", "scenario", s.ID, "employees", len(enrollments))
	writeJSON(w, http.StatusCreated, toEnrollmentDTOs(enrollments))
}
