package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/equity-vesting/vesting"
)

func TestListScenarios(t *testing.T) {
	s := newTestServer(t, openServer())

	rec := s.do(t, http.MethodGet, "/api/scenarios", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[[]ScenarioDTO](t, rec)
	require.Len(t, list, len(scenarios))
	for _, sc := range list {
		assert.NotEmpty(t, sc.ID)
		assert.Positive(t, sc.Employees)
	}
}

func TestLoadScenario_RegistersCohort(t *testing.T) {
	// GIVEN: An empty registry
	s := newTestServer(t, openServer())

	// WHEN: The admin loads the mixed team
	rec := s.do(t, http.MethodPost, "/api/admin/scenarios/load", s.bearer(t, adminID),
		LoadScenarioRequest{ScenarioID: "mixed-team"})

	// THEN: Six employees are enrolled with the scenario's roles
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	enrollments := decode[[]EnrollmentDTO](t, rec)
	require.Len(t, enrollments, 6)
	assert.Equal(t, string(vesting.RoleExecutive), enrollments[0].Role)
	assert.Equal(t, "0x0000000000000000000000000000000000002000", enrollments[0].Identity)

	// WHEN: Loading it again
	again := s.do(t, http.MethodPost, "/api/admin/scenarios/load", s.bearer(t, adminID),
		LoadScenarioRequest{ScenarioID: "mixed-team"})

	// THEN: Enrollments are permanent
	assert.Equal(t, http.StatusBadRequest, again.Code)
	assert.Equal(t, "already_registered", decode[ErrorResponse](t, again).Code)
}

func TestLoadScenario_Errors(t *testing.T) {
	s := newTestServer(t, openServer())

	unknown := s.do(t, http.MethodPost, "/api/admin/scenarios/load", s.bearer(t, adminID),
		LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusNotFound, unknown.Code)

	notAdmin := s.do(t, http.MethodPost, "/api/admin/scenarios/load", s.bearer(t, alice),
		LoadScenarioRequest{ScenarioID: "executive"})
	assert.Equal(t, http.StatusForbidden, notAdmin.Code)
}

func TestScenarioIdentities_NeverCollide(t *testing.T) {
	seen := map[string]string{}
	for _, sc := range scenarios {
		for _, id := range sc.identities() {
			prev, dup := seen[string(id)]
			require.False(t, dup, "%s used by %s and %s", id, prev, sc.ID)
			seen[string(id)] = sc.ID
			assert.Len(t, string(id), 42)
		}
	}
}
