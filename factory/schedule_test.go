package factory_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/equity-vesting/factory"
	"github.com/warp/equity-vesting/generic"
	"github.com/warp/equity-vesting/vesting"
)

const tableJSON = `{
  "token_decimals": 18,
  "roles": [
    {"role": "executive", "allocation": "1000", "periods": 4, "period": "365d", "aliases": ["CXO", "0xb7f41484"]},
    {"role": "senior_manager", "allocation": "500", "periods": 4, "period_seconds": 31536000},
    {"role": "other", "allocation": "250", "periods": 4, "period": "8760h", "cliff_periods": 2}
  ]
}`

const tableYAML = `
token_decimals: 6
roles:
  - role: advisor
    allocation: "120"
    periods: 12
    period: 720h
  - role: founder
    allocation: "10000"
    periods: 4
    aliases: [CEO]
`

func TestParseJSON(t *testing.T) {
	// GIVEN: The default allocations written as JSON
	// WHEN: Parsing
	// THEN: Allocations are scaled, durations parsed, cliff defaults to 1

	table, err := factory.NewScheduleFactory().ParseJSON([]byte(tableJSON))
	require.NoError(t, err)

	exec, err := table.Lookup("CXO")
	require.NoError(t, err)
	assert.Equal(t, vesting.RoleExecutive, exec.Role)
	assert.True(t, exec.TotalAllocation.Equal(generic.MustParseUnits("1000", 18)))
	assert.Equal(t, generic.Year, exec.PeriodDuration)
	assert.Equal(t, int64(1), exec.CliffPeriods)

	senior, err := table.Lookup(vesting.RoleSeniorManager)
	require.NoError(t, err)
	assert.Equal(t, generic.Year, senior.PeriodDuration)

	other, err := table.Lookup(vesting.RoleOther)
	require.NoError(t, err)
	assert.Equal(t, int64(2), other.CliffPeriods)
	assert.Equal(t, generic.Year, other.PeriodDuration)
}

func TestParseYAML(t *testing.T) {
	table, err := factory.NewScheduleFactory().ParseYAML([]byte(tableYAML))
	require.NoError(t, err)

	advisor, err := table.Lookup("advisor")
	require.NoError(t, err)
	assert.Equal(t, "120000000", advisor.TotalAllocation.String())
	assert.Equal(t, 720*time.Hour, advisor.PeriodDuration)

	founder, err := table.Lookup("ceo")
	require.NoError(t, err)
	assert.Equal(t, generic.Role("founder"), founder.Role)
	assert.Equal(t, generic.Year, founder.PeriodDuration)
}

func TestFromDefinition_Invalid(t *testing.T) {
	tests := []struct {
		name string
		def  factory.TableDefinition
	}{
		{"no roles", factory.TableDefinition{}},
		{"missing role name", factory.TableDefinition{Roles: []factory.ScheduleDefinition{{Allocation: "1", Periods: 1}}}},
		{"bad allocation", factory.TableDefinition{Roles: []factory.ScheduleDefinition{{Role: "r", Allocation: "lots", Periods: 1}}}},
		{"bad period", factory.TableDefinition{Roles: []factory.ScheduleDefinition{{Role: "r", Allocation: "1", Periods: 1, Period: "soon"}}}},
		{"both periods", factory.TableDefinition{Roles: []factory.ScheduleDefinition{{Role: "r", Allocation: "1", Periods: 1, Period: "1h", PeriodSeconds: 60}}}},
		{"zero periods", factory.TableDefinition{Roles: []factory.ScheduleDefinition{{Role: "r", Allocation: "1", Periods: 0}}}},
		{"duplicate role", factory.TableDefinition{Roles: []factory.ScheduleDefinition{
			{Role: "r", Allocation: "1", Periods: 1}, {Role: "r", Allocation: "2", Periods: 1},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.NewScheduleFactory().FromDefinition(tt.def)
			assert.ErrorIs(t, err, generic.ErrConfiguration)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "schedules.json")
	yamlPath := filepath.Join(dir, "schedules.yml")
	require.NoError(t, os.WriteFile(jsonPath, []byte(tableJSON), 0o600))
	require.NoError(t, os.WriteFile(yamlPath, []byte(tableYAML), 0o600))

	f := factory.NewScheduleFactory()
	table, err := f.LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Len(t, table.Roles(), 3)

	table, err = f.LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Len(t, table.Roles(), 2)

	_, err = f.LoadFile(filepath.Join(dir, "schedules.toml"))
	assert.Error(t, err)
}

func TestDefault_ResolvesLegacyRoleIdentifiers(t *testing.T) {
	table := factory.NewScheduleFactory().Default()
	for alias, want := range factory.DefaultAliases() {
		got, err := table.Resolve(alias)
		require.NoError(t, err)
		assert.Equal(t, want, got, alias)
	}
}

func TestToDefinition_RoundTrip(t *testing.T) {
	f := factory.NewScheduleFactory()
	def := f.ToDefinition(f.Default())
	require.Len(t, def.Roles, 3)
	assert.Equal(t, "executive", def.Roles[0].Role)
	assert.Equal(t, "1000", def.Roles[0].Allocation)
	assert.Equal(t, int64(31536000), def.Roles[0].PeriodSeconds)

	table, err := f.FromDefinition(def)
	require.NoError(t, err)
	s, err := table.Lookup(vesting.RoleOther)
	require.NoError(t, err)
	assert.True(t, s.TotalAllocation.Equal(generic.MustParseUnits("250", 18)))
}

func TestParseDuration(t *testing.T) {
	d, err := factory.ParseDuration("365d")
	require.NoError(t, err)
	assert.Equal(t, generic.Year, d)

	d, err = factory.ParseDuration("90m")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	_, err = factory.ParseDuration("xd")
	assert.Error(t, err)
}
