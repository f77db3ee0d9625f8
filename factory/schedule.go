/*
Package factory provides JSON/YAML to Go schedule table conversion.

PURPOSE:
  Converts schedule table definitions into a vesting.ScheduleTable. Role
  allocations are configuration, not code: HR edits a file, the factory
  validates it and builds the immutable table the registry and engine use.

JSON SCHEMA:
  {
    "token_decimals": 18,
    "roles": [
      {
        "role": "executive",
        "allocation": "1000",
        "periods": 4,
        "period": "365d",
        "cliff_periods": 1,
        "aliases": ["CXO", "0xb7f41484"]
      }
    ]
  }

  YAML uses the same keys.

FIELDS:
  allocation:     whole tokens, scaled by 10^token_decimals into base units
  period:         Go duration ("8760h") or days ("365d")
  period_seconds: alternative to period (31536000 = one 365-day year)
  cliff_periods:  defaults to 1
  aliases:        extra names resolving to the role (case-insensitive)

USAGE:
  f := factory.NewScheduleFactory()
  table, err := f.ParseJSON(data)
  table, err := f.LoadFile("schedules.yaml")
  table := f.Default()   // executive 1000 / senior_manager 500 / other 250

SEE ALSO:
  - vesting/schedule.go: Schedule and ScheduleTable
  - config/config.go: Embeds a TableDefinition under "schedule"
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/equity-vesting/generic"
	"github.com/warp/equity-vesting/vesting"
)

// DefaultDecimals matches an 18-decimal ERC-20 token.
const DefaultDecimals int32 = 18

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// TableDefinition is the file representation of a schedule table.
type TableDefinition struct {
	TokenDecimals *int32             `json:"token_decimals,omitempty" yaml:"token_decimals,omitempty"`
	Roles         []ScheduleDefinition `json:"roles" yaml:"roles"`
}

// ScheduleDefinition is one role's vesting terms.
type ScheduleDefinition struct {
	Role          string   `json:"role" yaml:"role"`
	Allocation    string   `json:"allocation" yaml:"allocation"`
	Periods       int64    `json:"periods" yaml:"periods"`
	Period        string   `json:"period,omitempty" yaml:"period,omitempty"`
	PeriodSeconds int64    `json:"period_seconds,omitempty" yaml:"period_seconds,omitempty"`
	CliffPeriods  int64    `json:"cliff_periods,omitempty" yaml:"cliff_periods,omitempty"`
	Aliases       []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// =============================================================================
// SCHEDULE FACTORY
// =============================================================================

// ScheduleFactory converts definitions to schedule tables.
type ScheduleFactory struct {
	decimals int32
}

// NewScheduleFactory creates a factory scaling allocations by 18 decimals
// unless a definition says otherwise.
func NewScheduleFactory() *ScheduleFactory {
	return &ScheduleFactory{decimals: DefaultDecimals}
}

// WithDecimals returns a factory using decimals as the default scale.
func (f *ScheduleFactory) WithDecimals(decimals int32) *ScheduleFactory {
	return &ScheduleFactory{decimals: decimals}
}

// ParseJSON parses a JSON table definition.
func (f *ScheduleFactory) ParseJSON(data []byte) (*vesting.ScheduleTable, error) {
	var def TableDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse schedule JSON: %w", err)
	}
	return f.FromDefinition(def)
}

// ParseYAML parses a YAML table definition.
func (f *ScheduleFactory) ParseYAML(data []byte) (*vesting.ScheduleTable, error) {
	var def TableDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse schedule YAML: %w", err)
	}
	return f.FromDefinition(def)
}

// LoadFile reads a .json, .yaml or .yml definition.
func (f *ScheduleFactory) LoadFile(path string) (*vesting.ScheduleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return f.ParseJSON(data)
	case ".yaml", ".yml":
		return f.ParseYAML(data)
	default:
		return nil, &generic.ConfigurationError{Reason: "unsupported schedule file extension: " + path}
	}
}

// FromDefinition validates def and builds the table, aliases included.
func (f *ScheduleFactory) FromDefinition(def TableDefinition) (*vesting.ScheduleTable, error) {
	decimals := f.decimals
	if def.TokenDecimals != nil {
		decimals = *def.TokenDecimals
	}
	if decimals < 0 || decimals > 36 {
		return nil, &generic.ConfigurationError{Reason: fmt.Sprintf("token decimals out of range: %d", decimals)}
	}

	schedules := make(map[generic.Role]vesting.Schedule, len(def.Roles))
	aliases := make(map[string]generic.Role)
	for _, sd := range def.Roles {
		s, err := parseSchedule(sd, decimals)
		if err != nil {
			return nil, err
		}
		if _, dup := schedules[s.Role]; dup {
			return nil, &generic.ConfigurationError{Role: s.Role, Reason: "role defined twice"}
		}
		schedules[s.Role] = s
		for _, a := range sd.Aliases {
			aliases[a] = s.Role
		}
	}

	table, err := vesting.NewScheduleTable(schedules)
	if err != nil {
		return nil, err
	}
	if len(aliases) == 0 {
		return table, nil
	}
	return table.WithAliases(aliases)
}

// ToDefinition converts a table back into its file representation.
// Allocations are written in whole tokens at the factory's decimals.
func (f *ScheduleFactory) ToDefinition(table *vesting.ScheduleTable) TableDefinition {
	decimals := f.decimals
	def := TableDefinition{TokenDecimals: &decimals}
	for _, s := range table.Schedules() {
		def.Roles = append(def.Roles, ScheduleDefinition{
			Role:          string(s.Role),
			Allocation:    s.TotalAllocation.FormatUnits(decimals),
			Periods:       s.Periods,
			PeriodSeconds: int64(s.PeriodDuration / time.Second),
			CliffPeriods:  s.CliffPeriods,
		})
	}
	return def
}

// Default returns the stock table with the legacy role identifiers as aliases.
func (f *ScheduleFactory) Default() *vesting.ScheduleTable {
	table, err := vesting.DefaultScheduleTable(f.decimals).WithAliases(DefaultAliases())
	if err != nil {
		panic(err)
	}
	return table
}

// DefaultAliases maps the 4-byte role identifiers and upper-case names used by
// the on-chain deployment to the canonical roles.
func DefaultAliases() map[string]generic.Role {
	return map[string]generic.Role{
		"CXO":            vesting.RoleExecutive,
		"0xb7f41484":     vesting.RoleExecutive,
		"SENIOR_MANAGER": vesting.RoleSeniorManager,
		"0xd3d780ea":     vesting.RoleSeniorManager,
		"OTHER":          vesting.RoleOther,
		"0x35b65de3":     vesting.RoleOther,
	}
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseSchedule(sd ScheduleDefinition, decimals int32) (vesting.Schedule, error) {
	role := generic.Role(strings.TrimSpace(sd.Role))
	if role == "" {
		return vesting.Schedule{}, &generic.ConfigurationError{Reason: "schedule without role"}
	}
	allocation, err := generic.ParseUnits(sd.Allocation, decimals)
	if err != nil {
		return vesting.Schedule{}, &generic.ConfigurationError{Role: role, Reason: "allocation: " + err.Error()}
	}
	period, err := parsePeriod(sd)
	if err != nil {
		return vesting.Schedule{}, &generic.ConfigurationError{Role: role, Reason: err.Error()}
	}
	cliff := sd.CliffPeriods
	if cliff == 0 {
		cliff = 1
	}
	return vesting.Schedule{
		Role:            role,
		TotalAllocation: allocation,
		Periods:         sd.Periods,
		PeriodDuration:  period,
		CliffPeriods:    cliff,
	}, nil
}

func parsePeriod(sd ScheduleDefinition) (time.Duration, error) {
	switch {
	case sd.Period != "" && sd.PeriodSeconds != 0:
		return 0, fmt.Errorf("set period or period_seconds, not both")
	case sd.PeriodSeconds != 0:
		return time.Duration(sd.PeriodSeconds) * time.Second, nil
	case sd.Period == "":
		return generic.Year, nil
	}
	return ParseDuration(sd.Period)
}

// ParseDuration extends time.ParseDuration with a whole-day suffix ("365d").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.ParseInt(days, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid period %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid period %q: %w", s, err)
	}
	return d, nil
}
