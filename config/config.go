/*
Package config loads the service configuration from YAML.

PURPOSE:
  One file describes the whole deployment: HTTP listener, storage backend,
  custody backend, admin identity, the role schedule table and log level.
  Load parses it and validateAndNormalize fills defaults and rejects
  anything the server could not start with.

EXAMPLE:
  server:
    listen_addr: ":8080"
    rate_limit: {rps: 20, burst: 40}
    cors_origins: ["http://localhost:3000"]
  storage:
    driver: postgres            # memory | sqlite | postgres
    postgres:
      host: localhost
      port: 5432
      user: vesting
      password: secret
      name: vesting
      conn_max_lifetime: 30m
      auto_migrate: true
  custody:
    driver: redis               # memory | redis
    redis: {addr: "localhost:6379"}
    token_symbol: EQT
    token_decimals: 18
    reserve_identity: vesting-reserve
    initial_reserve: "1200"
  auth:
    admin_identity: "0x00000000000000000000000000000000000000ad"
    jwt_secret: "change-me-change-me-change-me-32b"
    issuer: equity-vesting
  schedule:                     # see factory.TableDefinition
    roles:
      - {role: executive, allocation: "1000", periods: 4, period: 365d}
  # schedule_file: ./schedules.yaml   (instead of schedule)
  log:
    level: info
    format: json

ENVIRONMENT:
  ADMIN, JWT_SECRET and MINT_AMOUNT override auth.admin_identity,
  auth.jwt_secret and custody.initial_reserve.

SEE ALSO:
  - cmd/server/main.go: Wires the config into stores, custody and the API
  - factory/schedule.go: Schedule section format
*/
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/equity-vesting/factory"
	"github.com/warp/equity-vesting/generic"
	"github.com/warp/equity-vesting/vesting"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig             `yaml:"server"`
	Storage  StorageConfig            `yaml:"storage"`
	Custody  CustodyConfig            `yaml:"custody"`
	Auth     AuthConfig               `yaml:"auth"`
	Schedule *factory.TableDefinition `yaml:"schedule"`
	Log      LogConfig                `yaml:"log"`

	// ScheduleFile is a .json or .yaml table definition, used in place of
	// an inline schedule section.
	ScheduleFile string `yaml:"schedule_file"`

	table *vesting.ScheduleTable
}

type ServerConfig struct {
	ListenAddr  string          `yaml:"listen_addr"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	CORSOrigins []string        `yaml:"cors_origins"`
}

// RateLimitConfig is a per-client-IP token bucket.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type StorageConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres DatabaseConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	User               string        `yaml:"user"`
	Password           string        `yaml:"password"`
	Name               string        `yaml:"name"`
	SSLMode            string        `yaml:"ssl_mode"`
	MaxOpenConns       int           `yaml:"max_open_conns"`
	MaxIdleConns       int           `yaml:"max_idle_conns"`
	ConnMaxLifetime    time.Duration `yaml:"-"`
	ConnMaxIdleTime    time.Duration `yaml:"-"`
	ConnMaxLifetimeRaw string        `yaml:"conn_max_lifetime"`
	ConnMaxIdleTimeRaw string        `yaml:"conn_max_idle_time"`
	AutoMigrate        bool          `yaml:"auto_migrate"`
}

type CustodyConfig struct {
	Driver          string      `yaml:"driver"`
	Redis           RedisConfig `yaml:"redis"`
	TokenSymbol     string      `yaml:"token_symbol"`
	ReserveIdentity string      `yaml:"reserve_identity"`
	InitialReserve  string      `yaml:"initial_reserve"`

	// TokenDecimalsRaw is nil when unset; 0 is a valid setting.
	TokenDecimalsRaw *int32 `yaml:"token_decimals"`
	TokenDecimals    int32  `yaml:"-"`

	// InitialReserveAmount is InitialReserve in base units.
	InitialReserveAmount generic.Amount `yaml:"-"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type AuthConfig struct {
	AdminIdentity string `yaml:"admin_identity"`
	JWTSecret     string `yaml:"jwt_secret"`
	Issuer        string `yaml:"issuer"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MinSecretLength is the shortest accepted HS256 secret.
const MinSecretLength = 32

// Load reads the configuration file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes YAML, applies environment overrides and validates.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.validateAndNormalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default is the in-memory development configuration. Admin identity and
// JWT secret still have to come from the environment.
func Default() (*Config, error) {
	return Parse([]byte("{}"))
}

// ScheduleTable returns the validated schedule table.
func (c *Config) ScheduleTable() *vesting.ScheduleTable {
	return c.table
}

// ScheduleDefinition renders the effective table in the schedule section
// format, allocations in whole tokens. Aliases are not included.
func (c *Config) ScheduleDefinition() factory.TableDefinition {
	return c.scheduleFactory().ToDefinition(c.table)
}

func (c *Config) scheduleFactory() *factory.ScheduleFactory {
	return factory.NewScheduleFactory().WithDecimals(c.Custody.TokenDecimals)
}

// SlogLevel returns the configured log level.
func (c LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("ADMIN"); v != "" {
		c.Auth.AdminIdentity = v
	}
	if v := getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := getenv("MINT_AMOUNT"); v != "" {
		c.Custody.InitialReserve = v
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func (c *Config) validateAndNormalize() error {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("config: server.rate_limit must not be negative")
	}
	if c.Server.RateLimit.RPS == 0 {
		c.Server.RateLimit.RPS = 20
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = 40
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}

	if err := c.Storage.validateAndNormalize(); err != nil {
		return err
	}
	if err := c.Custody.validateAndNormalize(); err != nil {
		return err
	}
	if err := c.Auth.validateAndNormalize(); err != nil {
		return err
	}

	f := c.scheduleFactory()
	switch {
	case c.Schedule != nil && c.ScheduleFile != "":
		return fmt.Errorf("config: schedule and schedule_file are mutually exclusive")
	case c.ScheduleFile != "":
		table, err := f.LoadFile(c.ScheduleFile)
		if err != nil {
			return fmt.Errorf("config: schedule_file: %w", err)
		}
		c.table = table
	case c.Schedule != nil:
		table, err := f.FromDefinition(*c.Schedule)
		if err != nil {
			return fmt.Errorf("config: schedule: %w", err)
		}
		c.table = table
	default:
		c.table = f.Default()
	}

	switch strings.ToLower(c.Log.Level) {
	case "":
		c.Log.Level = "info"
	case "debug", "info", "warn", "error":
		c.Log.Level = strings.ToLower(c.Log.Level)
	default:
		return fmt.Errorf("config: log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "":
		c.Log.Format = "json"
	case "json", "text":
	default:
		return fmt.Errorf("config: log.format %q is not json or text", c.Log.Format)
	}
	return nil
}

func (s *StorageConfig) validateAndNormalize() error {
	switch s.Driver {
	case "":
		s.Driver = "memory"
	case "memory":
	case "sqlite":
		if s.SQLite.Path == "" {
			s.SQLite.Path = "vesting.db"
		}
	case "postgres":
		if err := s.Postgres.validateAndNormalize(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("config: storage.driver %q is not one of memory, sqlite, postgres", s.Driver)
	}
	return nil
}

func (d *DatabaseConfig) validateAndNormalize() error {
	if d.Host == "" {
		return fmt.Errorf("config: storage.postgres.host must be set")
	}
	if d.Port == 0 {
		return fmt.Errorf("config: storage.postgres.port must be set")
	}
	if d.User == "" {
		return fmt.Errorf("config: storage.postgres.user must be set")
	}
	if d.Password == "" {
		return fmt.Errorf("config: storage.postgres.password must be set")
	}
	if d.Name == "" {
		return fmt.Errorf("config: storage.postgres.name must be set")
	}
	if d.SSLMode == "" {
		d.SSLMode = "disable"
	}

	lifetime, err := parseDurationAllowEmpty(d.ConnMaxLifetimeRaw)
	if err != nil {
		return fmt.Errorf("config: storage.postgres.conn_max_lifetime: %w", err)
	}
	d.ConnMaxLifetime = lifetime

	idleTime, err := parseDurationAllowEmpty(d.ConnMaxIdleTimeRaw)
	if err != nil {
		return fmt.Errorf("config: storage.postgres.conn_max_idle_time: %w", err)
	}
	d.ConnMaxIdleTime = idleTime
	return nil
}

// DSN returns the pgx connection string with every component escaped.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}

func (c *CustodyConfig) validateAndNormalize() error {
	switch c.Driver {
	case "":
		c.Driver = "memory"
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: custody.redis.addr must be set")
		}
		if c.Redis.KeyPrefix == "" {
			c.Redis.KeyPrefix = "vesting"
		}
	default:
		return fmt.Errorf("config: custody.driver %q is not one of memory, redis", c.Driver)
	}
	if c.TokenSymbol == "" {
		c.TokenSymbol = "EQT"
	}
	c.TokenDecimals = factory.DefaultDecimals
	if c.TokenDecimalsRaw != nil {
		c.TokenDecimals = *c.TokenDecimalsRaw
	}
	if c.TokenDecimals < 0 || c.TokenDecimals > 36 {
		return fmt.Errorf("config: custody.token_decimals %d out of range", c.TokenDecimals)
	}
	if c.ReserveIdentity == "" {
		c.ReserveIdentity = "vesting-reserve"
	}
	if c.InitialReserve == "" {
		c.InitialReserve = "0"
	}
	amount, err := generic.ParseUnits(c.InitialReserve, c.TokenDecimals)
	if err != nil {
		return fmt.Errorf("config: custody.initial_reserve: %w", err)
	}
	c.InitialReserveAmount = amount
	return nil
}

func (a *AuthConfig) validateAndNormalize() error {
	admin, err := generic.NewIdentity(a.AdminIdentity)
	if err != nil {
		return fmt.Errorf("config: auth.admin_identity: %w", err)
	}
	a.AdminIdentity = string(admin)
	if len(a.JWTSecret) < MinSecretLength {
		return fmt.Errorf("config: auth.jwt_secret must be at least %d bytes", MinSecretLength)
	}
	if a.Issuer == "" {
		a.Issuer = "equity-vesting"
	}
	return nil
}

func parseDurationAllowEmpty(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	return d, nil
}
