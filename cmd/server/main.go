/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the equity vesting server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (-config, CONFIG_PATH, or defaults plus env)
  2. Initialize the store (memory, sqlite or postgres)
  3. Initialize custody (in-process token or redis) and seed the reserve
  4. Build registry, engine, handler and router
  5. Start the reconciliation scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -config  YAML config path (default: $CONFIG_PATH)
  -port    Overrides server.listen_addr
  -db      SQLite database path; selects the sqlite driver
  -print-schedule  Print the effective schedule table as YAML and exit

ENVIRONMENT:
  CONFIG_PATH, ADMIN, JWT_SECRET, MINT_AMOUNT (see config/config.go)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close store and custody connections

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration
  - cmd/migrate: Standalone PostgreSQL migrations
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"gopkg.in/yaml.v3"

	"github.com/warp/equity-vesting/api"
	"github.com/warp/equity-vesting/auth"
	"github.com/warp/equity-vesting/config"
	"github.com/warp/equity-vesting/custody"
	"github.com/warp/equity-vesting/generic"
	"github.com/warp/equity-vesting/generic/store"
	"github.com/warp/equity-vesting/store/postgres"
	"github.com/warp/equity-vesting/store/sqlite"
	"github.com/warp/equity-vesting/vesting"
)

// minter is the custody surface needed to seed the reserve.
type minter interface {
	Mint(ctx context.Context, to generic.Identity, amount generic.Amount) error
	Reserve(holder generic.Identity) *custody.Reserve
}

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to CONFIG_PATH env)")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (selects the sqlite driver)")
	printSchedule := flag.Bool("print-schedule", false, "print the effective schedule table as YAML and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.ListenAddr = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.Storage.Driver = "sqlite"
		cfg.Storage.SQLite.Path = *dbPath
	}

	if *printSchedule {
		enc := yaml.NewEncoder(os.Stdout)
		if err := enc.Encode(cfg.ScheduleDefinition()); err != nil {
			slog.Error("failed to print schedule", "error", err)
			os.Exit(1)
		}
		_ = enc.Close()
		return
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(flagValue string) (*config.Config, error) {
	path := flagValue
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	txStore, closeStore, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	token, closeCustody, err := openCustody(ctx, cfg.Custody)
	if err != nil {
		return err
	}
	defer closeCustody()

	reserveID, err := generic.NewIdentity(cfg.Custody.ReserveIdentity)
	if err != nil {
		return fmt.Errorf("reserve identity: %w", err)
	}
	reserve := token.Reserve(reserveID)
	if err := seedReserve(ctx, token, reserve, cfg.Custody.InitialReserveAmount, logger); err != nil {
		return err
	}

	gate, err := auth.NewAdminIdentity(cfg.Auth.AdminIdentity)
	if err != nil {
		return err
	}
	authn, err := auth.NewJWTAuthenticator([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	provider := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(provider)
	defer provider.Shutdown(context.Background())
	metrics, err := vesting.NewMetrics(nil)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	opts := []vesting.Option{vesting.WithLogger(logger), vesting.WithMetrics(metrics)}
	registry := vesting.NewRegistry(txStore, cfg.ScheduleTable(), gate, opts...)
	engine := vesting.NewEngine(registry, reserve, opts...)

	handler := api.NewHandler(registry, engine, reserve, gate, logger)
	scheduler := api.NewReconciliationScheduler(registry, engine, logger)
	handler.Scheduler = scheduler
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      api.NewRouter(handler, cfg.Server, authn),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", cfg.Server.ListenAddr,
			"storage", cfg.Storage.Driver,
			"custody", cfg.Custody.Driver,
			"admin", gate.Identity())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (generic.TxStore, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return s, func() { s.Close() }, nil

	case "postgres":
		if cfg.Postgres.AutoMigrate {
			if err := postgres.Migrate(cfg.Postgres.DSN(), postgres.MigrateUp, logger); err != nil {
				return nil, nil, err
			}
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewStore(pool), pool.Close, nil

	default:
		return store.NewTxMemory(), func() {}, nil
	}
}

func openCustody(ctx context.Context, cfg config.CustodyConfig) (minter, func(), error) {
	if cfg.Driver != "redis" {
		return custody.NewToken(cfg.TokenSymbol, cfg.TokenDecimals), func() {}, nil
	}
	client := custody.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	token := custody.NewRedisToken(client, cfg.Redis.KeyPrefix, cfg.TokenSymbol)
	if err := token.Ping(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return token, func() { client.Close() }, nil
}

// seedReserve mints the initial reserve once. A reserve that already holds
// tokens (a restarted redis-backed server) is left alone.
func seedReserve(ctx context.Context, token minter, reserve *custody.Reserve, amount generic.Amount, logger *slog.Logger) error {
	if amount.IsZero() {
		return nil
	}
	balance, err := reserve.Available(ctx)
	if err != nil {
		return fmt.Errorf("failed to read reserve balance: %w", err)
	}
	if !balance.IsZero() {
		logger.Info("reserve already funded", "reserve", reserve.Holder(), "balance", balance)
		return nil
	}
	if err := token.Mint(ctx, reserve.Holder(), amount); err != nil {
		return fmt.Errorf("failed to mint reserve: %w", err)
	}
	logger.Info("reserve minted", "reserve", reserve.Holder(), "amount", amount)
	return nil
}
