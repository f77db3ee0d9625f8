// Command migrate applies the embedded PostgreSQL migrations.
//
//	migrate [-config path] [up|down|drop|version]
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/warp/equity-vesting/config"
	"github.com/warp/equity-vesting/store/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to CONFIG_PATH env)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	action := postgres.MigrateUp
	if flag.NArg() > 0 {
		action = flag.Arg(0)
	}

	path := effectiveConfigPath(*configPath)
	if path == "" {
		logger.Error("no config file: pass -config or set CONFIG_PATH")
		os.Exit(2)
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Storage.Driver != "postgres" {
		logger.Error("migrations only apply to the postgres storage driver", "driver", cfg.Storage.Driver)
		os.Exit(2)
	}

	if err := postgres.Migrate(cfg.Storage.Postgres.DSN(), action, logger); err != nil {
		logger.Error("migration failed", "action", action, "error", err)
		os.Exit(1)
	}
	logger.Info("migration completed", "action", action)
}

func effectiveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("CONFIG_PATH")
}
