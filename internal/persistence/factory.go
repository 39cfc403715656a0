package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"segtag/internal/infra/persistence/badger"
	"segtag/internal/infra/persistence/memory"
	"segtag/internal/infra/persistence/postgres"
	"segtag/internal/infra/persistence/sqlite"
)

// Config selects and parameterizes a snapshot backend.
//
//	driver: memory|sqlite|postgres|badger (default sqlite)
//	sqlite_path: sqlite file (default ./segtag.db)
//	postgres_dsn: DSN when driver=postgres
//	badger_path: database directory when driver=badger
type Config struct {
	Driver         Driver `yaml:"driver" validate:"omitempty,oneof=memory sqlite postgres badger"`
	SQLitePath     string `yaml:"sqlite_path"`
	PostgresDSN    string `yaml:"postgres_dsn"`
	BadgerPath     string `yaml:"badger_path"`
	BadgerInMemory bool   `yaml:"badger_in_memory"`
}

// Open returns the Store named by cfg.Driver. logger may be nil.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverSQLite:
		return sqlite.NewStore(ctx, cfg.SQLitePath)
	case DriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres driver requires a dsn")
		}
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	case DriverBadger:
		return badger.NewStore(badger.Config{Path: cfg.BadgerPath, InMemory: cfg.BadgerInMemory, Logger: logger})
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
