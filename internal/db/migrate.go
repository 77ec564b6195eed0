package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// Migration sets, one per peer. Each peer owns its database exclusively.
const (
	ShopMigrations      = "shop"
	WarehouseMigrations = "warehouse"
)

//go:embed migrations/shop/*.sql migrations/warehouse/*.sql
var migrationsFS embed.FS

// RunMigrations applies all pending migrations of the given set.
func RunMigrations(dsn, set string, logger *zap.Logger) error {
	if set != ShopMigrations && set != WarehouseMigrations {
		return fmt.Errorf("unknown migration set %q", set)
	}

	db, err := openDB(dsn)
	if err != nil {
		return fmt.Errorf("open db for migrations: %w", err)
	}
	defer db.Close()

	sourceDriver, err := iofs.New(migrationsFS, "migrations/"+set)
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("migrations applied",
		zap.String("set", set),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}
