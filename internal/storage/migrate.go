package storage

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/defi-risk-monitor/internal/config"
	"github.com/defi-risk-monitor/internal/logging"
)

// RunMigrations applies all pending up migrations from the given directory
func RunMigrations(cfg *config.PostgresConfig, migrationsPath string) error {
	m, err := newMigrator(cfg, migrationsPath)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logging.GetGlobalLogger().WithComponent("migrate").Info("no pending migrations")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	logging.GetGlobalLogger().WithComponent("migrate").Info("migrations applied")
	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(cfg *config.PostgresConfig, migrationsPath string) error {
	m, err := newMigrator(cfg, migrationsPath)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	logging.GetGlobalLogger().WithComponent("migrate").Info("rolled back one migration")
	return nil
}

func newMigrator(cfg *config.PostgresConfig, migrationsPath string) (*migrate.Migrate, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	m, err := migrate.New("file://"+migrationsPath, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}
