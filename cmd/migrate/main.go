// Package main applies or rolls back the Postgres schema migrations.
package main

import (
	"flag"

	"github.com/defi-risk-monitor/internal/config"
	"github.com/defi-risk-monitor/internal/logging"
	"github.com/defi-risk-monitor/internal/storage"
)

func main() {
	var (
		path = flag.String("path", "migrations", "directory containing migration files")
		down = flag.Bool("down", false, "roll back the most recent migration instead of applying")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("failed to load configuration")
	}
	logging.InitGlobalLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger := logging.GetGlobalLogger()

	if *down {
		if err := storage.RollbackMigration(&cfg.Database.Postgres, *path); err != nil {
			logger.WithError(err).Fatal("rollback failed")
		}
		return
	}

	if err := storage.RunMigrations(&cfg.Database.Postgres, *path); err != nil {
		logger.WithError(err).Fatal("migration failed")
	}
}
