package cmd

import (
	"fmt"

	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/database"
	"github.com/lorekeep/lorekeep/internal/log"
)

// runMigrate applies all pending migrations and exits.
func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	logger.Info("applying migrations", "host", cfg.PostgresHost, "database", cfg.PostgresDBName)

	if err := database.Migrate(cfg.ConnString()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")
	return nil
}
