package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lorekeep/lorekeep/internal/app"
	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/log"
)

// runServe wires the application and runs it until SIGINT or SIGTERM.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("GEMINI_API_KEY is not set")
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("setting up application: %w", err)
	}
	defer application.Close()

	logger.Info("lorekeep started", "version", AppVersion)
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("running application: %w", err)
	}
	logger.Info("lorekeep stopped")
	return nil
}
