package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docqa/docqa/internal/app"
	"github.com/docqa/docqa/internal/config"
	"github.com/docqa/docqa/internal/log"
)

var (
	serveAddr    string
	serveVerbose bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd)
}

// runServe initializes and starts the HTTP API server.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if serveAddr != "" {
		cfg.ServerAddr = serveAddr
	}

	level := slog.LevelInfo
	if serveVerbose {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: true})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting docqa", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	logger.Info("HTTP server ready",
		"addr", cfg.ServerAddr,
		"api", "/api/*",
		"health", "/health, /ready",
	)

	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("HTTP server: %w", err)
	}
	return nil
}
