// Command hedgebot runs the cross-venue arbitrage service. It loads and
// validates configuration, builds the application for the configured mode,
// and runs until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/oddslane/hedgebot/internal/app"
	"github.com/oddslane/hedgebot/internal/config"
)

func main() {
	var (
		configPath = flag.String("config", "config.toml", "path to configuration file")
		mode       = flag.String("mode", "", "override run mode from config (server, jobs, all)")
	)
	flag.Parse()

	if err := run(*configPath, *mode); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, modeOverride string) error {
	// Bootstrap logger, replaced once the configured level is known.
	logger := newLogger(slog.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}
	if modeOverride != "" {
		cfg.Mode = modeOverride
	}

	logger = newLogger(parseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info("hedgebot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch err := application.Run(ctx); {
	case err == nil:
	case errors.Is(err, context.Canceled):
		logger.Info("application shut down gracefully")
	default:
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("hedgebot stopped")
	return nil
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
