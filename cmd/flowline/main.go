package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/stagekit/flowline/internal/logging"
	"github.com/stagekit/flowline/pkg/flowline"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		logger.Error("create data dir", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var collaborators flowline.Collaborators
	if cfg.AutomationURL != "" {
		trigger, err := flowline.NewWebhookAutomation(cfg.AutomationURL, 0)
		if err != nil {
			logger.Error("automation webhook config", "error", err)
			os.Exit(1)
		}
		collaborators.Automation = trigger
	}

	svc, err := flowline.New(flowline.Config{
		DBPath:           cfg.dsn(),
		PollInterval:     time.Duration(cfg.PollSeconds) * time.Second,
		ScheduleInterval: time.Duration(cfg.ScheduleSeconds) * time.Second,
		BatchSize:        cfg.BatchSize,
		Collaborators:    collaborators,
		VaultPassphrase:  cfg.VaultPassphrase,
		VaultSalt:        []byte(cfg.VaultSalt),
		Logger:           logger,
	})
	if err != nil {
		logger.Error("engine init", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	if err := svc.Start(ctx); err != nil {
		logger.Error("engine start", "error", err)
		os.Exit(1)
	}
	logger.Info("flowline engine started",
		"db_path", cfg.DBPath,
		"poll_seconds", cfg.PollSeconds,
		"schedule_seconds", cfg.ScheduleSeconds,
	)

	<-ctx.Done()
	logger.Info("shutting down")
	if err := svc.Stop(); err != nil {
		logger.Error("engine stop", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := logging.NewCorrelationHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}),
	)
	return slog.New(handler)
}
