package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-fraud-triage/config"
)

// NewRootCommand assembles the fraud-triage command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fraud-triage",
		Short:         "Shortlist the mail messages most likely to evidence financial fraud",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterGlobalFlags(rootCmd)

	rootCmd.AddCommand(newScanCommand(), newCorpusStatsCommand(), newRulesCommand())
	return rootCmd
}

func Execute() error {
	return NewRootCommand().Execute()
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, fmt.Errorf("create log directory: %w", err)
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("fraud-triage-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, fmt.Errorf("open log file: %w", err)
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler), cleanup, nil
}

// withConfig loads the config and logger, then hands both to fn.
func withConfig(cmd *cobra.Command, fn func(cfg config.Config, logger *slog.Logger) error) error {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return err
	}

	logger, cleanup, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = cleanup()
	}()

	slog.SetDefault(logger)
	return fn(cfg, logger)
}
