package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/deskpilot/internal/app"
	"github.com/user/deskpilot/internal/desktop"
	"github.com/user/deskpilot/internal/notify"
	"github.com/user/deskpilot/internal/prune"
	"github.com/user/deskpilot/internal/reaper"
	"github.com/user/deskpilot/internal/server"
	"github.com/user/deskpilot/internal/state"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the deskpilot daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "deskpilot.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Write PID file
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Stores
	sessions := state.NewSessionStore(cfg.DataDir)
	events := state.NewEventLog()

	// Desktop provisioning client
	desktops := desktop.New(cfg.Desktop.BaseURL, cfg.Desktop.APIKey)

	// Telegram notifier
	var notifier app.Notifier
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return fmt.Errorf("create telegram notifier: %w", err)
		}
		notifier = tg
		slog.Info("telegram notifier enabled")
	} else {
		slog.Warn("telegram notifier disabled (no token)")
	}

	// Controller
	a := app.New(sessions, events, desktops, notifier, int64(cfg.MaxConcurrent))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.Start(ctx)
	defer a.Stop()

	// Idle-sandbox reaper
	reap := reaper.New(sessions, desktops, time.Duration(cfg.Desktop.IdleMinutes)*time.Minute)
	if err := reap.Start(cfg.Desktop.ReapCron); err != nil {
		return fmt.Errorf("start reaper: %w", err)
	}
	defer reap.Stop()

	// Message pruner
	pruner, err := prune.New()
	if err != nil {
		return fmt.Errorf("create pruner: %w", err)
	}

	slog.Info("deskpilot started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"listen", cfg.HTTP.Listen,
		"idle_minutes", cfg.Desktop.IdleMinutes,
		"pid_file", pidPath,
	)

	// HTTP API
	srv := server.NewServer(a, pruner)
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Listen,
		Handler: srv,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()
	// Registered after a.Stop, so the listener closes before the queue does
	// and no in-flight request can enqueue on a stopped queue.
	defer httpServer.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				// Re-write PID file since we failed to re-exec
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
