// internal/reaper/reaper.go

// Package reaper terminates sandboxes whose sessions have gone idle. A
// browser tab can fire a kill beacon on unload; a daemon cannot, so a cron
// sweep fills the gap.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/deskpilot/internal/types"
)

// Reaper periodically scans sessions and terminates the sandbox of any
// session untouched for longer than the idle window. The session keeps its
// sandbox ID; reconnecting later simply provisions a fresh sandbox.
type Reaper struct {
	sessions  types.SessionStore
	desktop   types.DesktopProvider
	idleAfter time.Duration
	cron      *cron.Cron
}

// New creates a Reaper sweeping on the given cron schedule.
func New(sessions types.SessionStore, desktop types.DesktopProvider, idleAfter time.Duration) *Reaper {
	return &Reaper{
		sessions:  sessions,
		desktop:   desktop,
		idleAfter: idleAfter,
		cron:      cron.New(),
	}
}

// Start registers the sweep and starts the cron ticker.
func (r *Reaper) Start(schedule string) error {
	if _, err := r.cron.AddFunc(schedule, r.Sweep); err != nil {
		return err
	}
	r.cron.Start()
	slog.Info("reaper started", "schedule", schedule, "idle_after", r.idleAfter)
	return nil
}

// Stop stops the cron ticker.
func (r *Reaper) Stop() {
	r.cron.Stop()
}

// Sweep terminates the sandboxes of idle sessions. Termination failures are
// logged and skipped; the next sweep retries.
func (r *Reaper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sessions, err := r.sessions.List(ctx)
	if err != nil {
		slog.Error("reaper: list sessions failed", "error", err)
		return
	}

	cutoff := time.Now().Add(-r.idleAfter)
	for _, session := range sessions {
		if session.SandboxID == "" || session.UpdatedAt.After(cutoff) {
			continue
		}
		if err := r.desktop.Terminate(ctx, session.SandboxID); err != nil {
			slog.Warn("reaper: terminate failed",
				"session_id", string(session.ID), "sandbox_id", string(session.SandboxID), "error", err)
			continue
		}
		slog.Info("reaper: terminated idle sandbox",
			"session_id", string(session.ID), "sandbox_id", string(session.SandboxID))
	}
}
