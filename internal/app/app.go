// internal/app/app.go

// Package app wires the session store, event log, and reconciler into the
// top-level controller. All process state is constructed here and injected;
// nothing is package-global.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/deskpilot/internal/derive"
	"github.com/user/deskpilot/internal/reconcile"
	"github.com/user/deskpilot/internal/types"
)

// ErrNoActiveSession means an operation needing an active session ran while
// the store had none selected.
var ErrNoActiveSession = errors.New("no active session")

// abortDrainTimeout bounds how long Abort waits for queued stream updates on
// the session's lane before giving up.
const abortDrainTimeout = 5 * time.Second

// Notifier surfaces provisioning failures to the user. Every other error
// class stays local to the reconciler and aggregator.
type Notifier interface {
	ProvisioningFailure(sessionName string, err error)
}

// App owns one process's sessions, event log, and reconciliation pipeline.
type App struct {
	sessions   types.SessionStore
	events     types.EventLog
	reconciler *reconcile.Reconciler
	desktop    types.DesktopProvider
	notifier   Notifier
	queue      *Queue

	// Serializes all mutations to a given session's event log and message
	// buffer: stream updates (via the queue processor) and synchronous aborts
	// contend on the same per-session lock.
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex

	// Transient thinking flags, set from chat-runtime state. Not derived from
	// the event log and not persisted.
	thinking sync.Map
}

// New creates an App with the given collaborators. notifier may be nil.
func New(sessions types.SessionStore, events types.EventLog, desktop types.DesktopProvider, notifier Notifier, maxConcurrent int64) *App {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	a := &App{
		sessions:   sessions,
		events:     events,
		reconciler: reconcile.New(events),
		desktop:    desktop,
		notifier:   notifier,
		queue:      NewQueue(maxConcurrent),
		locks:      make(map[types.SessionID]*sync.Mutex),
	}
	a.queue.SetProcessor(a.processUpdate)
	return a
}

// Start starts the update queue.
func (a *App) Start(ctx context.Context) {
	a.queue.Start(ctx)
}

// Stop drains the update queue.
func (a *App) Stop() {
	a.queue.Stop()
}

// Sessions exposes the session store to the presentation layer.
func (a *App) Sessions() types.SessionStore { return a.sessions }

// Events exposes the event log to the presentation layer.
func (a *App) Events() types.EventLog { return a.events }

// Queue exposes the update queue, mainly so callers can wait for quiescence.
func (a *App) Queue() *Queue { return a.queue }

func (a *App) sessionLock(id types.SessionID) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	if lock, ok := a.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	a.locks[id] = lock
	return lock
}

// HandleStreamUpdate enqueues a stream notification for the active session.
// Reconciliation and message persistence happen on the session's lane.
func (a *App) HandleStreamUpdate(ctx context.Context, messages []types.Message) error {
	session, err := a.sessions.Active(ctx)
	if err != nil {
		return fmt.Errorf("resolve active session: %w", err)
	}
	if session == nil {
		return ErrNoActiveSession
	}
	return a.queue.Enqueue(&Update{SessionID: session.ID, Messages: messages})
}

// processUpdate is the queue processor: reconcile the event log against the
// stream, then persist the messages to the session.
func (a *App) processUpdate(update *Update) error {
	lock := a.sessionLock(update.SessionID)
	lock.Lock()
	defer lock.Unlock()

	ctx := context.Background()
	if err := a.reconciler.Apply(ctx, update.SessionID, update.Messages); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	// The store only mutates the active session; if the user switched away
	// while this update was queued, keep the event log but drop the write.
	active, err := a.sessions.Active(ctx)
	if err != nil {
		return fmt.Errorf("resolve active session: %w", err)
	}
	if active == nil || active.ID != update.SessionID {
		slog.Debug("dropping stream update for inactive session", "session_id", string(update.SessionID))
		return nil
	}
	if err := a.sessions.UpdateMessages(ctx, update.Messages); err != nil {
		return fmt.Errorf("persist messages: %w", err)
	}
	return nil
}

// Abort cancels the in-flight generation for the active session. It is
// synchronous: when it returns, any pending tool invocation has been driven
// to aborted through the normal result path and derived state reflects it.
func (a *App) Abort(ctx context.Context) error {
	session, err := a.sessions.Active(ctx)
	if err != nil {
		return fmt.Errorf("resolve active session: %w", err)
	}
	if session == nil {
		return nil
	}

	// Stream updates already accepted for this session may still sit on its
	// lane. The pending invocation the abort must rewrite can arrive with one
	// of them, so drain the lane before reading the persisted history.
	if !a.queue.Flush(session.ID, abortDrainTimeout) {
		return fmt.Errorf("abort session %s: queued updates did not drain", session.ID)
	}

	lock := a.sessionLock(session.ID)
	lock.Lock()
	defer lock.Unlock()

	a.thinking.Delete(session.ID)

	session, err = a.sessions.Active(ctx)
	if err != nil {
		return fmt.Errorf("resolve active session: %w", err)
	}
	if session == nil {
		return nil
	}

	rewritten, ok := reconcile.SynthesizeAbort(session.Messages)
	if !ok {
		return nil
	}
	if err := a.reconciler.Apply(ctx, session.ID, rewritten); err != nil {
		return fmt.Errorf("reconcile abort: %w", err)
	}
	if err := a.sessions.UpdateMessages(ctx, rewritten); err != nil {
		return fmt.Errorf("persist abort: %w", err)
	}
	return nil
}

// SetThinking records the external chat-runtime signal for the session.
func (a *App) SetThinking(id types.SessionID, thinking bool) {
	if thinking {
		a.thinking.Store(id, true)
	} else {
		a.thinking.Delete(id)
	}
}

// DerivedState recomputes telemetry from the active session's event log.
// The thinking overlay only applies when the log alone would say idle.
func (a *App) DerivedState(ctx context.Context) (*types.DerivedState, error) {
	session, err := a.sessions.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve active session: %w", err)
	}
	if session == nil {
		return derive.Compute(nil), nil
	}

	events, err := a.events.List(ctx, session.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	state := derive.Compute(events)
	if state.AgentStatus == types.AgentIdle {
		if _, ok := a.thinking.Load(session.ID); ok {
			state.AgentStatus = types.AgentThinking
		}
	}
	return state, nil
}

// DeleteSession removes the session and clears its event log. The store
// handles re-selection of the active session.
func (a *App) DeleteSession(ctx context.Context, id types.SessionID) error {
	if err := a.sessions.Delete(ctx, id); err != nil {
		return err
	}
	a.thinking.Delete(id)
	return a.events.Clear(ctx, id)
}

// ConnectDesktop provisions (or reconnects) the remote desktop for the
// active session and attaches the sandbox ID to it. Provisioning failures
// are surfaced through the notifier; retry is a user action.
func (a *App) ConnectDesktop(ctx context.Context) (*types.Desktop, error) {
	session, err := a.sessions.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve active session: %w", err)
	}
	if session == nil {
		return nil, ErrNoActiveSession
	}

	desktop, err := a.desktop.ConnectOrCreate(ctx, session.SandboxID)
	if err != nil {
		slog.Error("desktop provisioning failed", "session_id", string(session.ID), "error", err)
		if a.notifier != nil {
			a.notifier.ProvisioningFailure(session.Name, err)
		}
		return nil, fmt.Errorf("provision desktop: %w", err)
	}

	if err := a.sessions.UpdateSandboxID(ctx, desktop.SandboxID); err != nil {
		return nil, fmt.Errorf("attach sandbox: %w", err)
	}
	return desktop, nil
}

// KillDesktop terminates a sandbox. Failures are logged, not returned: this
// is fire-and-forget teardown plumbing.
func (a *App) KillDesktop(ctx context.Context, sandboxID types.SandboxID) {
	if sandboxID == "" {
		return
	}
	if err := a.desktop.Terminate(ctx, sandboxID); err != nil {
		slog.Warn("desktop terminate failed", "sandbox_id", string(sandboxID), "error", err)
	}
}
