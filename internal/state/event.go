// internal/state/event.go
package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/deskpilot/internal/types"
)

// EventLog is an in-memory, per-session ordered log of tool-call events.
// Events are ephemeral by contract: they are reconstructable from the message
// stream and never persisted, so a restart starts empty.
type EventLog struct {
	mu   sync.RWMutex
	logs map[types.SessionID][]*types.ToolCallEvent
}

// NewEventLog creates an empty EventLog.
func NewEventLog() *EventLog {
	return &EventLog{
		logs: make(map[types.SessionID][]*types.ToolCallEvent),
	}
}

// Append adds an event to the session's log. Appending a second event for a
// toolCallId that already has one is an error; the reconciler relies on this
// to keep one event per invocation.
func (l *EventLog) Append(_ context.Context, sessionID types.SessionID, event *types.ToolCallEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.logs[sessionID] {
		if existing.ToolCallID == event.ToolCallID {
			return fmt.Errorf("duplicate event for tool call %s", event.ToolCallID)
		}
	}

	l.logs[sessionID] = append(l.logs[sessionID], event)
	return nil
}

// Update applies the terminal mutation to the event with the given ID.
func (l *EventLog) Update(_ context.Context, sessionID types.SessionID, id types.EventID, update types.EventUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, event := range l.logs[sessionID] {
		if event.ID != id {
			continue
		}
		event.Status = update.Status
		event.Duration = update.Duration
		event.Result = update.Result
		event.Error = update.Error
		return nil
	}
	return fmt.Errorf("event not found: %s", id)
}

// FindByToolCallID returns the event correlated to the given invocation ID,
// or nil if none exists.
func (l *EventLog) FindByToolCallID(_ context.Context, sessionID types.SessionID, toolCallID string) (*types.ToolCallEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, event := range l.logs[sessionID] {
		if event.ToolCallID == toolCallID {
			return event, nil
		}
	}
	return nil, nil
}

// List returns up to limit of the session's most recent events in log order.
// A non-positive limit returns everything.
func (l *EventLog) List(_ context.Context, sessionID types.SessionID, limit int) ([]*types.ToolCallEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	events := l.logs[sessionID]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}

	out := make([]*types.ToolCallEvent, len(events))
	copy(out, events)
	return out, nil
}

// Count returns the number of events for the given session.
func (l *EventLog) Count(_ context.Context, sessionID types.SessionID) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return int64(len(l.logs[sessionID])), nil
}

// Clear drops the session's entire log. Used when the owning session is
// deleted; individual events are never removed.
func (l *EventLog) Clear(_ context.Context, sessionID types.SessionID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.logs, sessionID)
	return nil
}
