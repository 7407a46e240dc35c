// internal/reconcile/reconcile.go

// Package reconcile keeps the tool-call event log consistent with the chat
// runtime's message stream.
package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/user/deskpilot/internal/types"
)

// Reconciler watches the evolving message stream and emits or finalizes one
// ToolCallEvent per tool invocation.
type Reconciler struct {
	log types.EventLog
	now func() time.Time
}

// New creates a Reconciler writing to the given event log.
func New(log types.EventLog) *Reconciler {
	return &Reconciler{log: log, now: time.Now}
}

// Apply reconciles the session's event log against the full message array.
// Only the latest message is inspected; earlier messages are assumed already
// reconciled by previous updates. Re-applying the same array is a no-op:
// existing events guard creation, and finalized events are never re-mutated.
//
// Reconciliation anomalies (unknown action tags, results without a matching
// event) are logged and skipped, never returned as errors.
func (r *Reconciler) Apply(ctx context.Context, sessionID types.SessionID, messages []types.Message) error {
	if len(messages) == 0 {
		return nil
	}
	last := messages[len(messages)-1]
	if last.Role != types.RoleAssistant {
		return nil
	}

	for _, part := range last.Parts {
		if part.Type != types.PartToolInvocation || part.ToolInvocation == nil {
			continue
		}
		if err := r.applyInvocation(ctx, sessionID, part.ToolInvocation); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) applyInvocation(ctx context.Context, sessionID types.SessionID, inv *types.ToolInvocation) error {
	existing, err := r.log.FindByToolCallID(ctx, sessionID, inv.ToolCallID)
	if err != nil {
		return err
	}

	switch {
	case existing == nil && inv.State == types.InvocationCall:
		toolCall, parseErr := types.ParseToolCall(inv.ToolName, inv.Args)
		if parseErr != nil {
			slog.Warn("reconcile: rejected tool invocation",
				"session_id", sessionID, "tool_call_id", inv.ToolCallID, "tool", inv.ToolName, "error", parseErr)
			return nil
		}
		return r.log.Append(ctx, sessionID, &types.ToolCallEvent{
			ID:         types.NewEventID(),
			ToolCallID: inv.ToolCallID,
			Timestamp:  r.now(),
			ToolCall:   toolCall,
			Status:     types.StatusRunning,
		})

	case existing != nil && inv.State == types.InvocationResult:
		if existing.Status.Terminal() {
			// Already finalized; events transition exactly once.
			return nil
		}
		duration := r.now().Sub(existing.Timestamp).Milliseconds()
		update := types.EventUpdate{
			Status:   types.StatusSuccess,
			Duration: &duration,
			Result:   inv.Result,
		}
		if s, ok := inv.ResultString(); ok {
			if s == types.AbortedSentinel {
				update.Status = types.StatusAborted
			} else if strings.HasPrefix(s, "Error") {
				update.Status = types.StatusError
				update.Error = s
			}
		}
		return r.log.Update(ctx, sessionID, existing.ID, update)

	case existing == nil && inv.State == types.InvocationResult:
		slog.Warn("reconcile: result with no matching event",
			"session_id", sessionID, "tool_call_id", inv.ToolCallID)
		return nil

	default:
		// A repeated "call" for a known invocation; nothing to do.
		return nil
	}
}

// SynthesizeAbort rewrites the stream for user-initiated cancellation: if the
// latest message is from the assistant and its last part is a pending tool
// invocation, that part's state becomes "result" carrying the abort sentinel.
// The normal result path then drives the event to aborted. Returns the
// rewritten messages and whether a rewrite happened.
func SynthesizeAbort(messages []types.Message) ([]types.Message, bool) {
	if len(messages) == 0 {
		return messages, false
	}
	last := messages[len(messages)-1]
	if last.Role != types.RoleAssistant || len(last.Parts) == 0 {
		return messages, false
	}
	lastPart := last.Parts[len(last.Parts)-1]
	if lastPart.Type != types.PartToolInvocation || lastPart.ToolInvocation == nil {
		return messages, false
	}
	if lastPart.ToolInvocation.State != types.InvocationCall {
		return messages, false
	}

	sentinel, _ := json.Marshal(types.AbortedSentinel)
	inv := *lastPart.ToolInvocation
	inv.State = types.InvocationResult
	inv.Result = sentinel

	parts := make([]types.Part, len(last.Parts))
	copy(parts, last.Parts)
	parts[len(parts)-1] = types.Part{Type: types.PartToolInvocation, ToolInvocation: &inv}

	out := make([]types.Message, len(messages))
	copy(out, messages)
	last.Parts = parts
	out[len(out)-1] = last

	return out, true
}
