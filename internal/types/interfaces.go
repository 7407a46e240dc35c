// internal/types/interfaces.go
package types

import "context"

// SessionStore owns ChatSession records and the active-session pointer.
// Exactly one session is active at a time, or none when the store is empty.
type SessionStore interface {
	Create(ctx context.Context, name string) (*ChatSession, error)
	Switch(ctx context.Context, id SessionID) error
	Delete(ctx context.Context, id SessionID) error
	Active(ctx context.Context) (*ChatSession, error)
	List(ctx context.Context) ([]*ChatSession, error)
	UpdateMessages(ctx context.Context, messages []Message) error
	UpdateSandboxID(ctx context.Context, sandboxID SandboxID) error
}

// EventLog holds the reconstructed tool-call events, scoped per session.
// Events are ephemeral: the whole log is cleared when the owning session is
// deleted or the process restarts.
type EventLog interface {
	Append(ctx context.Context, sessionID SessionID, event *ToolCallEvent) error
	Update(ctx context.Context, sessionID SessionID, id EventID, update EventUpdate) error
	FindByToolCallID(ctx context.Context, sessionID SessionID, toolCallID string) (*ToolCallEvent, error)
	List(ctx context.Context, sessionID SessionID, limit int) ([]*ToolCallEvent, error)
	Count(ctx context.Context, sessionID SessionID) (int64, error)
	Clear(ctx context.Context, sessionID SessionID) error
}

// DesktopProvider is the remote desktop/sandbox provisioning collaborator.
type DesktopProvider interface {
	ConnectOrCreate(ctx context.Context, sandboxID SandboxID) (*Desktop, error)
	Terminate(ctx context.Context, sandboxID SandboxID) error
}
