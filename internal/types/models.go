// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// EventStatus is the lifecycle state of a ToolCallEvent. Events are created
// running and move exactly once to a terminal status.
type EventStatus string

const (
	StatusPending EventStatus = "pending"
	StatusRunning EventStatus = "running"
	StatusSuccess EventStatus = "success"
	StatusError   EventStatus = "error"
	StatusAborted EventStatus = "aborted"
)

// Terminal reports whether the status is one of success, error, aborted.
func (s EventStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusAborted
}

// ToolCallEvent is one reconstructed tool invocation. ToolCallID is the join
// key against the chat runtime's stream; at most one event exists per
// ToolCallID within a session. Duration is set only on the terminal
// transition, in milliseconds.
type ToolCallEvent struct {
	ID         EventID         `json:"id"`
	ToolCallID string          `json:"tool_call_id"`
	Timestamp  time.Time       `json:"timestamp"`
	ToolCall   *ToolCall       `json:"tool_call"`
	Status     EventStatus     `json:"status"`
	Duration   *int64          `json:"duration_ms,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// EventUpdate carries the single terminal mutation applied to an event.
type EventUpdate struct {
	Status   EventStatus
	Duration *int64
	Result   json.RawMessage
	Error    string
}

// AgentStatus summarises what the agent is doing right now. Thinking is never
// derived from the event log; it is an external signal set by the caller from
// chat-runtime state.
type AgentStatus string

const (
	AgentIdle      AgentStatus = "idle"
	AgentThinking  AgentStatus = "thinking"
	AgentExecuting AgentStatus = "executing"
	AgentError     AgentStatus = "error"
)

// DerivedState is telemetry recomputed fresh from a session's event log on
// every query. It is never stored.
type DerivedState struct {
	ActionCounts    map[string]int `json:"action_counts"`
	AgentStatus     AgentStatus    `json:"agent_status"`
	TotalEvents     int            `json:"total_events"`
	SuccessRate     float64        `json:"success_rate"`
	AverageDuration float64        `json:"average_duration_ms"`
	ActiveToolCall  *ToolCallEvent `json:"active_tool_call"`
}

// ChatSession is one independent conversation plus its remote-desktop
// identity. SandboxID is empty until a desktop has been provisioned.
type ChatSession struct {
	ID        SessionID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
	SandboxID SandboxID `json:"sandbox_id,omitempty"`
}

// Desktop is the provisioning collaborator's answer: where to watch the
// desktop and which sandbox backs it.
type Desktop struct {
	StreamURL string    `json:"stream_url"`
	SandboxID SandboxID `json:"sandbox_id"`
}
