// internal/types/message.go
package types

import "encoding/json"

// Message roles and part/invocation tags as the chat runtime emits them.
// Field names follow the runtime's wire format.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	PartText           = "text"
	PartToolInvocation = "tool-invocation"

	InvocationCall   = "call"
	InvocationResult = "result"
)

// AbortedSentinel is the fixed result value substituted for a tool result to
// mark user-initiated cancellation.
const AbortedSentinel = "User aborted"

// Message is one entry in a session's conversation. The core only inspects
// Role and Parts; everything else rides along opaquely.
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Parts   []Part `json:"parts,omitempty"`
}

// Part is either plain text or a tool invocation.
type Part struct {
	Type           string          `json:"type"`
	Text           string          `json:"text,omitempty"`
	ToolInvocation *ToolInvocation `json:"toolInvocation,omitempty"`
}

// ToolInvocation is a request to execute a named capability and, once State
// is "result", the inline answer.
type ToolInvocation struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
	State      string          `json:"state"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// ResultString returns the invocation result as a plain string when it is
// one, for sentinel and error-prefix classification.
func (ti *ToolInvocation) ResultString() (string, bool) {
	if len(ti.Result) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(ti.Result, &s); err != nil {
		return "", false
	}
	return s, true
}
