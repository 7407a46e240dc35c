// internal/types/toolcall.go
package types

import (
	"encoding/json"
	"fmt"
)

// ToolKind discriminates the two tool-call shapes the agent can produce.
type ToolKind string

const (
	ToolBash     ToolKind = "bash"
	ToolComputer ToolKind = "computer"
)

// ActionType is the closed set of desktop actions. Anything outside this set
// is rejected at the stream boundary rather than passed through.
type ActionType string

const (
	ActionScreenshot    ActionType = "screenshot"
	ActionLeftClick     ActionType = "left_click"
	ActionRightClick    ActionType = "right_click"
	ActionDoubleClick   ActionType = "double_click"
	ActionMouseMove     ActionType = "mouse_move"
	ActionTypeText      ActionType = "type"
	ActionKey           ActionType = "key"
	ActionWait          ActionType = "wait"
	ActionScroll        ActionType = "scroll"
	ActionLeftClickDrag ActionType = "left_click_drag"
)

// Coordinate is an integer pixel pair, [x, y].
type Coordinate [2]int

// Action is one desktop action tagged by Type. Which of the optional fields
// are set depends on the tag; ParseAction enforces the shape.
type Action struct {
	Type            ActionType  `json:"type"`
	Coordinate      *Coordinate `json:"coordinate,omitempty"`
	StartCoordinate *Coordinate `json:"start_coordinate,omitempty"`
	Text            string      `json:"text,omitempty"`
	Duration        int         `json:"duration,omitempty"`
	ScrollDirection string      `json:"scroll_direction,omitempty"`
	ScrollAmount    int         `json:"scroll_amount,omitempty"`
}

// ToolCall is the tagged union of a shell command and a desktop action.
type ToolCall struct {
	Tool    ToolKind `json:"tool"`
	Command string   `json:"command,omitempty"`
	Action  *Action  `json:"action,omitempty"`
}

// Kind returns the counter key for this tool call: "bash" for shell commands,
// the action type for desktop actions.
func (tc *ToolCall) Kind() string {
	if tc.Tool == ToolBash {
		return string(ToolBash)
	}
	if tc.Action != nil {
		return string(tc.Action.Type)
	}
	return ""
}

// ActionKinds lists every counter key in a fixed order: bash first, then the
// desktop actions.
var ActionKinds = []string{
	string(ToolBash),
	string(ActionScreenshot),
	string(ActionLeftClick),
	string(ActionRightClick),
	string(ActionDoubleClick),
	string(ActionMouseMove),
	string(ActionTypeText),
	string(ActionKey),
	string(ActionWait),
	string(ActionScroll),
	string(ActionLeftClickDrag),
}

// actionArgs is the wire shape of computer-tool arguments: the tag arrives
// under "action", the remaining fields ride alongside it.
type actionArgs struct {
	Action          ActionType  `json:"action"`
	Coordinate      *Coordinate `json:"coordinate,omitempty"`
	StartCoordinate *Coordinate `json:"start_coordinate,omitempty"`
	Text            string      `json:"text,omitempty"`
	Duration        int         `json:"duration,omitempty"`
	ScrollDirection string      `json:"scroll_direction,omitempty"`
	ScrollAmount    int         `json:"scroll_amount,omitempty"`
}

// ParseAction validates raw tool arguments against the closed action set.
// Unknown tags and missing required fields are errors.
func ParseAction(args json.RawMessage) (*Action, error) {
	var wire actionArgs
	if err := json.Unmarshal(args, &wire); err != nil {
		return nil, fmt.Errorf("parse action args: %w", err)
	}

	action := Action{
		Type:            wire.Action,
		Coordinate:      wire.Coordinate,
		StartCoordinate: wire.StartCoordinate,
		Text:            wire.Text,
		Duration:        wire.Duration,
		ScrollDirection: wire.ScrollDirection,
		ScrollAmount:    wire.ScrollAmount,
	}

	switch action.Type {
	case ActionScreenshot:
	case ActionLeftClick, ActionRightClick, ActionDoubleClick, ActionMouseMove:
		if action.Coordinate == nil {
			return nil, fmt.Errorf("action %q requires coordinate", action.Type)
		}
	case ActionTypeText, ActionKey:
		if action.Text == "" {
			return nil, fmt.Errorf("action %q requires text", action.Type)
		}
	case ActionWait:
		if action.Duration <= 0 {
			return nil, fmt.Errorf("action %q requires a positive duration", action.Type)
		}
	case ActionScroll:
		if action.ScrollDirection == "" {
			return nil, fmt.Errorf("action %q requires scroll_direction", action.Type)
		}
	case ActionLeftClickDrag:
		if action.StartCoordinate == nil || action.Coordinate == nil {
			return nil, fmt.Errorf("action %q requires start_coordinate and coordinate", action.Type)
		}
	default:
		return nil, fmt.Errorf("unknown action type: %q", action.Type)
	}

	return &action, nil
}

// ParseToolCall derives a ToolCall from an invocation's tool name and raw
// arguments. The name "bash" selects the shell shape; any other name is a
// desktop action whose args must carry a valid action tag.
func ParseToolCall(toolName string, args json.RawMessage) (*ToolCall, error) {
	if toolName == string(ToolBash) {
		var params struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("parse bash args: %w", err)
		}
		return &ToolCall{Tool: ToolBash, Command: params.Command}, nil
	}

	action, err := ParseAction(args)
	if err != nil {
		return nil, err
	}
	return &ToolCall{Tool: ToolComputer, Action: action}, nil
}
