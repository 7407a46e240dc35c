// internal/types/toolcall_test.go
package types

import (
	"encoding/json"
	"testing"
)

func TestParseToolCallBash(t *testing.T) {
	tc, err := ParseToolCall("bash", json.RawMessage(`{"command":"ls -la"}`))
	if err != nil {
		t.Fatal(err)
	}
	if tc.Tool != ToolBash {
		t.Errorf("expected bash, got %s", tc.Tool)
	}
	if tc.Command != "ls -la" {
		t.Errorf("expected 'ls -la', got %q", tc.Command)
	}
	if tc.Kind() != "bash" {
		t.Errorf("expected kind bash, got %q", tc.Kind())
	}
}

func TestParseToolCallComputerClick(t *testing.T) {
	tc, err := ParseToolCall("computer", json.RawMessage(`{"action":"left_click","coordinate":[10,20]}`))
	if err != nil {
		t.Fatal(err)
	}
	if tc.Tool != ToolComputer {
		t.Errorf("expected computer, got %s", tc.Tool)
	}
	if tc.Action.Type != ActionLeftClick {
		t.Errorf("expected left_click, got %s", tc.Action.Type)
	}
	if tc.Action.Coordinate == nil || tc.Action.Coordinate[0] != 10 || tc.Action.Coordinate[1] != 20 {
		t.Errorf("expected coordinate [10,20], got %v", tc.Action.Coordinate)
	}
	if tc.Kind() != "left_click" {
		t.Errorf("expected kind left_click, got %q", tc.Kind())
	}
}

func TestParseActionUnknownTag(t *testing.T) {
	_, err := ParseAction(json.RawMessage(`{"action":"teleport"}`))
	if err == nil {
		t.Fatal("expected error for unknown action tag")
	}
}

func TestParseActionMissingCoordinate(t *testing.T) {
	_, err := ParseAction(json.RawMessage(`{"action":"double_click"}`))
	if err == nil {
		t.Fatal("expected error for missing coordinate")
	}
}

func TestParseActionDrag(t *testing.T) {
	action, err := ParseAction(json.RawMessage(`{"action":"left_click_drag","start_coordinate":[1,2],"coordinate":[3,4]}`))
	if err != nil {
		t.Fatal(err)
	}
	if action.StartCoordinate == nil || action.StartCoordinate[0] != 1 {
		t.Errorf("expected start_coordinate [1,2], got %v", action.StartCoordinate)
	}
}

func TestParseActionScroll(t *testing.T) {
	action, err := ParseAction(json.RawMessage(`{"action":"scroll","coordinate":[5,5],"scroll_direction":"down","scroll_amount":3}`))
	if err != nil {
		t.Fatal(err)
	}
	if action.ScrollDirection != "down" {
		t.Errorf("expected down, got %q", action.ScrollDirection)
	}
	if action.ScrollAmount != 3 {
		t.Errorf("expected 3, got %d", action.ScrollAmount)
	}
}

func TestActionKindsCoversStatuses(t *testing.T) {
	if len(ActionKinds) != 11 {
		t.Errorf("expected 11 action kinds, got %d", len(ActionKinds))
	}
	if ActionKinds[0] != "bash" {
		t.Errorf("expected bash first, got %s", ActionKinds[0])
	}
}

func TestEventSerialization(t *testing.T) {
	dur := int64(150)
	event := ToolCallEvent{
		ID:         NewEventID(),
		ToolCallID: "call_1",
		ToolCall:   &ToolCall{Tool: ToolBash, Command: "echo hi"},
		Status:     StatusSuccess,
		Duration:   &dur,
		Result:     json.RawMessage(`"hi"`),
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}

	var decoded ToolCallEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	if decoded.Status != StatusSuccess {
		t.Errorf("expected status success, got %s", decoded.Status)
	}
	if decoded.Duration == nil || *decoded.Duration != 150 {
		t.Errorf("expected duration 150, got %v", decoded.Duration)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []EventStatus{StatusSuccess, StatusError, StatusAborted} {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []EventStatus{StatusPending, StatusRunning} {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestResultString(t *testing.T) {
	ti := &ToolInvocation{Result: json.RawMessage(`"User aborted"`)}
	s, ok := ti.ResultString()
	if !ok || s != AbortedSentinel {
		t.Errorf("expected sentinel, got %q ok=%v", s, ok)
	}

	ti = &ToolInvocation{Result: json.RawMessage(`{"type":"text"}`)}
	if _, ok := ti.ResultString(); ok {
		t.Error("expected non-string result to report false")
	}
}
