package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/user/deskpilot/internal/app"
	"github.com/user/deskpilot/internal/prune"
	"github.com/user/deskpilot/internal/state"
	"github.com/user/deskpilot/internal/types"
)

type fakeDesktop struct {
	connectErr error
	terminated []types.SandboxID
}

func (f *fakeDesktop) ConnectOrCreate(_ context.Context, sandboxID types.SandboxID) (*types.Desktop, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	if sandboxID == "" {
		sandboxID = "sb-new"
	}
	return &types.Desktop{StreamURL: "https://stream/" + string(sandboxID), SandboxID: sandboxID}, nil
}

func (f *fakeDesktop) Terminate(_ context.Context, sandboxID types.SandboxID) error {
	f.terminated = append(f.terminated, sandboxID)
	return nil
}

func setupServer(t *testing.T) (*Server, *app.App, *fakeDesktop) {
	t.Helper()
	desktop := &fakeDesktop{}
	a := app.New(state.NewSessionStore(t.TempDir()), state.NewEventLog(), desktop, nil, 2)
	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	t.Cleanup(func() {
		cancel()
		a.Stop()
	})
	pruner, err := prune.New()
	if err != nil {
		t.Fatal(err)
	}
	return NewServer(a, pruner), a, desktop
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func messagesBody(t *testing.T, toolCallID, command string) string {
	t.Helper()
	args, _ := json.Marshal(map[string]string{"command": command})
	msgs := []types.Message{{
		Role: types.RoleAssistant,
		Parts: []types.Part{{
			Type: types.PartToolInvocation,
			ToolInvocation: &types.ToolInvocation{
				ToolCallID: toolCallID,
				ToolName:   "bash",
				Args:       args,
				State:      types.InvocationCall,
			},
		}},
	}}
	data, err := json.Marshal(map[string]any{"messages": msgs})
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := setupServer(t)

	w := doJSON(t, srv, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestCreateAndListSessions(t *testing.T) {
	srv, _, _ := setupServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/sessions", `{"name":"research"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var created map[string]any
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created["name"] != "research" {
		t.Errorf("expected name research, got %v", created["name"])
	}

	w = doJSON(t, srv, http.MethodGet, "/api/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list struct {
		Sessions        []map[string]any `json:"sessions"`
		ActiveSessionID string           `json:"active_session_id"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(list.Sessions))
	}
	if list.ActiveSessionID != created["id"] {
		t.Errorf("expected active %v, got %v", created["id"], list.ActiveSessionID)
	}
}

func TestCreateSessionDefaultName(t *testing.T) {
	srv, _, _ := setupServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/sessions", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var created map[string]any
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created["name"] != "Session 1" {
		t.Errorf("expected default name Session 1, got %v", created["name"])
	}
}

func TestSwitchSession(t *testing.T) {
	srv, a, _ := setupServer(t)
	ctx := context.Background()

	first, _ := a.Sessions().Create(ctx, "first")
	a.Sessions().Create(ctx, "second")

	w := doJSON(t, srv, http.MethodPost, "/api/sessions/"+string(first.ID)+"/switch", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	active, _ := a.Sessions().Active(ctx)
	if active.ID != first.ID {
		t.Errorf("expected active %s, got %s", first.ID, active.ID)
	}
}

func TestDeleteSession(t *testing.T) {
	srv, a, _ := setupServer(t)
	ctx := context.Background()

	session, _ := a.Sessions().Create(ctx, "doomed")

	w := doJSON(t, srv, http.MethodDelete, "/api/sessions/"+string(session.ID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	sessions, _ := a.Sessions().List(ctx)
	if len(sessions) != 0 {
		t.Errorf("expected no sessions, got %d", len(sessions))
	}
}

func TestDeleteUnknownSession(t *testing.T) {
	srv, _, _ := setupServer(t)

	w := doJSON(t, srv, http.MethodDelete, "/api/sessions/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestMessagesPushReconciles(t *testing.T) {
	srv, a, _ := setupServer(t)
	ctx := context.Background()

	session, _ := a.Sessions().Create(ctx, "")

	w := doJSON(t, srv, http.MethodPost, "/api/messages", messagesBody(t, "call_1", "ls"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	a.Queue().WaitIdle(2 * time.Second)

	count, _ := a.Events().Count(ctx, session.ID)
	if count != 1 {
		t.Fatalf("expected 1 event, got %d", count)
	}

	w = doJSON(t, srv, http.MethodGet, "/api/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var derived types.DerivedState
	if err := json.NewDecoder(w.Body).Decode(&derived); err != nil {
		t.Fatal(err)
	}
	if derived.AgentStatus != types.AgentExecuting {
		t.Errorf("expected executing, got %s", derived.AgentStatus)
	}
}

func TestMessagesPushNoActiveSession(t *testing.T) {
	srv, _, _ := setupServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/messages", messagesBody(t, "call_1", "ls"))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestMessagesPushAfterShutdown(t *testing.T) {
	srv, a, _ := setupServer(t)
	ctx := context.Background()

	if _, err := a.Sessions().Create(ctx, ""); err != nil {
		t.Fatal(err)
	}
	a.Stop()

	// The queue is gone but the session still exists: the runtime should be
	// told to retry, not to recreate the session.
	w := doJSON(t, srv, http.MethodPost, "/api/messages", messagesBody(t, "call_1", "ls"))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestMessagesPushInvalidJSON(t *testing.T) {
	srv, _, _ := setupServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/messages", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, a, _ := setupServer(t)
	ctx := context.Background()

	a.Sessions().Create(ctx, "")
	doJSON(t, srv, http.MethodPost, "/api/messages", messagesBody(t, "call_1", "ls"))
	a.Queue().WaitIdle(2 * time.Second)

	w := doJSON(t, srv, http.MethodGet, "/api/events?limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var events []*types.ToolCallEvent
	if err := json.NewDecoder(w.Body).Decode(&events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Status != types.StatusRunning {
		t.Errorf("expected running, got %s", events[0].Status)
	}
}

func TestEventsEndpointNoSession(t *testing.T) {
	srv, _, _ := setupServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/events", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var events []*types.ToolCallEvent
	if err := json.NewDecoder(w.Body).Decode(&events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("expected empty event list, got %d", len(events))
	}
}

func TestGetMessagesRedactsScreenshots(t *testing.T) {
	srv, a, _ := setupServer(t)
	ctx := context.Background()

	a.Sessions().Create(ctx, "")

	args, _ := json.Marshal(map[string]string{"action": "screenshot"})
	result, _ := json.Marshal(map[string]string{"type": "image", "data": strings.Repeat("iVBORw0KGgo", 200)})
	history := []types.Message{
		{
			Role: types.RoleAssistant,
			Parts: []types.Part{{
				Type: types.PartToolInvocation,
				ToolInvocation: &types.ToolInvocation{
					ToolCallID: "call_1",
					ToolName:   "computer",
					Args:       args,
					State:      types.InvocationResult,
					Result:     result,
				},
			}},
		},
		{Role: types.RoleUser, Parts: []types.Part{{Type: types.PartText, Text: "what do you see?"}}},
	}
	body, _ := json.Marshal(map[string]any{"messages": history})
	doJSON(t, srv, http.MethodPost, "/api/messages", string(body))
	a.Queue().WaitIdle(2 * time.Second)

	w := doJSON(t, srv, http.MethodGet, "/api/messages", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Messages    []types.Message `json:"messages"`
		TokensSaved int             `json:"tokens_saved"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(resp.Messages))
	}
	pruned := resp.Messages[0].Parts[0].ToolInvocation.Result
	if !strings.Contains(string(pruned), prune.RedactedText) {
		t.Errorf("expected redacted result, got %s", pruned)
	}
	if resp.TokensSaved <= 0 {
		t.Errorf("expected positive token savings, got %d", resp.TokensSaved)
	}
}

func TestGetMessagesNoSession(t *testing.T) {
	srv, _, _ := setupServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/messages", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Messages []types.Message `json:"messages"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Messages) != 0 {
		t.Errorf("expected empty history, got %d messages", len(resp.Messages))
	}
}

func TestAbortEndpoint(t *testing.T) {
	srv, a, _ := setupServer(t)
	ctx := context.Background()

	session, _ := a.Sessions().Create(ctx, "")
	doJSON(t, srv, http.MethodPost, "/api/messages", messagesBody(t, "call_1", "sleep 60"))
	a.Queue().WaitIdle(2 * time.Second)

	w := doJSON(t, srv, http.MethodPost, "/api/abort", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	events, _ := a.Events().List(ctx, session.ID, 0)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Status != types.StatusAborted {
		t.Errorf("expected aborted, got %s", events[0].Status)
	}
}

func TestConnectDesktopEndpoint(t *testing.T) {
	srv, a, _ := setupServer(t)
	ctx := context.Background()

	a.Sessions().Create(ctx, "")

	w := doJSON(t, srv, http.MethodPost, "/api/desktop/connect", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["sandbox_id"] != "sb-new" {
		t.Errorf("expected sandbox sb-new, got %s", resp["sandbox_id"])
	}
	if resp["stream_url"] == "" {
		t.Error("expected a stream URL")
	}
}

func TestConnectDesktopFailure(t *testing.T) {
	srv, a, desktop := setupServer(t)
	ctx := context.Background()

	a.Sessions().Create(ctx, "")
	desktop.connectErr = fmt.Errorf("quota exceeded")

	w := doJSON(t, srv, http.MethodPost, "/api/desktop/connect", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestKillDesktopEndpoint(t *testing.T) {
	srv, _, desktop := setupServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/kill-desktop?sandboxId=sb-7", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(desktop.terminated) != 1 || desktop.terminated[0] != "sb-7" {
		t.Errorf("expected sb-7 terminated, got %v", desktop.terminated)
	}

	w = doJSON(t, srv, http.MethodPost, "/api/kill-desktop", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without sandboxId, got %d", w.Code)
	}
}
