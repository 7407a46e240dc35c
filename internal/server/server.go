// internal/server/server.go
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/user/deskpilot/internal/app"
	"github.com/user/deskpilot/internal/prune"
	"github.com/user/deskpilot/internal/types"
)

// Server is the HTTP presentation surface over the app controller.
type Server struct {
	app    *app.App
	pruner *prune.Pruner
	mux    *http.ServeMux
}

// NewServer creates a Server routing to the given app. pruner may be nil,
// in which case message history is served unredacted.
func NewServer(a *app.App, pruner *prune.Pruner) *Server {
	s := &Server{
		app:    a,
		pruner: pruner,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("POST /api/sessions/{id}/switch", s.handleSwitchSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/messages", s.handleGetMessages)
	s.mux.HandleFunc("POST /api/messages", s.handleMessages)
	s.mux.HandleFunc("POST /api/abort", s.handleAbort)
	s.mux.HandleFunc("POST /api/desktop/connect", s.handleConnectDesktop)
	s.mux.HandleFunc("POST /api/kill-desktop", s.handleKillDesktop)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sessionResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	SandboxID string `json:"sandbox_id,omitempty"`
	Messages  int    `json:"message_count"`
	Events    int64  `json:"event_count"`
}

type sessionsResponse struct {
	Sessions        []sessionResponse `json:"sessions"`
	ActiveSessionID string            `json:"active_session_id,omitempty"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessions, err := s.app.Sessions().List(ctx)
	if err != nil {
		slog.Error("list sessions failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	resp := sessionsResponse{Sessions: make([]sessionResponse, 0, len(sessions))}
	for _, sess := range sessions {
		count, err := s.app.Events().Count(ctx, sess.ID)
		if err != nil {
			slog.Warn("count events failed", "session_id", string(sess.ID), "error", err)
		}
		resp.Sessions = append(resp.Sessions, sessionResponse{
			ID:        string(sess.ID),
			Name:      sess.Name,
			CreatedAt: sess.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			UpdatedAt: sess.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
			SandboxID: string(sess.SandboxID),
			Messages:  len(sess.Messages),
			Events:    count,
		})
	}
	if active, err := s.app.Sessions().Active(ctx); err == nil && active != nil {
		resp.ActiveSessionID = string(active.ID)
	}

	writeJSON(w, http.StatusOK, resp)
}

type createSessionRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	// Body is optional; an empty name gets a default.
	json.NewDecoder(r.Body).Decode(&req)

	session, err := s.app.Sessions().Create(r.Context(), req.Name)
	if err != nil {
		slog.Error("create session failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		ID:        string(session.ID),
		Name:      session.Name,
		CreatedAt: session.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt: session.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (s *Server) handleSwitchSession(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(r.PathValue("id"))
	if err := s.app.Sessions().Switch(r.Context(), id); err != nil {
		slog.Error("switch session failed", "session_id", string(id), "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(r.PathValue("id"))
	if err := s.app.DeleteSession(r.Context(), id); err != nil {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.app.DerivedState(r.Context())
	if err != nil {
		slog.Error("derive state failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, err := s.app.Sessions().Active(ctx)
	if err != nil {
		slog.Error("resolve active session failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if session == nil {
		writeJSON(w, http.StatusOK, []*types.ToolCallEvent{})
		return
	}

	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.app.Events().List(ctx, session.ID, limit)
	if err != nil {
		slog.Error("list events failed", "session_id", string(session.ID), "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []*types.ToolCallEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleGetMessages returns the active session's history in the form the
// chat runtime should send to the model: screenshot tool results are
// replaced with a redaction marker and the token savings are reported.
func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	session, err := s.app.Sessions().Active(r.Context())
	if err != nil {
		slog.Error("resolve active session failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if session == nil {
		writeJSON(w, http.StatusOK, map[string]any{"messages": []types.Message{}, "tokens_saved": 0})
		return
	}

	messages := session.Messages
	saved := 0
	if s.pruner != nil {
		messages, saved = s.pruner.Messages(messages)
	}
	if messages == nil {
		messages = []types.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages, "tokens_saved": saved})
}

// messagesRequest is the stream update push: the full message array for the
// active session, plus the chat runtime's thinking flag.
type messagesRequest struct {
	Messages []types.Message `json:"messages"`
	Thinking bool            `json:"thinking"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req messagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if session, err := s.app.Sessions().Active(ctx); err == nil && session != nil {
		s.app.SetThinking(session.ID, req.Thinking)
	}

	if err := s.app.HandleStreamUpdate(ctx, req.Messages); err != nil {
		if errors.Is(err, app.ErrNoActiveSession) {
			http.Error(w, `{"error":"no active session"}`, http.StatusConflict)
			return
		}
		// Queue saturation or shutdown: the runtime should retry, not
		// recreate a session.
		slog.Error("stream update failed", "error", err)
		http.Error(w, `{"error":"stream update not accepted"}`, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Abort(r.Context()); err != nil {
		slog.Error("abort failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

func (s *Server) handleConnectDesktop(w http.ResponseWriter, r *http.Request) {
	desktop, err := s.app.ConnectDesktop(r.Context())
	if err != nil {
		http.Error(w, `{"error":"desktop provisioning failed"}`, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"stream_url": desktop.StreamURL,
		"sandbox_id": string(desktop.SandboxID),
	})
}

func (s *Server) handleKillDesktop(w http.ResponseWriter, r *http.Request) {
	sandboxID := types.SandboxID(r.URL.Query().Get("sandboxId"))
	if sandboxID == "" {
		http.Error(w, `{"error":"sandboxId is required"}`, http.StatusBadRequest)
		return
	}
	s.app.KillDesktop(r.Context(), sandboxID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
