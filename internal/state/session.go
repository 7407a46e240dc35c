// internal/state/session.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/deskpilot/internal/types"
)

// storeFile is the fixed name of the persisted record. It holds the sessions
// and the active-session pointer; the event log is deliberately excluded.
const storeFile = "store.json"

// storeRecord is the on-disk layout.
type storeRecord struct {
	Sessions        []*types.ChatSession `json:"sessions"`
	ActiveSessionID types.SessionID      `json:"active_session_id,omitempty"`
}

// SessionStore is a JSON-file-backed session store. It owns the ChatSession
// records and the active-session pointer; both survive process restarts.
type SessionStore struct {
	root string
	mu   sync.RWMutex
}

// NewSessionStore creates a file-backed SessionStore rooted at the given
// directory.
func NewSessionStore(root string) *SessionStore {
	return &SessionStore{root: root}
}

func (s *SessionStore) storePath() string {
	return filepath.Join(s.root, storeFile)
}

// load reads the store record. A missing file is an empty store.
func (s *SessionStore) load() (*storeRecord, error) {
	data, err := os.ReadFile(s.storePath())
	if err != nil {
		if os.IsNotExist(err) {
			return &storeRecord{}, nil
		}
		return nil, fmt.Errorf("read session store: %w", err)
	}

	var record storeRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshal session store: %w", err)
	}
	return &record, nil
}

// save marshals with indentation and writes atomically via tmp+rename.
func (s *SessionStore) save(record *storeRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session store: %w", err)
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	tmp := s.storePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := os.Rename(tmp, s.storePath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp store: %w", err)
	}
	return nil
}

// Create adds a new session with an empty message history and no sandbox,
// makes it active, and returns it. An empty name defaults to "Session N".
func (s *SessionStore) Create(_ context.Context, name string) (*types.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.load()
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = fmt.Sprintf("Session %d", len(record.Sessions)+1)
	}

	now := time.Now()
	session := &types.ChatSession{
		ID:        types.NewSessionID(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []types.Message{},
	}

	record.Sessions = append(record.Sessions, session)
	record.ActiveSessionID = session.ID

	if err := s.save(record); err != nil {
		return nil, err
	}
	return session, nil
}

// Switch makes the given session active. Unknown IDs are a no-op.
func (s *SessionStore) Switch(_ context.Context, id types.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.load()
	if err != nil {
		return err
	}

	for _, session := range record.Sessions {
		if session.ID == id {
			record.ActiveSessionID = id
			return s.save(record)
		}
	}
	return nil
}

// Delete removes the session. If it was active, the first remaining session
// becomes active, or none if the store is now empty.
func (s *SessionStore) Delete(_ context.Context, id types.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.load()
	if err != nil {
		return err
	}

	remaining := record.Sessions[:0]
	found := false
	for _, session := range record.Sessions {
		if session.ID == id {
			found = true
			continue
		}
		remaining = append(remaining, session)
	}
	if !found {
		return fmt.Errorf("session not found: %s", id)
	}
	record.Sessions = remaining

	if record.ActiveSessionID == id {
		if len(record.Sessions) > 0 {
			record.ActiveSessionID = record.Sessions[0].ID
		} else {
			record.ActiveSessionID = ""
		}
	}

	return s.save(record)
}

// Active returns the active session, or nil if there is none.
func (s *SessionStore) Active(_ context.Context) (*types.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, err := s.load()
	if err != nil {
		return nil, err
	}

	if record.ActiveSessionID == "" {
		return nil, nil
	}
	for _, session := range record.Sessions {
		if session.ID == record.ActiveSessionID {
			return session, nil
		}
	}
	return nil, nil
}

// List returns all sessions in store order.
func (s *SessionStore) List(_ context.Context) ([]*types.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, err := s.load()
	if err != nil {
		return nil, err
	}
	if record.Sessions == nil {
		return []*types.ChatSession{}, nil
	}
	return record.Sessions, nil
}

// UpdateMessages replaces the active session's message history and bumps
// UpdatedAt. A no-op when no session is active.
func (s *SessionStore) UpdateMessages(_ context.Context, messages []types.Message) error {
	return s.mutateActive(func(session *types.ChatSession) {
		session.Messages = messages
	})
}

// UpdateSandboxID attaches the remote-desktop identity to the active session
// and bumps UpdatedAt. A no-op when no session is active.
func (s *SessionStore) UpdateSandboxID(_ context.Context, sandboxID types.SandboxID) error {
	return s.mutateActive(func(session *types.ChatSession) {
		session.SandboxID = sandboxID
	})
}

func (s *SessionStore) mutateActive(fn func(*types.ChatSession)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.load()
	if err != nil {
		return err
	}
	if record.ActiveSessionID == "" {
		return nil
	}

	for _, session := range record.Sessions {
		if session.ID == record.ActiveSessionID {
			fn(session)
			session.UpdatedAt = time.Now()
			return s.save(record)
		}
	}
	return nil
}
