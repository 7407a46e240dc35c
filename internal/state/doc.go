// Package state provides the session store and the in-memory event log.
package state

import "github.com/user/deskpilot/internal/types"

// Compile-time interface compliance checks.
var _ types.SessionStore = (*SessionStore)(nil)
var _ types.EventLog = (*EventLog)(nil)
