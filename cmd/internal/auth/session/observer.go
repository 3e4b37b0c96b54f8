package session

import (
	"context"
	"time"
)

// EventKind names a session lifecycle transition.
type EventKind string

const (
	EventRegistered    EventKind = "session.registered"
	EventLogin         EventKind = "session.login"
	EventLoginFailed   EventKind = "session.login_failed"
	EventRefresh       EventKind = "session.refresh"
	EventRefreshDenied EventKind = "session.refresh_denied"
	EventReuseDetected EventKind = "session.reuse_detected"
	EventReuseRevoked  EventKind = "session.reuse_revoked"
	EventLogout        EventKind = "session.logout"
)

// Revokes reports whether k ends the user's current session. A detected
// reuse only does when the slot was actually cleared (EventReuseRevoked).
func (k EventKind) Revokes() bool {
	return k == EventLogout || k == EventReuseRevoked
}

// Event is delivered to observers after a transition has been persisted.
// UserID is empty for failures that never resolved a user.
type Event struct {
	Kind   EventKind
	UserID string
	At     time.Time
}

// Observer receives session events. Implementations must not block.
type Observer interface {
	ObserveSession(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) ObserveSession(ctx context.Context, ev Event) { f(ctx, ev) }
