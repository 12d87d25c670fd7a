package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session is one connection's stay in the presence registry.
type Session struct {
	ID       int64
	ClientID uuid.UUID
	PeerAddr string
	OpenedAt time.Time
	ClosedAt *time.Time // nil while the client is online
}

// Call is a reported peer-to-peer call between two clients.
type Call struct {
	ID        int64
	ClientA   uuid.UUID
	ClientB   uuid.UUID
	StartedAt time.Time
	EndedAt   *time.Time
}

// SessionStore records connection sessions.
type SessionStore interface {
	// OpenSession records a newly registered client.
	OpenSession(ctx context.Context, clientID uuid.UUID, peerAddr string, at time.Time) error

	// CloseSession marks the client's session as finished.
	CloseSession(ctx context.Context, clientID uuid.UUID, at time.Time) error

	// ListSessions returns the most recent sessions, newest first.
	ListSessions(ctx context.Context, limit int) ([]*Session, error)
}

// CallStore records calls reported by clients.
type CallStore interface {
	// StartCall records the start of a call between a and b.
	StartCall(ctx context.Context, a, b uuid.UUID, at time.Time) error

	// EndCall closes the open call between a and b, in either order.
	EndCall(ctx context.Context, a, b uuid.UUID, at time.Time) error

	// ListCalls returns the most recent calls, newest first.
	ListCalls(ctx context.Context, limit int) ([]*Call, error)
}

// History aggregates the interaction history kept next to the registry.
// It is an audit trail only; presence is never restored from it.
type History interface {
	SessionStore
	CallStore

	// Close closes the underlying database connection.
	Close() error
}
