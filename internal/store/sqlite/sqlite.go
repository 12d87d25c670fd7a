package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/wirechat-rendezvous/internal/store"
)

// Schema is applied by New. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	client_id  TEXT NOT NULL UNIQUE,
	peer_addr  TEXT NOT NULL DEFAULT '',
	opened_at  DATETIME NOT NULL,
	closed_at  DATETIME
);

CREATE TABLE IF NOT EXISTS calls (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	client_a   TEXT NOT NULL,
	client_b   TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	ended_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sessions_opened ON sessions(opened_at DESC);
CREATE INDEX IF NOT EXISTS idx_calls_open ON calls(client_a, client_b, ended_at);
`

// SQLiteStore implements store.History for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup opens the database and runs setup before the first ping.
// Tests use it with ":memory:" and the same Schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; ":memory:" requires it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== SessionStore implementation ====

// OpenSession records a newly registered client.
func (s *SQLiteStore) OpenSession(ctx context.Context, clientID uuid.UUID, peerAddr string, at time.Time) error {
	query := `
		INSERT INTO sessions (client_id, peer_addr, opened_at)
		VALUES (?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, clientID.String(), peerAddr, at.UTC()); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// CloseSession marks the client's session as finished.
func (s *SQLiteStore) CloseSession(ctx context.Context, clientID uuid.UUID, at time.Time) error {
	query := `
		UPDATE sessions
		SET closed_at = ?
		WHERE client_id = ? AND closed_at IS NULL
	`
	result, err := s.db.ExecContext(ctx, query, at.UTC(), clientID.String())
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("open session for %s not found", clientID)
	}
	return nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*store.Session, error) {
	query := `
		SELECT id, client_id, peer_addr, opened_at, closed_at
		FROM sessions
		ORDER BY opened_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*store.Session
	for rows.Next() {
		var (
			sess     store.Session
			clientID string
			closedAt sql.NullTime
		)
		if err := rows.Scan(&sess.ID, &clientID, &sess.PeerAddr, &sess.OpenedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if sess.ClientID, err = uuid.Parse(clientID); err != nil {
			return nil, fmt.Errorf("parse client id %q: %w", clientID, err)
		}
		if closedAt.Valid {
			t := closedAt.Time
			sess.ClosedAt = &t
		}
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// ==== CallStore implementation ====

// StartCall records the start of a call between a and b.
func (s *SQLiteStore) StartCall(ctx context.Context, a, b uuid.UUID, at time.Time) error {
	query := `
		INSERT INTO calls (client_a, client_b, started_at)
		VALUES (?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, a.String(), b.String(), at.UTC()); err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

// EndCall closes the open call between a and b, in either order.
func (s *SQLiteStore) EndCall(ctx context.Context, a, b uuid.UUID, at time.Time) error {
	query := `
		UPDATE calls
		SET ended_at = ?
		WHERE ended_at IS NULL
		  AND ((client_a = ? AND client_b = ?) OR (client_a = ? AND client_b = ?))
	`
	result, err := s.db.ExecContext(ctx, query, at.UTC(), a.String(), b.String(), b.String(), a.String())
	if err != nil {
		return fmt.Errorf("end call: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("open call between %s and %s not found", a, b)
	}
	return nil
}

// ListCalls returns the most recent calls, newest first.
func (s *SQLiteStore) ListCalls(ctx context.Context, limit int) ([]*store.Call, error) {
	query := `
		SELECT id, client_a, client_b, started_at, ended_at
		FROM calls
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var calls []*store.Call
	for rows.Next() {
		var (
			call    store.Call
			a, b    string
			endedAt sql.NullTime
		)
		if err := rows.Scan(&call.ID, &a, &b, &call.StartedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		if call.ClientA, err = uuid.Parse(a); err != nil {
			return nil, fmt.Errorf("parse client id %q: %w", a, err)
		}
		if call.ClientB, err = uuid.Parse(b); err != nil {
			return nil, fmt.Errorf("parse client id %q: %w", b, err)
		}
		if endedAt.Valid {
			t := endedAt.Time
			call.EndedAt = &t
		}
		calls = append(calls, &call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}

	return calls, nil
}

var _ store.History = (*SQLiteStore)(nil)
