package store

import (
	"context"
	"database/sql"
	"fmt"
)

// EventType is a session event's kind. The set is closed and mirrored by a
// CHECK constraint on session_events.
type EventType string

const (
	EventSearch     EventType = "search"
	EventView       EventType = "view"
	EventSynthesize EventType = "synthesize"
	EventNote       EventType = "note"
	EventError      EventType = "error"
)

// Session is one research session.
type Session struct {
	ID        string
	Name      string
	CreatedAt string
	UpdatedAt string
}

// SessionEvent is one append-only log entry. ID is the total order within
// and across sessions.
type SessionEvent struct {
	ID          int64
	SessionID   string
	EventType   EventType
	PayloadJSON string
	CreatedAt   string
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, id, name string) error {
	now := timestamp()
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (id, name, created_at, updated_at)
			VALUES (?, ?, ?, ?)
		`, id, name, now, now)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})
}

// ReadSession returns the session row for id.
func (s *Store) ReadSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at FROM sessions WHERE id = ?
	`, id).Scan(&sess.ID, &sess.Name, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return sess, fmt.Errorf("read session: no row for %s", id)
	}
	if err != nil {
		return sess, fmt.Errorf("read session %s: %w", id, err)
	}
	return sess, nil
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at, updated_at FROM sessions
		ORDER BY updated_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list sessions: scan: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// AppendEvent appends one event to a session's log. The insert trigger
// advances sessions.updated_at. Events are never mutated after insert.
// Returns the monotonic event id.
func (s *Store) AppendEvent(ctx context.Context, sessionID string, eventType EventType, payloadJSON string) (int64, error) {
	if payloadJSON == "" {
		payloadJSON = "{}"
	}
	var id int64
	err := withBusyRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO session_events (session_id, event_type, payload_json, created_at)
			VALUES (?, ?, ?, ?)
		`, sessionID, eventType, payloadJSON, timestamp())
		if err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("append event: last insert id: %w", err)
		}
		return nil
	})
	return id, err
}

// ListEvents returns a session's events in insertion order.
func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]SessionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, event_type, payload_json, created_at
		FROM session_events WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []SessionEvent
	for rows.Next() {
		var ev SessionEvent
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.EventType, &ev.PayloadJSON, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("list events: scan: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
