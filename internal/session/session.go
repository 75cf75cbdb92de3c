// Package session manages research sessions: creation, the active-session
// marker, note taking, and transcript export. The event log itself lives in
// the store; this package owns which session commands write to.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/corpus/internal/store"
)

// EnvActiveSession overrides the marker file when set. It holds a session
// id and is never written by this package.
const EnvActiveSession = "CORPUS_SESSION"

const markerName = "active_session"

// Manager resolves and mutates the active session.
type Manager struct {
	store *store.Store
	// markerPath is the active-session marker, kept next to the database so
	// concurrent projects don't share one.
	markerPath string
}

// NewManager builds a Manager whose marker lives alongside dbPath.
func NewManager(st *store.Store, dbPath string) *Manager {
	return &Manager{
		store:      st,
		markerPath: filepath.Join(filepath.Dir(dbPath), markerName),
	}
}

// Start creates a named session and makes it active.
func (m *Manager) Start(ctx context.Context, name string) (store.Session, error) {
	if strings.TrimSpace(name) == "" {
		return store.Session{}, fmt.Errorf("session name must not be empty")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return store.Session{}, fmt.Errorf("generate session id: %w", err)
	}
	if err := m.store.CreateSession(ctx, id.String(), name); err != nil {
		return store.Session{}, err
	}
	if err := m.setActive(id.String()); err != nil {
		return store.Session{}, err
	}
	return m.store.ReadSession(ctx, id.String())
}

// Resume makes an existing session active. ref is a session id or a unique
// name.
func (m *Manager) Resume(ctx context.Context, ref string) (store.Session, error) {
	sess, err := m.resolve(ctx, ref)
	if err != nil {
		return store.Session{}, err
	}
	if err := m.setActive(sess.ID); err != nil {
		return store.Session{}, err
	}
	return sess, nil
}

// Active returns the current session id, or "" when none is active.
// The environment override wins over the marker file.
func (m *Manager) Active(ctx context.Context) (string, error) {
	if id := os.Getenv(EnvActiveSession); id != "" {
		if _, err := m.store.ReadSession(ctx, id); err != nil {
			return "", fmt.Errorf("%s: %w", EnvActiveSession, err)
		}
		return id, nil
	}
	raw, err := os.ReadFile(m.markerPath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session marker: %w", err)
	}
	id := strings.TrimSpace(string(raw))
	if id == "" {
		return "", nil
	}
	if _, err := m.store.ReadSession(ctx, id); err != nil {
		// Stale marker, most likely a database reset underneath it.
		return "", nil
	}
	return id, nil
}

// Note appends a free-form note event to the active session.
func (m *Manager) Note(ctx context.Context, text string) (int64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("note text must not be empty")
	}
	id, err := m.Active(ctx)
	if err != nil {
		return 0, err
	}
	if id == "" {
		return 0, fmt.Errorf("no active session; run session start first")
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return 0, fmt.Errorf("encode note: %w", err)
	}
	return m.store.AppendEvent(ctx, id, store.EventNote, string(payload))
}

func (m *Manager) setActive(id string) error {
	tmp := m.markerPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(id+"\n"), 0o644); err != nil {
		return fmt.Errorf("write session marker: %w", err)
	}
	if err := os.Rename(tmp, m.markerPath); err != nil {
		return fmt.Errorf("write session marker: %w", err)
	}
	return nil
}

// resolve maps an id or unique name to a session row.
func (m *Manager) resolve(ctx context.Context, ref string) (store.Session, error) {
	if _, err := uuid.Parse(ref); err == nil {
		return m.store.ReadSession(ctx, ref)
	}
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		return store.Session{}, err
	}
	var hits []store.Session
	for _, s := range sessions {
		if s.Name == ref {
			hits = append(hits, s)
		}
	}
	switch len(hits) {
	case 0:
		return store.Session{}, fmt.Errorf("no session named %q", ref)
	case 1:
		return hits[0], nil
	default:
		return store.Session{}, fmt.Errorf("session name %q is ambiguous (%d matches); use the id", ref, len(hits))
	}
}
