package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/roach88/corpus/internal/store"
)

// Transcript is the exported shape of one session's event log.
type Transcript struct {
	Session TranscriptSession `yaml:"session"`
	Events  []TranscriptEvent `yaml:"events"`
}

type TranscriptSession struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	CreatedAt string `yaml:"created_at"`
	UpdatedAt string `yaml:"updated_at"`
}

type TranscriptEvent struct {
	ID        int64          `yaml:"id"`
	Type      string         `yaml:"type"`
	CreatedAt string         `yaml:"created_at"`
	Payload   map[string]any `yaml:"payload,omitempty"`
}

// Export writes a session's full transcript as YAML. ref is a session id
// or unique name; empty means the active session.
func (m *Manager) Export(ctx context.Context, ref string, w io.Writer) error {
	var sess store.Session
	var err error
	if ref == "" {
		id, err := m.Active(ctx)
		if err != nil {
			return err
		}
		if id == "" {
			return fmt.Errorf("no active session and no session given")
		}
		ref = id
	}
	sess, err = m.resolve(ctx, ref)
	if err != nil {
		return err
	}

	events, err := m.store.ListEvents(ctx, sess.ID)
	if err != nil {
		return err
	}

	tr := Transcript{
		Session: TranscriptSession{
			ID:        sess.ID,
			Name:      sess.Name,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
		},
	}
	for _, ev := range events {
		out := TranscriptEvent{
			ID:        ev.ID,
			Type:      string(ev.EventType),
			CreatedAt: ev.CreatedAt,
		}
		// Payloads are stored as JSON; surface them structured rather than
		// as an opaque string.
		var payload map[string]any
		if err := json.Unmarshal([]byte(ev.PayloadJSON), &payload); err == nil {
			out.Payload = payload
		} else {
			out.Payload = map[string]any{"raw": ev.PayloadJSON}
		}
		tr.Events = append(tr.Events, out)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(tr); err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	return enc.Close()
}
