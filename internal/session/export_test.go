package session

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestExport_ActiveSessionTranscript(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Start(ctx, "axioms")
	require.NoError(t, err)
	_, err = m.Note(ctx, "existence exists")
	require.NoError(t, err)
	_, err = m.Note(ctx, "consciousness is conscious of something")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.Export(ctx, "", &buf))

	var tr Transcript
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &tr))

	assert.Equal(t, sess.ID, tr.Session.ID)
	assert.Equal(t, "axioms", tr.Session.Name)
	require.Len(t, tr.Events, 2)
	assert.Equal(t, "note", tr.Events[0].Type)
	assert.Equal(t, "existence exists", tr.Events[0].Payload["text"],
		"payloads export structured, not as JSON strings")
	assert.Less(t, tr.Events[0].ID, tr.Events[1].ID, "log order preserved")
}

func TestExport_ByName(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Start(ctx, "target")
	require.NoError(t, err)
	_, err = m.Start(ctx, "other") // now active
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.Export(ctx, "target", &buf))

	var tr Transcript
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &tr))
	assert.Equal(t, "target", tr.Session.Name)
}

func TestExport_NoActiveSessionErrors(t *testing.T) {
	m, _ := newTestManager(t)

	var buf bytes.Buffer
	err := m.Export(context.Background(), "", &buf)
	assert.ErrorContains(t, err, "no active session")
}

func TestExport_UnknownRefErrors(t *testing.T) {
	m, _ := newTestManager(t)

	var buf bytes.Buffer
	err := m.Export(context.Background(), "missing", &buf)
	assert.Error(t, err)
}
