package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarker_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	in := Marker{
		WrittenAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Reason:    "credit_exhausted",
		Completed: 7,
		Remaining: 12,
		NextPath:  "/corpus/econ/a.txt",
	}
	require.NoError(t, WriteMarker(path, in))

	out, err := ReadMarker(path)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in, *out)

	// The temp file from the atomic write must not linger.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestMarker_AbsentIsNotAnError(t *testing.T) {
	m, err := ReadMarker(filepath.Join(t.TempDir(), "missing.json"))
	assert.NoError(t, err)
	assert.Nil(t, m)
}

func TestMarker_ClearIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, WriteMarker(path, Marker{Reason: "credit_exhausted"}))

	require.NoError(t, ClearMarker(path))
	require.NoError(t, ClearMarker(path), "clearing a missing marker is fine")

	m, err := ReadMarker(path)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestMarker_CorruptFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte("not json{"), 0o644))

	_, err := ReadMarker(path)
	assert.Error(t, err)
}
