package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a file-backed store in a per-test temp dir.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpen_AppliesPragmas(t *testing.T) {
	st := newTestStore(t)

	assert.NoError(t, st.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, st.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, st.verifyPragma("busy_timeout", "5000"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	st1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, st1.Close())

	st2, err := Open(path)
	require.NoError(t, err)
	defer st2.Close()

	var version int
	require.NoError(t, st2.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_MigratesFromV1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	st, err := Open(path)
	require.NoError(t, err)

	// Rewind to v1 and drop a v2 index to simulate an old database.
	_, err = st.db.Exec("DROP INDEX IF EXISTS idx_session_events_session")
	require.NoError(t, err)
	_, err = st.db.Exec("PRAGMA user_version = 1")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(path)
	require.NoError(t, err)
	defer st.Close()

	var n int
	require.NoError(t, st.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'index' AND name = 'idx_session_events_session'
	`).Scan(&n))
	assert.Equal(t, 1, n, "migration recreates the lookup index")
}

func TestOpen_InMemory(t *testing.T) {
	st, err := Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	_, err = st.db.Exec("SELECT COUNT(*) FROM files")
	assert.NoError(t, err)
}
