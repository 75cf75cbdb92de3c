package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/corpus/internal/lifecycle"
)

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRoot_Help(t *testing.T) {
	out, err := executeRoot(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "corpus")
	for _, sub := range []string{"scan", "upload", "backfill", "search", "session", "glossary"} {
		assert.Contains(t, out, sub)
	}
}

func TestRoot_RejectsUnknownFormat(t *testing.T) {
	_, err := executeRoot(t, "--format", "xml", "scan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRoot_UnknownFlagIsCommandError(t *testing.T) {
	_, err := executeRoot(t, "--no-such-flag")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_TextErrorsAreCodedOnStderr(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := Run([]string{"--no-such-flag"}, &stdout, &stderr)

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr.String(), "Error [E001]: invalid arguments")
	assert.Empty(t, stdout.String(), "text-mode errors never touch stdout")
}

func TestRun_JSONErrorsAreStructuredOnStdout(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "corpus.cue")
	require.NoError(t, os.WriteFile(cfgPath,
		[]byte(fmt.Sprintf("db_path: %q\n", filepath.Join(dir, "corpus.db"))), 0o644))

	var stdout, stderr bytes.Buffer
	code := Run([]string{"--format", "json", "--config", cfgPath, "glossary", "check"},
		&stdout, &stderr)

	assert.Equal(t, ExitCommandError, code)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &resp),
		"JSON consumers get a machine-readable envelope")
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeGlossary, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "no glossary configured")
}

func TestParseFilters(t *testing.T) {
	filters, err := parseFilters([]string{"course=micro-101", "category=economics"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"course": "micro-101", "category": "economics"}, filters)

	filters, err = parseFilters(nil)
	require.NoError(t, err)
	assert.Nil(t, filters)

	_, err = parseFilters([]string{"notakeyvalue"})
	assert.Error(t, err)

	_, err = parseFilters([]string{"=value"})
	assert.Error(t, err)

	filters, err = parseFilters([]string{"difficulty=a=b"})
	require.NoError(t, err)
	assert.Equal(t, "a=b", filters["difficulty"], "only the first = splits")
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", excerpt("  short  ", 240))

	long := make([]rune, 0, 300)
	for i := 0; i < 300; i++ {
		long = append(long, 'ä') // multi-byte: truncation must respect runes
	}
	got := excerpt(string(long), 240)
	assert.Equal(t, string(long[:240])+"...", got)
}

func TestFormatStateCounts(t *testing.T) {
	counts := map[lifecycle.State]int{
		lifecycle.StateIndexed:   5,
		lifecycle.StateUntracked: 2,
		lifecycle.StateFailed:    1,
	}
	got := formatStateCounts(counts)
	assert.Equal(t, "  untracked: 2\n  indexed: 5\n  failed: 1", got,
		"lifecycle order, empty states skipped")

	assert.Equal(t, "  (no files tracked)", formatStateCounts(nil))
}
