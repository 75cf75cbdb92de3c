package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitError_MessageAndUnwrap(t *testing.T) {
	plain := NewExitError(ExitCommandError, "config not found")
	assert.Equal(t, "config not found", plain.Error())
	assert.Nil(t, plain.Unwrap())

	inner := errors.New("disk full")
	wrapped := WrapExitError(ExitFailure, "ingestion failed", inner)
	assert.Equal(t, "ingestion failed: disk full", wrapped.Error())
	assert.ErrorIs(t, wrapped, inner)
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"command error", NewExitError(ExitCommandError, "bad flag"), ExitCommandError},
		{"failure", NewExitError(ExitFailure, "halted"), ExitFailure},
		{"wrapped deep", fmt.Errorf("outer: %w", NewExitError(ExitCommandError, "inner")), ExitCommandError},
		{"plain error defaults to failure", errors.New("anything"), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestFormatter_SuccessJSON(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}

	require.NoError(t, f.Success(map[string]any{"discovered": 4}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 4, data["discovered"])
}

func TestFormatter_SuccessfTextIgnoresPayload(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf}

	require.NoError(t, f.Successf(map[string]any{"n": 3}, "ingested %d files", 3))
	assert.Equal(t, "ingested 3 files\n", buf.String())
}

func TestFormatter_SuccessfJSONPrefersPayload(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}

	require.NoError(t, f.Successf(map[string]any{"n": 3}, "ingested %d files", 3))
	assert.NotContains(t, buf.String(), "ingested", "text template must not leak into JSON output")

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestFormatter_ErrorJSON(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}

	require.NoError(t, f.Error(ErrCodeGlossary, "duplicate term", "term: perception"))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeGlossary, resp.Error.Code)
	assert.Equal(t, "duplicate term", resp.Error.Message)
}

func TestFormatter_ErrorTextShowsDetailsOnlyVerbose(t *testing.T) {
	var quiet bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &quiet}
	require.NoError(t, f.Error(ErrCodeScan, "corpus dir missing", "stat /x: no such file"))
	assert.Equal(t, "Error [E004]: corpus dir missing\n", quiet.String())

	var verbose bytes.Buffer
	f = &OutputFormatter{Format: "text", Writer: &verbose, Verbose: true}
	require.NoError(t, f.Error(ErrCodeScan, "corpus dir missing", "stat /x: no such file"))
	assert.Contains(t, verbose.String(), "Details: stat /x: no such file")
}

func TestFormatter_VerboseLogRouting(t *testing.T) {
	var out, errw bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &out, ErrWriter: &errw, Verbose: true}

	f.VerboseLog("resolved %d sessions", 2)
	assert.Empty(t, out.String(), "diagnostics must not corrupt the JSON stream")
	assert.Equal(t, "resolved 2 sessions\n", errw.String())

	f.Verbose = false
	errw.Reset()
	f.VerboseLog("silenced")
	assert.Empty(t, errw.String())
}
