// Package testutil holds shared helpers for package tests: a manual clock
// and corpus directory fixtures.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteCorpusFile creates rel (slash-separated) under root with the given
// content, creating parent directories. Returns the absolute path.
func WriteCorpusFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// SeedCorpus lays out a small conventional corpus tree and returns its root.
// The tree exercises the category/course/series metadata levels and episode
// numbering.
func SeedCorpus(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	WriteCorpusFile(t, root, "economics/micro-101/lectures/intro_01.txt", "supply and demand basics")
	WriteCorpusFile(t, root, "economics/micro-101/lectures/intro_02.txt", "elasticity and substitution")
	WriteCorpusFile(t, root, "economics/macro-201/seminars/policy_01.md", "monetary policy overview")
	WriteCorpusFile(t, root, "philosophy/ethics/readings/mill.txt", "utilitarian foundations")
	WriteCorpusFile(t, root, "philosophy/ethics/readings/notes.pdf", "binary, skipped")
	return root
}
