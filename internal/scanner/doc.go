// Package scanner walks the corpus root, hashes file contents, derives
// metadata from the directory hierarchy, and upserts discovered files into
// the state store as untracked.
//
// The scanner never makes network calls and never mutates files. Running it
// twice over an unchanged tree is a no-op: no new rows, no state changes.
package scanner
