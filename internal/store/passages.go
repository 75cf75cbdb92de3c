package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Passage identity is content-addressed so citations survive re-indexing:
// the same passage text from the same file yields the same id across runs.
// The id is a deterministic UUID over (file_id, sha256(passage_text)) in a
// fixed namespace.
var passageNamespace = uuid.MustParse("8c9d3b52-61f4-4a0d-9a6e-2f1f5f3f7b1e")

// PassageID computes the deterministic identifier for a grounding passage.
func PassageID(fileID, passageText string) string {
	return uuid.NewSHA1(passageNamespace, []byte(fileID+"\x00"+PassageHash(passageText))).String()
}

// PassageHash returns the hex SHA-256 of the passage text.
func PassageHash(passageText string) string {
	h := sha256.Sum256([]byte(passageText))
	return hex.EncodeToString(h[:])
}

// Passage is one stored grounding passage.
type Passage struct {
	PassageID   string
	FileID      string
	ContentHash string
	PassageText string
	Stale       bool
	CreatedAt   string
	LastSeenAt  string
}

// UpsertPassage records a grounding chunk returned by retrieval. On first
// sight the row is inserted; on every later sighting last_seen_at is
// refreshed. Passages are never deleted - a content change for the same
// (file, text) identity cannot occur because the hash is part of the
// identity, so stale marking happens at the file level during re-indexing.
//
// Returns the passage's deterministic id.
func (s *Store) UpsertPassage(ctx context.Context, fileID, passageText string) (string, error) {
	id := PassageID(fileID, passageText)
	hash := PassageHash(passageText)
	now := timestamp()

	err := withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO passages (passage_id, file_id, content_hash, passage_text, created_at, last_seen_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(passage_id) DO UPDATE SET last_seen_at = excluded.last_seen_at
		`, id, fileID, hash, passageText, now, now)
		if err != nil {
			return fmt.Errorf("upsert passage: %w", err)
		}
		return nil
	})
	return id, err
}

// ReadPassage returns the stored passage for id.
func (s *Store) ReadPassage(ctx context.Context, id string) (Passage, error) {
	var p Passage
	var stale int
	err := s.db.QueryRowContext(ctx, `
		SELECT passage_id, file_id, content_hash, passage_text, stale, created_at, last_seen_at
		FROM passages WHERE passage_id = ?
	`, id).Scan(&p.PassageID, &p.FileID, &p.ContentHash, &p.PassageText, &stale, &p.CreatedAt, &p.LastSeenAt)
	if err == sql.ErrNoRows {
		return p, fmt.Errorf("read passage: no row for %s", id)
	}
	if err != nil {
		return p, fmt.Errorf("read passage %s: %w", id, err)
	}
	p.Stale = stale != 0
	return p, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx, so stale marking can run
// inside the supersession transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// MarkPassagesStale flags all passages for a file. Stale passages are kept
// for session replay; garbage collection is deliberately not scheduled.
func (s *Store) MarkPassagesStale(ctx context.Context, fileID string) error {
	return withBusyRetry(ctx, func() error {
		return markPassagesStale(ctx, s.db, fileID)
	})
}

func markPassagesStale(ctx context.Context, db execer, fileID string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE passages SET stale = 1 WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("mark passages stale: %w", err)
	}
	return nil
}
