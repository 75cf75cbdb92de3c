package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/corpus/internal/store"
)

// Result summarizes one scan pass.
type Result struct {
	Seen       int // regular files visited
	Discovered int // new rows inserted (first sight or content change)
	Unchanged  int
	Skipped    int // non-text files and unreadable entries
}

// Scanner discovers corpus files and records them in the state store.
type Scanner struct {
	store       *store.Store
	conventions Conventions
	logger      *slog.Logger
}

// New creates a Scanner.
func New(st *store.Store, conventions Conventions, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if len(conventions.Levels) == 0 {
		conventions = DefaultConventions
	}
	return &Scanner{store: st, conventions: conventions, logger: logger}
}

// textExtensions are the file types the corpus admits.
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".rst": true, ".text": true,
}

// Scan walks root recursively. For each regular text file: hash contents,
// extract path-convention metadata, and upsert as untracked. A content
// change marks the old row stale and inserts a superseding row.
func (s *Scanner) Scan(ctx context.Context, root string) (Result, error) {
	var res Result

	root, err := filepath.Abs(root)
	if err != nil {
		return res, fmt.Errorf("scan: resolve root: %w", err)
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("scan: walk %s: %w", path, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !textExtensions[strings.ToLower(filepath.Ext(path))] {
			res.Skipped++
			return nil
		}
		res.Seen++

		hash, err := hashFile(path)
		if err != nil {
			s.logger.Warn("unreadable file skipped", "path", path, "error", err)
			res.Skipped++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("scan: stat %s: %w", path, err)
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("scan: rel %s: %w", path, err)
		}
		metadata, err := s.conventions.Extract(rel)
		if err != nil {
			return err
		}

		inserted, err := s.store.DiscoverOrUpdate(ctx, path, hash, info.ModTime().Unix(), metadata)
		if err != nil {
			return fmt.Errorf("scan: record %s: %w", path, err)
		}
		if inserted {
			res.Discovered++
			s.logger.Debug("discovered", "path", path, "hash", hash[:12])
		} else {
			res.Unchanged++
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	s.logger.Info("scan complete",
		"seen", res.Seen, "discovered", res.Discovered,
		"unchanged", res.Unchanged, "skipped", res.Skipped)
	return res, nil
}

// hashFile computes the hex SHA-256 of a file's contents.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
