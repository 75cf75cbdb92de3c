package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/corpus/internal/lifecycle"
)

// FileRecord is one discovered file's lifecycle row.
type FileRecord struct {
	Path           string
	ContentHash    string
	MTime          int64
	MetadataJSON   string
	EnrichmentJSON sql.NullString
	State          lifecycle.State
	Version        int64
	UpdatedAt      string
	LastError      sql.NullString
	FailureStage   sql.NullString
	OperationID    sql.NullString
	ExternalFileID sql.NullString
	ExternalStore  sql.NullString
	Stale          bool
}

const fileColumns = `path, content_hash, mtime, metadata_json, enrichment_json,
	state, version, updated_at, last_error, failure_stage,
	operation_id, external_file_id, external_store_id, stale`

func scanFile(row interface{ Scan(...any) error }) (FileRecord, error) {
	var f FileRecord
	err := row.Scan(
		&f.Path, &f.ContentHash, &f.MTime, &f.MetadataJSON, &f.EnrichmentJSON,
		&f.State, &f.Version, &f.UpdatedAt, &f.LastError, &f.FailureStage,
		&f.OperationID, &f.ExternalFileID, &f.ExternalStore, &f.Stale,
	)
	return f, err
}

// DiscoverOrUpdate records a scanned file. Idempotent:
//
//   - unknown path: insert a fresh untracked row
//   - known path, same hash: refresh mtime/metadata only, no state change
//   - known path, changed hash: mark the active row stale and insert a fresh
//     untracked row that supersedes it
//
// Returns true when a new row was inserted (first discovery or supersede).
func (s *Store) DiscoverOrUpdate(ctx context.Context, path, hash string, mtime int64, metadataJSON string) (bool, error) {
	if metadataJSON == "" {
		metadataJSON = "{}"
	}
	now := timestamp()

	var inserted bool
	err := withBusyRetry(ctx, func() error {
		inserted = false
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("discover %s: begin tx: %w", path, err)
		}
		defer tx.Rollback()

		var existingHash string
		var oldFileID sql.NullString
		err = tx.QueryRowContext(ctx,
			`SELECT content_hash, external_file_id FROM files WHERE path = ? AND stale = 0`, path,
		).Scan(&existingHash, &oldFileID)

		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO files (path, content_hash, mtime, metadata_json, state, version, updated_at)
				VALUES (?, ?, ?, ?, ?, 0, ?)
			`, path, hash, mtime, metadataJSON, lifecycle.StateUntracked, now); err != nil {
				return fmt.Errorf("discover %s: insert: %w", path, err)
			}
			inserted = true

		case err != nil:
			return fmt.Errorf("discover %s: read active row: %w", path, err)

		case existingHash == hash:
			if _, err := tx.ExecContext(ctx, `
				UPDATE files SET mtime = ?, metadata_json = ?
				WHERE path = ? AND stale = 0
			`, mtime, metadataJSON, path); err != nil {
				return fmt.Errorf("discover %s: refresh: %w", path, err)
			}

		default:
			// Content changed: supersede. The old row is kept for audit, but
			// its passages must never ground a citation again.
			if _, err := tx.ExecContext(ctx, `
				UPDATE files SET stale = 1, updated_at = ? WHERE path = ? AND stale = 0
			`, now, path); err != nil {
				return fmt.Errorf("discover %s: mark stale: %w", path, err)
			}
			if oldFileID.Valid && oldFileID.String != "" {
				if err := markPassagesStale(ctx, tx, oldFileID.String); err != nil {
					return fmt.Errorf("discover %s: %w", path, err)
				}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO files (path, content_hash, mtime, metadata_json, state, version, updated_at)
				VALUES (?, ?, ?, ?, ?, 0, ?)
			`, path, hash, mtime, metadataJSON, lifecycle.StateUntracked, now); err != nil {
				return fmt.Errorf("discover %s: supersede: %w", path, err)
			}
			inserted = true
		}

		return tx.Commit()
	})
	return inserted, err
}

// ReadState returns the active row's (state, version) for path, read fresh.
func (s *Store) ReadState(ctx context.Context, path string) (lifecycle.State, int64, error) {
	var state lifecycle.State
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT state, version FROM files WHERE path = ? AND stale = 0`, path,
	).Scan(&state, &version)
	if err == sql.ErrNoRows {
		return "", 0, fmt.Errorf("read state: no active row for %s", path)
	}
	if err != nil {
		return "", 0, fmt.Errorf("read state %s: %w", path, err)
	}
	return state, version, nil
}

// ReadFile returns the full active row for path.
func (s *Store) ReadFile(ctx context.Context, path string) (FileRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE path = ? AND stale = 0`, path)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return f, fmt.Errorf("read file: no active row for %s", path)
	}
	if err != nil {
		return f, fmt.Errorf("read file %s: %w", path, err)
	}
	return f, nil
}

// GuardedUpdate executes the single OCC UPDATE for a transition:
//
//	SET state=?, version=version+1, ... WHERE path=? AND stale=0 AND state=? AND version=?
//
// Returns the affected-row count: 1 means this caller won; 0 means the row
// was advanced by someone else (stale). The WHERE clause names both prior
// state and prior version so a buggy caller can never skip states.
func (s *Store) GuardedUpdate(
	ctx context.Context,
	path string,
	expectedState lifecycle.State,
	expectedVersion int64,
	newState lifecycle.State,
	fields lifecycle.Fields,
) (int64, error) {
	if !newState.Valid() {
		return 0, fmt.Errorf("guarded update %s: invalid state %q", path, newState)
	}

	set := []string{"state = ?", "version = version + 1", "updated_at = ?"}
	args := []any{newState, timestamp()}
	if fields.OperationID != nil {
		set = append(set, "operation_id = ?")
		args = append(args, *fields.OperationID)
	}
	if fields.ExternalFileID != nil {
		set = append(set, "external_file_id = ?")
		args = append(args, *fields.ExternalFileID)
	}
	if fields.ExternalStore != nil {
		set = append(set, "external_store_id = ?")
		args = append(args, *fields.ExternalStore)
	}
	if fields.LastError != nil {
		set = append(set, "last_error = ?")
		args = append(args, *fields.LastError)
	}
	if fields.FailureStage != nil {
		set = append(set, "failure_stage = ?")
		args = append(args, *fields.FailureStage)
	}
	args = append(args, path, expectedState, expectedVersion)

	query := `UPDATE files SET ` + strings.Join(set, ", ") +
		` WHERE path = ? AND stale = 0 AND state = ? AND version = ?`

	var affected int64
	err := withBusyRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("guarded update %s: %w", path, err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("guarded update %s: rows affected: %w", path, err)
		}
		return nil
	})
	return affected, err
}

// ListEligible returns up to limit active rows whose state is in states,
// ordered by path for deterministic claiming.
func (s *Store) ListEligible(ctx context.Context, states []lifecycle.State, limit int) ([]FileRecord, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(states))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(states)+1)
	for _, st := range states {
		args = append(args, st)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE stale = 0 AND state IN (`+placeholders+`)
		ORDER BY path ASC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list eligible: %w", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("list eligible: scan: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list eligible: %w", err)
	}
	return out, nil
}

// CountByState returns active-row counts per lifecycle state.
func (s *Store) CountByState(ctx context.Context) (map[lifecycle.State]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM files WHERE stale = 0 GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[lifecycle.State]int)
	for rows.Next() {
		var st lifecycle.State
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("count by state: scan: %w", err)
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// InvariantViolation describes one broken file-row invariant found by audit.
type InvariantViolation struct {
	Path   string
	Detail string
}

// FileInvariants audits every file row against the data-model invariants:
// state in the legal enum, version non-negative, indexed rows carry an
// external file id, failed rows carry last_error and failure_stage.
// Used by the adversarial harness and by tests.
func (s *Store) FileInvariants(ctx context.Context) ([]InvariantViolation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files`)
	if err != nil {
		return nil, fmt.Errorf("file invariants: %w", err)
	}
	defer rows.Close()

	var violations []InvariantViolation
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("file invariants: scan: %w", err)
		}
		if !f.State.Valid() {
			violations = append(violations, InvariantViolation{f.Path, fmt.Sprintf("state %q not in enum", f.State)})
		}
		if f.Version < 0 {
			violations = append(violations, InvariantViolation{f.Path, fmt.Sprintf("negative version %d", f.Version)})
		}
		if f.State == lifecycle.StateIndexed && !f.ExternalFileID.Valid {
			violations = append(violations, InvariantViolation{f.Path, "indexed without external_file_id"})
		}
		if f.State == lifecycle.StateFailed && (!f.LastError.Valid || !f.FailureStage.Valid) {
			violations = append(violations, InvariantViolation{f.Path, "failed without last_error/failure_stage"})
		}
	}
	return violations, rows.Err()
}

// timestamp returns the canonical stored time format (UTC RFC 3339).
// Stored times are informational; all ordering uses version counters and
// autoincrement ids, never timestamps.
func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
