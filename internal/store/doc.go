// Package store provides SQLite-backed durable storage for the ingestion
// pipeline and the research session log.
//
// The store is the single source of truth for file lifecycle state. FSM
// instances and worker-local caches are ephemeral; after any failure the
// pipeline re-reads state from here.
//
// # Critical Patterns
//
// CP-1: Optimistic Concurrency Control
//   - Every state-changing write is a single guarded UPDATE with
//     WHERE path=? AND stale=0 AND state=? AND version=?
//   - rowcount=0 means another worker advanced the row (stale rejection)
//   - version is strictly monotonic per row
//
// CP-2: Supersede, Never Delete
//   - files has PRIMARY KEY (path, content_hash); a partial unique index on
//     path WHERE stale=0 guarantees exactly one active row per path
//   - content change marks the old row stale and inserts a fresh untracked row
//
// CP-3: Append-Only Session Log
//   - session_events rows are never updated or deleted; ordering is the
//     AUTOINCREMENT id, never timestamps
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//   - _txlock=immediate: write transactions reserve the write lock at BEGIN
//
// Schema initialization is forward-only, keyed on PRAGMA user_version.
package store
