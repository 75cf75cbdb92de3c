// Package transition bridges the lifecycle FSM and the durable store.
//
// Every state change flows through Manager.Transition: acquire the per-file
// lock, read (state, version) fresh, build an ephemeral machine, trigger the
// event, and let the state-entry hook perform the single guarded OCC update.
// Outcomes classify what happened by phase so workers can decide whether to
// retry, skip, or escalate.
//
// The per-file lock is held across suspension points (DB reads, the guarded
// write). This is intentional: it makes the common same-file race lock-free
// at the database and keeps the log clean; OCC remains the correctness
// backstop for anything the lock cannot see.
package transition
