// Package lifecycle defines the finite-state machine governing one file's
// journey from discovery to indexed (or failed).
//
// The machine is a validator and a coordinator of side-effect phases, not the
// state owner: the durable store is. Machine instances are ephemeral - built
// from a state value read fresh from the database, used for exactly one
// transition, and discarded. In-memory state is a cache; after any database
// failure the caller re-reads from the store and builds a new machine.
//
// The state graph is a DAG with explicit failure sinks:
//
//	untracked -> uploading -> processing -> indexed
//	                 |             |
//	                 v             v
//	               failed        failed
//
// Terminal states (indexed, failed) have no outgoing edges; recovery from
// failed is an administrative action, not an automated transition.
package lifecycle
