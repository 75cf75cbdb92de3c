package lifecycle

// State is a file's lifecycle state. The set is closed and mirrored by a
// CHECK constraint on the files table.
type State string

const (
	StateUntracked  State = "untracked"
	StateUploading  State = "uploading"
	StateProcessing State = "processing"
	StateIndexed    State = "indexed"
	StateFailed     State = "failed"
)

// States lists every legal state, in lifecycle order.
var States = []State{StateUntracked, StateUploading, StateProcessing, StateIndexed, StateFailed}

// Valid reports whether s is a member of the closed state enum.
func (s State) Valid() bool {
	switch s {
	case StateUntracked, StateUploading, StateProcessing, StateIndexed, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether s has no outgoing automated transitions.
func (s State) Terminal() bool {
	return s == StateIndexed || s == StateFailed
}

// Event names a lifecycle transition trigger.
type Event string

const (
	EventStartUpload        Event = "start_upload"
	EventUploadComplete     Event = "upload_complete"
	EventProcessingComplete Event = "processing_complete"
	EventFailUpload         Event = "fail_upload"
	EventFailProcessing     Event = "fail_processing"
)

// edge is one legal (from, to) pair.
type edge struct {
	from State
	to   State
}

// transitions is the complete legal-edge table. Every (state, event) pair
// outside this table raises EventNotAllowedError.
var transitions = map[Event]edge{
	EventStartUpload:        {from: StateUntracked, to: StateUploading},
	EventUploadComplete:     {from: StateUploading, to: StateProcessing},
	EventProcessingComplete: {from: StateProcessing, to: StateIndexed},
	EventFailUpload:         {from: StateUploading, to: StateFailed},
	EventFailProcessing:     {from: StateProcessing, to: StateFailed},
}

// Allowed reports whether event may fire from state.
func Allowed(state State, event Event) bool {
	e, ok := transitions[event]
	return ok && e.from == state
}

// Target returns the destination state for event fired from state.
// The second return is false when the pair is illegal.
func Target(state State, event Event) (State, bool) {
	e, ok := transitions[event]
	if !ok || e.from != state {
		return "", false
	}
	return e.to, true
}

// LegalEdge reports whether (from, to) appears in the transition table.
// Used by the harness to audit committed transitions.
func LegalEdge(from, to State) bool {
	for _, e := range transitions {
		if e.from == from && e.to == to {
			return true
		}
	}
	return false
}
