package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowed_LegalEdges(t *testing.T) {
	tests := []struct {
		state State
		event Event
		want  bool
	}{
		{StateUntracked, EventStartUpload, true},
		{StateUploading, EventUploadComplete, true},
		{StateUploading, EventFailUpload, true},
		{StateProcessing, EventProcessingComplete, true},
		{StateProcessing, EventFailProcessing, true},

		// Skipping states is never legal.
		{StateUntracked, EventUploadComplete, false},
		{StateUntracked, EventProcessingComplete, false},
		{StateUploading, EventProcessingComplete, false},

		// Terminal states have no outgoing edges.
		{StateIndexed, EventStartUpload, false},
		{StateIndexed, EventProcessingComplete, false},
		{StateFailed, EventStartUpload, false},
		{StateFailed, EventFailUpload, false},

		// Fail events only fire from their matching phase.
		{StateUntracked, EventFailUpload, false},
		{StateUploading, EventFailProcessing, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Allowed(tt.state, tt.event),
			"Allowed(%s, %s)", tt.state, tt.event)
	}
}

func TestTarget(t *testing.T) {
	to, ok := Target(StateUntracked, EventStartUpload)
	assert.True(t, ok)
	assert.Equal(t, StateUploading, to)

	_, ok = Target(StateIndexed, EventStartUpload)
	assert.False(t, ok)
}

func TestTerminal(t *testing.T) {
	assert.True(t, StateIndexed.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateUntracked.Terminal())
	assert.False(t, StateUploading.Terminal())
	assert.False(t, StateProcessing.Terminal())
}

func TestValid(t *testing.T) {
	for _, st := range States {
		assert.True(t, st.Valid(), "state %s", st)
	}
	assert.False(t, State("uploaded").Valid())
	assert.False(t, State("").Valid())
}

func TestLegalEdge(t *testing.T) {
	assert.True(t, LegalEdge(StateUntracked, StateUploading))
	assert.True(t, LegalEdge(StateProcessing, StateFailed))
	assert.False(t, LegalEdge(StateUntracked, StateIndexed))
	assert.False(t, LegalEdge(StateIndexed, StateUntracked))
}
