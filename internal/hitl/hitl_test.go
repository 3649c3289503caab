package hitl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopHandlerAlwaysContinues(t *testing.T) {
	var h Handler = NoopHandler{}
	d, err := h.HandleCheckpoint(Checkpoint{Kind: KindPhaseComplete})
	require.NoError(t, err)
	assert.Equal(t, ActionContinue, d.Action)
}

func TestAbortErrorMentionsCheckpointKind(t *testing.T) {
	err := &AbortError{Checkpoint: Checkpoint{Kind: KindOnControversy}}
	assert.Contains(t, err.Error(), string(KindOnControversy))
}
