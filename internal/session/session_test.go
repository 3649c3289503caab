package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/quorum/internal/model"
)

func TestInitCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "session-1")
	_, err := Init(dir, "")
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWriteMetaProducesReadableJSON(t *testing.T) {
	dir := t.TempDir()
	s, err := Init(dir, "")
	require.NoError(t, err)

	meta := Meta{SessionID: "abc", StartedAt: time.Now().UTC(), Input: "question", Profile: "default"}
	require.NoError(t, s.WriteMeta(meta))

	raw, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	require.NoError(t, err)
	var got Meta
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, meta.SessionID, got.SessionID)
	assert.Equal(t, meta.Input, got.Input)
}

func TestWritePhaseWritesNamedFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Init(dir, "")
	require.NoError(t, err)

	out := model.PhaseOutput{Phase: "gather", Responses: map[string]string{"a": "hi"}}
	require.NoError(t, s.WritePhase("01-gather", out))

	_, err = os.Stat(filepath.Join(dir, "01-gather.json"))
	require.NoError(t, err)
}

func TestWriteSynthesisBundlesVotes(t *testing.T) {
	dir := t.TempDir()
	s, err := Init(dir, "")
	require.NoError(t, err)

	synth := model.Synthesis{Content: "final answer", Synthesizer: "a"}
	votes := model.VoteResult{Winner: "a", Method: "borda"}
	require.NoError(t, s.WriteSynthesis(synth, votes))

	raw, err := os.ReadFile(filepath.Join(dir, "synthesis.json"))
	require.NoError(t, err)
	var got synthesisRecord
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "final answer", got.Synthesis.Content)
	assert.Equal(t, "a", got.Votes.Winner)
}

func TestAppendIndexAccumulatesRows(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "index.ndjson")
	s, err := Init(t.TempDir(), indexPath)
	require.NoError(t, err)

	require.NoError(t, s.AppendIndex(IndexRow{SessionID: "s1", Profile: "default"}))
	require.NoError(t, s.AppendIndex(IndexRow{SessionID: "s2", Profile: "default"}))

	raw, err := os.ReadFile(indexPath)
	require.NoError(t, err)
	rows, err := decodeIndexRows(raw)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "s1", rows[0].SessionID)
	assert.Equal(t, "s2", rows[1].SessionID)
}

func TestAppendIndexNoopWhenPathEmpty(t *testing.T) {
	s, err := Init(t.TempDir(), "")
	require.NoError(t, err)
	assert.NoError(t, s.AppendIndex(IndexRow{SessionID: "s1"}))
}

func TestWriteArtifactWritesArbitraryNamedDocument(t *testing.T) {
	dir := t.TempDir()
	s, err := Init(dir, "")
	require.NoError(t, err)

	require.NoError(t, s.WriteArtifact("topology-plan.json", map[string]string{"topology": "mesh"}))

	raw, err := os.ReadFile(filepath.Join(dir, "topology-plan.json"))
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "mesh", got["topology"])
}
