package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/quorum/internal/model"
)

func sampleEntry(id, input string) model.LedgerEntry {
	return model.LedgerEntry{
		ID:        id,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Input:     input,
		Profile:   "default",
		Providers: []string{"alpha", "beta"},
		Topology:  "mesh",
		Synthesis: model.Synthesis{Content: "answer", Synthesizer: "alpha", ConsensusScore: 0.9, ConfidenceScore: 0.8},
		Votes:     model.VoteResult{Winner: "alpha", Method: "borda"},
	}
}

func TestAppendSetsHashAndChainsPreviousHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Open(path)
	require.NoError(t, err)

	first, err := l.Append(sampleEntry("s1", "q1"))
	require.NoError(t, err)
	assert.NotEmpty(t, first.Hash)
	assert.Nil(t, first.PreviousHash)

	second, err := l.Append(sampleEntry("s2", "q2"))
	require.NoError(t, err)
	require.NotNil(t, second.PreviousHash)
	assert.Equal(t, first.Hash, *second.PreviousHash)
}

func TestAppendPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Open(path)
	require.NoError(t, err)
	_, err = l.Append(sampleEntry("s1", "q1"))
	require.NoError(t, err)

	reopened, err := Open(path)
	require.NoError(t, err)
	entry, ok := reopened.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "q1", entry.Input)
}

func TestVerifyIntegritySucceedsOnUntamperedChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Open(path)
	require.NoError(t, err)
	_, err = l.Append(sampleEntry("s1", "q1"))
	require.NoError(t, err)
	_, err = l.Append(sampleEntry("s2", "q2"))
	require.NoError(t, err)

	result, err := l.VerifyIntegrity()
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestVerifyIntegrityDetectsTamperedContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Open(path)
	require.NoError(t, err)
	_, err = l.Append(sampleEntry("s1", "q1"))
	require.NoError(t, err)

	l.entries[0].Input = "tampered"

	result, err := l.VerifyIntegrity()
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, "s1", result.BrokenAt)
}

func TestVerifyIntegrityDetectsBrokenLink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Open(path)
	require.NoError(t, err)
	_, err = l.Append(sampleEntry("s1", "q1"))
	require.NoError(t, err)
	_, err = l.Append(sampleEntry("s2", "q2"))
	require.NoError(t, err)

	bogus := "0000000000000000000000000000000000000000000000000000000000000000"
	l.entries[1].PreviousHash = &bogus

	result, err := l.VerifyIntegrity()
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, "s2", result.BrokenAt)
}

func TestGetReturnsLastWhenRequestedByKeywordOrEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Open(path)
	require.NoError(t, err)
	_, err = l.Append(sampleEntry("s1", "q1"))
	require.NoError(t, err)
	_, err = l.Append(sampleEntry("s2", "q2"))
	require.NoError(t, err)

	last, ok := l.Get("last")
	require.True(t, ok)
	assert.Equal(t, "s2", last.ID)

	empty, ok := l.Get("")
	require.True(t, ok)
	assert.Equal(t, "s2", empty.ID)
}

func TestGetReturnsFalseWhenLedgerEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Open(path)
	require.NoError(t, err)
	_, ok := l.Get("last")
	assert.False(t, ok)
}

func TestExportADRIncludesQuestionAndWinner(t *testing.T) {
	entry := sampleEntry("s1", "should we ship it?")
	text := ExportADR(entry)
	assert.Contains(t, text, "should we ship it?")
	assert.Contains(t, text, "alpha")
	assert.Contains(t, text, "borda")
}

func TestReplayAppliesOverridesOnTopOfEntry(t *testing.T) {
	entry := sampleEntry("s1", "q1")
	out := Replay(entry, &ReplayInput{Providers: []string{"gamma"}})
	assert.Equal(t, "q1", out.Input)
	assert.Equal(t, []string{"gamma"}, out.Providers)
	assert.Equal(t, "mesh", out.Topology)
}

func TestReplayWithoutOverridesReconstructsEntry(t *testing.T) {
	entry := sampleEntry("s1", "q1")
	out := Replay(entry, nil)
	assert.Equal(t, entry.Input, out.Input)
	assert.Equal(t, entry.Providers, out.Providers)
	assert.Equal(t, entry.Topology, out.Topology)
	assert.Equal(t, entry.Profile, out.Profile)
}

func TestDiffSynthesisFlagsChangedLines(t *testing.T) {
	diff := DiffSynthesis("line one\nline two", "line one\nline TWO\nline three")
	require.Len(t, diff, 3)
	assert.False(t, diff[0].Changed)
	assert.True(t, diff[1].Changed)
	assert.True(t, diff[2].Changed)
	assert.Equal(t, "", diff[2].Recorded)
	assert.Equal(t, "line three", diff[2].Replayed)
}
