package memory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/quorum/internal/model"
)

func TestPutThenOpenRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Put(model.MemoryNode{SessionID: "s1", Input: "is remote work more productive", Winner: "alpha"}))

	reopened, err := Open(path)
	require.NoError(t, err)
	matches := reopened.Retrieve("is remote work more productive", nil, 5, 0)
	require.Len(t, matches, 1)
	assert.Equal(t, "s1", matches[0].Node.SessionID)
}

func TestOpenOnMissingFileStartsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, s.Retrieve("anything", nil, 5, 0))
}

func TestRetrieveRanksBySimilarityDescending(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "memory.json"))
	require.NoError(t, err)

	require.NoError(t, s.Put(model.MemoryNode{SessionID: "close", Input: "should the city raise the minimum wage"}))
	require.NoError(t, s.Put(model.MemoryNode{SessionID: "far", Input: "what is the best pizza topping"}))

	matches := s.Retrieve("should the city raise the minimum wage this year", nil, 5, 0)
	require.NotEmpty(t, matches)
	assert.Equal(t, "close", matches[0].Node.SessionID)
}

func TestRetrieveRespectsTopK(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "memory.json"))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put(model.MemoryNode{SessionID: string(rune('a' + i)), Input: "minimum wage policy debate"}))
	}
	matches := s.Retrieve("minimum wage policy debate", nil, 2, 0)
	assert.Len(t, matches, 2)
}

func TestDetectContradictionsFlagsOpposingPolarity(t *testing.T) {
	priors := []model.MemoryNode{
		{SessionID: "p1", Input: "remote work does not improve productivity", Winner: "beta"},
	}
	out := DetectContradictions("remote work improves productivity across teams", priors)
	require.Len(t, out, 1)
	assert.Equal(t, "p1", out[0].SessionID)
}

func TestDetectContradictionsSkipsUnrelatedPriors(t *testing.T) {
	priors := []model.MemoryNode{
		{SessionID: "p1", Input: "best pizza topping is pepperoni", Winner: "beta"},
	}
	out := DetectContradictions("remote work improves productivity across teams", priors)
	assert.Empty(t, out)
}
