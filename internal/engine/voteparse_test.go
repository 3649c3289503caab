package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLetterForAssignsSequentialLettersThenDoubles(t *testing.T) {
	assert.Equal(t, "A", letterFor(0))
	assert.Equal(t, "Z", letterFor(25))
	assert.Equal(t, "AA", letterFor(26))
	assert.Equal(t, "AB", letterFor(27))
}

func TestParseBallotJSONBlockMapsLettersBackToProviders(t *testing.T) {
	providers := []string{"alpha", "beta", "gamma"}
	text := `Here is my ranking:
{"rankings":[{"position":"B","rank":1,"reason":"clear"},{"position":"A","rank":2},{"position":"C","rank":3}]}`

	ballot, ok := ParseBallot("alpha", text, providers)
	require.True(t, ok)
	assert.Equal(t, "alpha", ballot.Voter)
	require.Len(t, ballot.Rankings, 3)
	assert.Equal(t, "beta", ballot.Rankings[0].Provider)
	assert.Equal(t, 1, ballot.Rankings[0].Rank)
	assert.Equal(t, "alpha", ballot.Rankings[1].Provider)
	assert.Equal(t, "gamma", ballot.Rankings[2].Provider)
}

func TestParseBallotJSONBlockDropsUnknownPositions(t *testing.T) {
	providers := []string{"alpha", "beta"}
	text := `{"rankings":[{"position":"Z","rank":1},{"position":"A","rank":2}]}`

	ballot, ok := ParseBallot("alpha", text, providers)
	require.True(t, ok)
	require.Len(t, ballot.Rankings, 1)
	assert.Equal(t, "alpha", ballot.Rankings[0].Provider)
}

func TestParseBallotNumberedListFallsBackWhenNoJSON(t *testing.T) {
	providers := []string{"alpha", "beta", "gamma"}
	text := "My ranking:\n1. beta did best\n2) alpha was solid\n3. gamma missed the mark"

	ballot, ok := ParseBallot("alpha", text, providers)
	require.True(t, ok)
	require.Len(t, ballot.Rankings, 3)
	assert.Equal(t, "beta", ballot.Rankings[0].Provider)
	assert.Equal(t, 1, ballot.Rankings[0].Rank)
	assert.Equal(t, "alpha", ballot.Rankings[1].Provider)
	assert.Equal(t, "gamma", ballot.Rankings[2].Provider)
}

func TestParseBallotNumberedListUsesLettersWhenNamesAbsent(t *testing.T) {
	providers := []string{"alpha", "beta"}
	text := "1. B\n2. A"

	ballot, ok := ParseBallot("alpha", text, providers)
	require.True(t, ok)
	require.Len(t, ballot.Rankings, 2)
	assert.Equal(t, "beta", ballot.Rankings[0].Provider)
	assert.Equal(t, "alpha", ballot.Rankings[1].Provider)
}

func TestParseBallotKeywordHeuristicRanksWinnerFirst(t *testing.T) {
	providers := []string{"alpha", "beta", "gamma"}
	text := "After reviewing all answers, the best: beta captures it most precisely."

	ballot, ok := ParseBallot("alpha", text, providers)
	require.True(t, ok)
	require.Len(t, ballot.Rankings, 3)
	assert.Equal(t, "beta", ballot.Rankings[0].Provider)
	assert.Equal(t, 1, ballot.Rankings[0].Rank)
	// remaining providers ranked alphabetically after the winner.
	assert.Equal(t, "alpha", ballot.Rankings[1].Provider)
	assert.Equal(t, "gamma", ballot.Rankings[2].Provider)
}

func TestParseBallotReturnsFalseWhenNothingMatches(t *testing.T) {
	providers := []string{"alpha", "beta"}
	_, ok := ParseBallot("alpha", "I have no opinion on this matter.", providers)
	assert.False(t, ok)
}

func TestParseBallotsSkipsMissingVotersAndCollectsUnparseable(t *testing.T) {
	providers := []string{"alpha", "beta", "gamma"}
	responses := map[string]string{
		"alpha": `{"rankings":[{"position":"A","rank":1},{"position":"B","rank":2}]}`,
		"beta":  "no clear signal here",
	}

	ballots, unparseable := ParseBallots(responses, providers)
	require.Len(t, ballots, 1)
	assert.Equal(t, "alpha", ballots[0].Voter)
	assert.Equal(t, []string{"beta"}, unparseable)
}
