package budgeter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitKeepsFullSegmentsUntouched(t *testing.T) {
	segs := []Segment{
		{Name: "system", Text: strings.Repeat("a", 400), Priority: PriorityFull},
		{Name: "history", Text: strings.Repeat("b", 4000), Priority: PriorityTrimmable},
	}
	result := Fit(segs, 200, nil)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, segs[0].Text, result.Segments[0].Text)
	assert.Less(t, len(result.Segments[1].Text), len(segs[1].Text))
}

func TestFitNeverDropsFullSegment(t *testing.T) {
	segs := []Segment{
		{Name: "system", Text: strings.Repeat("a", 4000), Priority: PriorityFull},
		{Name: "history", Text: strings.Repeat("b", 4000), Priority: PriorityTrimmable},
	}
	result := Fit(segs, 10, nil)
	assert.NotEmpty(t, result.Warning)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, segs[0].Text, result.Segments[0].Text)
	assert.Equal(t, segs[1].Text, result.Segments[1].Text)
}

func TestFitUnderBudgetIsNoOp(t *testing.T) {
	segs := []Segment{
		{Name: "a", Text: "short", Priority: PriorityTrimmable},
	}
	result := Fit(segs, 1000, nil)
	assert.Empty(t, result.Warning)
	assert.Equal(t, segs, result.Segments)
}

func TestEstimateTokensHeuristic(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("12345678"))
}
