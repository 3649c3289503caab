package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreAssignsTierAForStatutoryMarker(t *testing.T) {
	report := Score("The statute requires annual disclosure of holdings.")
	require.Len(t, report.Claims, 1)
	assert.Equal(t, TierA, report.Claims[0].Tier)
}

func TestScoreAssignsTierCForParentheticalCitation(t *testing.T) {
	report := Score("The filing deadline moved to April (Smith v. State, 2021).")
	require.Len(t, report.Claims, 1)
	assert.Equal(t, TierC, report.Claims[0].Tier)
}

func TestScoreAssignsTierFWhenNoSource(t *testing.T) {
	report := Score("I think this is probably fine overall.")
	require.Len(t, report.Claims, 1)
	assert.Equal(t, TierF, report.Claims[0].Tier)
}

func TestScoreIgnoresQuestions(t *testing.T) {
	report := Score("Is this actually true?")
	assert.Empty(t, report.Claims)
}

func TestScoreComputesEvidenceAndWeightedScore(t *testing.T) {
	text := "The statute requires filing by March. I think this is probably fine overall."
	report := Score(text)
	require.Len(t, report.Claims, 2)
	assert.InDelta(t, 0.5, report.EvidenceScore, 1e-9)
	assert.InDelta(t, 0.5, report.WeightedScore, 1e-9)
}

func TestCrossValidateMarksCorroboratedWhenTwoProvidersAgree(t *testing.T) {
	reports := map[string]Report{
		"a": Score("The filing deadline moved to April under the new statute."),
		"b": Score("Under the new statute the filing deadline moved to April."),
	}
	groups := CrossValidate(reports)
	require.NotEmpty(t, groups)
	var found bool
	for _, g := range groups {
		if len(g.Claims) == 2 {
			found = true
			assert.True(t, g.Corroborated)
		}
	}
	assert.True(t, found, "expected a corroborated group spanning both providers")
}

func TestCrossValidateMarksContradictedOnOpposingPolarity(t *testing.T) {
	reports := map[string]Report{
		"a": Score("The new policy is valid and confirmed by the statute filing."),
		"b": Score("The new policy is not valid per the statute filing review."),
	}
	groups := CrossValidate(reports)
	var found bool
	for _, g := range groups {
		if len(g.Claims) >= 2 {
			found = found || g.Contradicted
		}
	}
	assert.True(t, found, "expected at least one contradicted group")
}

func TestStrictScaleFactorRange(t *testing.T) {
	assert.InDelta(t, 0.5, StrictScaleFactor(0), 1e-9)
	assert.InDelta(t, 1.0, StrictScaleFactor(1), 1e-9)
	assert.InDelta(t, 0.75, StrictScaleFactor(0.5), 1e-9)
}
