package adaptive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntropyZeroWhenAllResponsesAgree(t *testing.T) {
	responses := map[string]string{
		"a": "the answer is forty two",
		"b": "the answer is forty two",
		"c": "the answer is forty two",
	}
	assert.InDelta(t, 0, Entropy(responses), 1e-9)
}

func TestEntropyZeroOrUndefinedForSingleResponse(t *testing.T) {
	assert.Equal(t, float64(0), Entropy(map[string]string{"a": "only one"}))
}

func TestEntropyHighWhenAllResponsesDisagree(t *testing.T) {
	responses := map[string]string{
		"a": "cats are the best pets for apartments",
		"b": "quantum computing will replace classical chips",
		"c": "the stock market fell sharply today",
	}
	assert.Greater(t, Entropy(responses), 0.9)
}

func TestEntropyMidRangeForPartialAgreement(t *testing.T) {
	responses := map[string]string{
		"a": "remote work improves productivity for most teams",
		"b": "remote work improves productivity for most teams",
		"c": "office work is strictly superior in every case",
	}
	h := Entropy(responses)
	assert.Greater(t, h, 0.0)
	assert.Less(t, h, 1.0)
}

func TestThresholdsForUnknownPresetDefaultsToBalanced(t *testing.T) {
	assert.Equal(t, Presets["balanced"], ThresholdsFor("nonexistent"))
}

func TestEvaluateSkipsToSynthesizeOnLowEntropy(t *testing.T) {
	responses := map[string]string{"a": "same text here", "b": "same text here"}
	d := Evaluate("ADJUST", responses, []string{"REBUTTAL"}, ThresholdsFor("balanced"), 0)
	assert.Equal(t, ActionSkipToSynthesize, d.Action)
}

func TestEvaluateAddsRoundOnHighEntropyDuringDebate(t *testing.T) {
	responses := map[string]string{
		"a": "cats are wonderful apartment pets",
		"b": "quantum supremacy changes everything",
	}
	d := Evaluate("DEBATE", responses, []string{"ADJUST"}, ThresholdsFor("balanced"), 0)
	assert.Equal(t, ActionAddRound, d.Action)
}

func TestEvaluateRespectsAddRoundCap(t *testing.T) {
	responses := map[string]string{
		"a": "cats are wonderful apartment pets",
		"b": "quantum supremacy changes everything",
	}
	d := Evaluate("DEBATE", responses, []string{"ADJUST"}, ThresholdsFor("balanced"), MaxAddRounds)
	assert.NotEqual(t, ActionAddRound, d.Action)
}

func TestEvaluateContinuesOutsideThresholds(t *testing.T) {
	responses := map[string]string{
		"a": "remote work improves productivity for most teams today",
		"b": "office work is strictly superior in every measured case",
	}
	d := Evaluate("GATHER", responses, []string{"PLAN"}, ThresholdsFor("balanced"), 0)
	assert.Equal(t, ActionContinue, d.Action)
}

func TestConvergenceSimilarityIsOneForIdenticalResponses(t *testing.T) {
	responses := map[string]string{"a": "the answer is forty two", "b": "the answer is forty two"}
	assert.InDelta(t, 1.0, ConvergenceSimilarity(responses), 1e-9)
}

func TestConvergenceSimilarityIsLowForDisjointResponses(t *testing.T) {
	responses := map[string]string{
		"a": "cats are the best pets for apartments",
		"b": "quantum computing will replace classical chips",
	}
	assert.Less(t, ConvergenceSimilarity(responses), 0.5)
}

func TestConvergenceSimilarityIsOneForASingleResponse(t *testing.T) {
	assert.Equal(t, float64(1), ConvergenceSimilarity(map[string]string{"a": "only one"}))
}
