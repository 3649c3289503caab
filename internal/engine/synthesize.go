package engine

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/quorumlabs/quorum/internal/evidence"
	"github.com/quorumlabs/quorum/internal/model"
	"github.com/quorumlabs/quorum/internal/topology"
)

const defaultScore = 0.5

// pickSynthesizer resolves plan.Synthesizer to a concrete provider name.
// "auto" prefers the runner-up (the view most likely to have engaged
// critically with the winner) and falls back to the winner, then to the
// first participant on record.
func pickSynthesizer(plan topology.Plan, votes model.VoteResult, phaseOutputs []model.PhaseOutput) string {
	if plan.Synthesizer != "" && plan.Synthesizer != "auto" {
		return plan.Synthesizer
	}
	if ru := runnerUp(votes); ru != "" {
		return ru
	}
	if votes.Winner != "" {
		return votes.Winner
	}
	for _, out := range phaseOutputs {
		for name := range out.Responses {
			return name
		}
	}
	return ""
}

func buildSynthesisPrompt(input string, votes model.VoteResult, phaseOutputs []model.PhaseOutput) (system, user string) {
	system = "You are synthesizing the final answer from a multi-model deliberation. " +
		"Produce a single authoritative answer, then append a scores block in the exact form:\n" +
		"## Scores\nConsensus: <0-1 float>\nConfidence: <0-1 float>"

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", input)
	if len(phaseOutputs) > 0 {
		last := phaseOutputs[len(phaseOutputs)-1]
		fmt.Fprintf(&b, "Final positions (%s):\n", last.Phase)
		for _, name := range sortedKeys(last.Responses) {
			fmt.Fprintf(&b, "[%s]: %s\n", name, last.Responses[name])
		}
		b.WriteString("\n")
	}
	if len(votes.Rankings) > 0 {
		b.WriteString("Vote tally:\n")
		for _, r := range votes.Rankings {
			fmt.Fprintf(&b, "- %s: %.2f\n", r.Provider, r.Score)
		}
		fmt.Fprintf(&b, "Winner: %s\n", votes.Winner)
	}
	user = b.String()
	return system, user
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var scoresBlockPattern = regexp.MustCompile(`(?is)##\s*Scores\s*\n(.*)$`)
var consensusPattern = regexp.MustCompile(`(?i)Consensus:\s*([0-9]*\.?[0-9]+)`)
var confidencePattern = regexp.MustCompile(`(?i)Confidence:\s*([0-9]*\.?[0-9]+)`)

// parseScores pulls the "## Scores" block's Consensus/Confidence values out
// of a synthesis response, tolerating missing or malformed values by
// defaulting to 0.5, and returns the content with the scores block removed.
func parseScores(text string) (content string, consensus, confidence float64) {
	consensus, confidence = defaultScore, defaultScore
	loc := scoresBlockPattern.FindStringIndex(text)
	content = strings.TrimSpace(text)
	if loc == nil {
		return content, consensus, confidence
	}
	block := text[loc[0]:]
	content = strings.TrimSpace(text[:loc[0]])
	if m := consensusPattern.FindStringSubmatch(block); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			consensus = v
		}
	}
	if m := confidencePattern.FindStringSubmatch(block); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			confidence = v
		}
	}
	return content, consensus, confidence
}

func (e *Engine) synthesize(ctx context.Context, sessionID string, plan topology.Plan, input string, profile *model.AgentProfile, phaseOutputs []model.PhaseOutput, votes model.VoteResult) (model.Synthesis, error) {
	synthesizer := pickSynthesizer(plan, votes, phaseOutputs)
	system, user := buildSynthesisPrompt(input, votes, phaseOutputs)

	var content string
	var consensus, confidence float64 = defaultScore, defaultScore

	if adapter, ok := e.adapterFor(synthesizer); ok {
		budgeted := e.budgetPrompt(adapter.Config(), system, user)
		text, err := e.callWithRetry(ctx, sessionID, "SYNTHESIZE", adapter, budgeted.user, budgeted.system, phaseOutputs)
		if err != nil {
			return model.Synthesis{}, err
		}
		content, consensus, confidence = parseScores(text)
	} else {
		content = fallbackText(synthesizer, phaseOutputs)
	}

	contributions := map[string][]string{}
	if len(phaseOutputs) > 0 {
		last := phaseOutputs[len(phaseOutputs)-1]
		for name, text := range last.Responses {
			contributions[name] = []string{text}
		}
	}

	minority := ""
	if votes.Controversial {
		if ru := runnerUp(votes); ru != "" {
			if last := lastResponseFor(phaseOutputs, ru); last != "" {
				minority = last
			}
		}
	}

	return model.Synthesis{
		Content:         content,
		Synthesizer:     synthesizer,
		ConsensusScore:  consensus,
		ConfidenceScore: confidence,
		Controversial:   votes.Controversial,
		MinorityReport:  minority,
		Contributions:   contributions,
		EvidenceScore:   evidence.Score(content).WeightedScore,
	}, nil
}

func lastResponseFor(phaseOutputs []model.PhaseOutput, participant string) string {
	for i := len(phaseOutputs) - 1; i >= 0; i-- {
		if text, ok := phaseOutputs[i].Responses[participant]; ok {
			return text
		}
	}
	return ""
}
