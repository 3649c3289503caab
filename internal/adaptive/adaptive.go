// Package adaptive measures cross-response entropy between phases and
// decides whether the Engine should skip, continue, or add a debate round
// (spec §4.9).
package adaptive

import (
	"math"
	"strings"
)

// Action is the Engine-facing decision for a completed phase.
type Action string

const (
	ActionContinue          Action = "continue"
	ActionSkipPhases        Action = "skip-phases"
	ActionAddRound          Action = "add-round"
	ActionSkipToSynthesize  Action = "skip-to-synthesize"
)

// Decision is the evaluated outcome for one phase.
type Decision struct {
	Action      Action
	Reason      string
	Entropy     float64
	SkipPhases  []string
}

// Thresholds parameterize when the controller recommends each action.
// Lower entropy means responses converged; the controller rewards
// convergence by skipping ahead, and rewards high disagreement on an
// early phase by asking for another round.
type Thresholds struct {
	SkipEntropy     float64 // below this, skip-to-synthesize
	AddRoundEntropy float64 // above this (on a debate-eligible phase), add-round
}

// Preset thresholds named in spec §4.9.
var Presets = map[string]Thresholds{
	"fast":     {SkipEntropy: 0.35, AddRoundEntropy: 0.9},
	"balanced": {SkipEntropy: 0.2, AddRoundEntropy: 0.75},
	"critical": {SkipEntropy: 0.08, AddRoundEntropy: 0.55},
}

// ThresholdsFor resolves a preset name, defaulting to "balanced" for an
// unknown or empty name.
func ThresholdsFor(preset string) Thresholds {
	if t, ok := Presets[preset]; ok {
		return t
	}
	return Presets["balanced"]
}

const jaccardClusterThreshold = 0.5

// Entropy computes the normalized Shannon entropy over response clusters:
// responses are partitioned into whitespace-tokenized content-bag
// clusters (any pair with Jaccard >= 0.5 joins the same cluster), then
// entropy is computed over cluster weight proportions and normalized by
// log2(numResponses) so the result lies in [0, 1].
func Entropy(responses map[string]string) float64 {
	if len(responses) <= 1 {
		return 0
	}
	bags := make([]map[string]bool, 0, len(responses))
	names := make([]string, 0, len(responses))
	for name := range responses {
		names = append(names, name)
	}
	// Deterministic traversal order regardless of map iteration.
	sortStrings(names)
	for _, name := range names {
		bags = append(bags, tokenize(responses[name]))
	}

	clusterOf := make([]int, len(bags))
	for i := range clusterOf {
		clusterOf[i] = -1
	}
	nextCluster := 0
	for i := range bags {
		if clusterOf[i] != -1 {
			continue
		}
		clusterOf[i] = nextCluster
		for j := i + 1; j < len(bags); j++ {
			if clusterOf[j] != -1 {
				continue
			}
			if jaccard(bags[i], bags[j]) >= jaccardClusterThreshold {
				clusterOf[j] = nextCluster
			}
		}
		nextCluster++
	}

	counts := make(map[int]int)
	for _, c := range clusterOf {
		counts[c]++
	}

	n := float64(len(bags))
	var h float64
	for _, count := range counts {
		p := float64(count) / n
		h -= p * math.Log2(p)
	}

	maxEntropy := math.Log2(n)
	if maxEntropy == 0 {
		return 0
	}
	return h / maxEntropy
}

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:()\"'")
		if w != "" {
			out[w] = true
		}
	}
	return out
}

// ConvergenceSimilarity is the mean pairwise term-Jaccard similarity across
// a phase's responses: the post-ADJUST convergence signal the Engine
// compares against a profile's ConvergenceThreshold to decide whether
// REBUTTAL still has anything to add (spec §4.11 step 5). A single
// response, or no responses, counts as fully converged.
func ConvergenceSimilarity(responses map[string]string) float64 {
	names := make([]string, 0, len(responses))
	for name := range responses {
		names = append(names, name)
	}
	sortStrings(names)
	if len(names) < 2 {
		return 1
	}
	bags := make([]map[string]bool, len(names))
	for i, name := range names {
		bags[i] = tokenize(responses[name])
	}
	var sum float64
	var pairs int
	for i := 0; i < len(bags); i++ {
		for j := i + 1; j < len(bags); j++ {
			sum += jaccard(bags[i], bags[j])
			pairs++
		}
	}
	if pairs == 0 {
		return 1
	}
	return sum / float64(pairs)
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// debateEligiblePhases are the phases add-round may extend.
var debateEligiblePhases = map[string]bool{"DEBATE": true}

// MaxAddRounds is the cap on extra debate rounds the Engine honors.
const MaxAddRounds = 2

// Evaluate inspects one phase's responses and recommends an action. phase
// is the phase name just completed; remainingPhases is the ordered list of
// phases still to run; roundsAdded tracks how many add-round decisions
// have already been honored for this deliberation.
func Evaluate(phase string, responses map[string]string, remainingPhases []string, thresholds Thresholds, roundsAdded int) Decision {
	h := Entropy(responses)

	if h <= thresholds.SkipEntropy && len(remainingPhases) > 0 {
		return Decision{
			Action:  ActionSkipToSynthesize,
			Reason:  "responses converged below the skip-entropy threshold",
			Entropy: h,
		}
	}

	if h >= thresholds.AddRoundEntropy && debateEligiblePhases[phase] && roundsAdded < MaxAddRounds {
		return Decision{
			Action:  ActionAddRound,
			Reason:  "responses disagree sharply; adding another debate round",
			Entropy: h,
		}
	}

	return Decision{Action: ActionContinue, Reason: "entropy within normal range", Entropy: h}
}
