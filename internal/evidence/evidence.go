// Package evidence extracts claims and source citations from free-text
// provider responses, scores source-tier coverage, and cross-validates
// claims across providers (spec §4.6).
package evidence

import (
	"regexp"
	"sort"
	"strings"
)

// Tier is a source-quality grade, A (statutory/primary) down to F (none).
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
	TierD Tier = "D"
	TierF Tier = "F"
)

var tierWeight = map[Tier]float64{
	TierA: 1.0,
	TierB: 0.75,
	TierC: 0.5,
	TierD: 0.25,
	TierF: 0.0,
}

// Claim is one extracted declarative sentence plus its assigned tier.
type Claim struct {
	Text      string
	Tier      Tier
	stem      string
	hasSource bool
}

// Report is the per-response scoring result.
type Report struct {
	Claims         []Claim
	EvidenceScore  float64
	WeightedScore  float64
}

var sentenceSplit = regexp.MustCompile(`(?m)((?:[^.!?\n(]|\([^)\n]*\)|\()+[.!?])`)
var parenCitation = regexp.MustCompile(`\([^)]{3,120}\)\s*[.!?]?\s*$`)
var namedSourceLine = regexp.MustCompile(`(?i)^\s*(source|per|according to)\s*:`)

var primaryMarkers = []string{"statute", "regulation", "U.S.C.", "C.F.R.", "official record", "primary source"}
var secondaryMarkers = []string{"court ruling", "case law", "peer-reviewed", "published study"}
var tertiaryMarkers = []string{"news report", "article", "blog", "wikipedia"}

// Score extracts claims from text and assigns each a source tier.
func Score(text string) Report {
	claims := extractClaims(text)
	if len(claims) == 0 {
		return Report{}
	}

	var supported int
	var weightedSum float64
	for i := range claims {
		claims[i].Tier = classifyTier(claims[i])
		if claims[i].Tier != TierF {
			supported++
		}
		weightedSum += tierWeight[claims[i].Tier]
	}

	return Report{
		Claims:        claims,
		EvidenceScore: float64(supported) / float64(len(claims)),
		WeightedScore: weightedSum / float64(len(claims)),
	}
}

func extractClaims(text string) []Claim {
	var claims []Claim
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		sentences := sentenceSplit.FindAllString(trimmed, -1)
		if len(sentences) == 0 {
			sentences = []string{trimmed}
		}
		for _, s := range sentences {
			s = strings.TrimSpace(s)
			if s == "" || !looksDeclarative(s) {
				continue
			}
			claims = append(claims, Claim{
				Text:      s,
				stem:      stem(s),
				hasSource: parenCitation.MatchString(s) || namedSourceLine.MatchString(line),
			})
		}
	}
	return claims
}

// looksDeclarative rejects questions (a trailing '?') and fragments of
// fewer than three whitespace-delimited words; no verb check is made.
func looksDeclarative(s string) bool {
	if strings.HasSuffix(s, "?") {
		return false
	}
	return len(strings.Fields(s)) >= 3
}

func classifyTier(c Claim) Tier {
	lower := strings.ToLower(c.Text)
	switch {
	case containsAny(lower, primaryMarkers):
		return TierA
	case containsAny(lower, secondaryMarkers):
		return TierB
	case c.hasSource:
		return TierC
	case containsAny(lower, tertiaryMarkers):
		return TierD
	default:
		return TierF
	}
}

func containsAny(haystack string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(haystack, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// stem lower-cases and drops short stop-word-like tokens, giving a coarse
// bag used for cross-provider similarity.
func stem(s string) string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:()\"'")
		if len(w) <= 2 {
			continue
		}
		words = append(words, w)
	}
	sort.Strings(words)
	return strings.Join(words, " ")
}

// Group is a cluster of semantically similar claims across providers.
type Group struct {
	Claims        []ProviderClaim
	Corroborated  bool
	Contradicted  bool
	BestSourceTier Tier
}

// ProviderClaim attributes a claim to the provider that made it.
type ProviderClaim struct {
	Provider string
	Claim    Claim
}

const stemSimilarityThreshold = 0.5

var positiveMarkers = []string{"is", "does", "will", "can", "true", "valid", "confirmed"}
var negativeMarkers = []string{"is not", "does not", "won't", "cannot", "false", "invalid", "refuted", "no "}

// CrossValidate groups claims from multiple providers' reports by stem
// overlap and flags corroboration/contradiction within each group.
func CrossValidate(reports map[string]Report) []Group {
	var all []ProviderClaim
	for provider, r := range reports {
		for _, c := range r.Claims {
			all = append(all, ProviderClaim{Provider: provider, Claim: c})
		}
	}
	// Deterministic order: sort by provider then claim text before
	// clustering, so grouping doesn't depend on map iteration order.
	sort.Slice(all, func(i, j int) bool {
		if all[i].Provider != all[j].Provider {
			return all[i].Provider < all[j].Provider
		}
		return all[i].Claim.Text < all[j].Claim.Text
	})

	var groups []Group
	used := make([]bool, len(all))
	for i := range all {
		if used[i] {
			continue
		}
		group := Group{Claims: []ProviderClaim{all[i]}}
		used[i] = true
		for j := i + 1; j < len(all); j++ {
			if used[j] {
				continue
			}
			if jaccardStems(all[i].Claim.stem, all[j].Claim.stem) >= stemSimilarityThreshold {
				group.Claims = append(group.Claims, all[j])
				used[j] = true
			}
		}
		finalizeGroup(&group)
		groups = append(groups, group)
	}
	return groups
}

func jaccardStems(a, b string) float64 {
	setA := make(map[string]bool)
	for _, w := range strings.Fields(a) {
		setA[w] = true
	}
	setB := make(map[string]bool)
	for _, w := range strings.Fields(b) {
		setB[w] = true
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func finalizeGroup(g *Group) {
	providers := make(map[string]bool)
	best := TierF
	var hasPositive, hasNegative bool
	for _, pc := range g.Claims {
		providers[pc.Provider] = true
		if tierRank(pc.Claim.Tier) > tierRank(best) {
			best = pc.Claim.Tier
		}
		lower := strings.ToLower(pc.Claim.Text)
		if containsAny(lower, negativeMarkers) {
			hasNegative = true
		} else if containsAny(lower, positiveMarkers) {
			hasPositive = true
		}
	}
	g.BestSourceTier = best
	g.Corroborated = len(providers) >= 2
	g.Contradicted = hasPositive && hasNegative
}

func tierRank(t Tier) int {
	switch t {
	case TierA:
		return 4
	case TierB:
		return 3
	case TierC:
		return 2
	case TierD:
		return 1
	default:
		return 0
	}
}

// StrictScaleFactor is the multiplier the Engine applies to a ranked
// provider's vote score contribution in strict evidence mode.
func StrictScaleFactor(weightedScore float64) float64 {
	return 0.5 + 0.5*weightedScore
}
