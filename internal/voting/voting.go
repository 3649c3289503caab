// Package voting implements the four ranked-ballot tally methods of spec
// §4.5: Borda, instant-runoff, approval, and Condorcet. Each accepts the
// same Ballot shape and returns a VoteResult.
package voting

import (
	"fmt"
	"math"
	"sort"

	"github.com/quorumlabs/quorum/internal/model"
)

// Method names accepted by Tally.
const (
	MethodBorda         = "borda"
	MethodInstantRunoff  = "instant_runoff"
	MethodApproval       = "approval"
	MethodCondorcet      = "condorcet"
)

// Weights carries the per-provider multipliers the Engine applies on top of
// the raw tally (profile weights and reputation, spec §4.11 step 8).
type Weights map[string]float64

func (w Weights) of(provider string) float64 {
	if w == nil {
		return 1.0
	}
	if v, ok := w[provider]; ok {
		return v
	}
	return 1.0
}

// selfDiscount applies the 0.5 self-vote discount of spec §4.5.
func selfDiscount(voter, candidate string) float64 {
	if voter == candidate {
		return 0.5
	}
	return 1.0
}

func candidateSet(ballots []model.Ballot) []string {
	seen := map[string]bool{}
	var order []string
	for _, b := range ballots {
		for _, r := range b.Rankings {
			if !seen[r.Provider] {
				seen[r.Provider] = true
				order = append(order, r.Provider)
			}
		}
	}
	sort.Strings(order)
	return order
}

// isControversial is VoteResult.Controversial (spec §3): a tally whose top
// two scores differ by at most 1 unit, regardless of voting method.
func isControversial(rankings []model.ScoredRanking) bool {
	if len(rankings) < 2 {
		return false
	}
	return math.Abs(rankings[0].Score-rankings[1].Score) <= 1
}

// ControversyScore is the normalized top-two margin the Engine compares
// against a profile's ControversyThreshold to decide whether to run the
// after-vote/on-controversy HITL checkpoint (spec §4.11 step 10). This is
// a distinct metric from isControversial's absolute-gap test: the spec
// notes the two "controversial" formulations differ on purpose, one fixed
// for VoteResult, one tunable per profile for the checkpoint gate.
func ControversyScore(rankings []model.ScoredRanking) float64 {
	if len(rankings) < 2 {
		return 0
	}
	denom := rankings[0].Score
	if denom < 1 {
		denom = 1
	}
	return math.Abs(rankings[0].Score-rankings[1].Score) / denom
}

func sortByScoreDesc(rankings []model.ScoredRanking) {
	sort.SliceStable(rankings, func(i, j int) bool {
		if rankings[i].Score != rankings[j].Score {
			return rankings[i].Score > rankings[j].Score
		}
		return rankings[i].Provider < rankings[j].Provider
	})
}

// Tally dispatches to the configured method.
func Tally(method string, ballots []model.Ballot, weights Weights) (model.VoteResult, error) {
	switch method {
	case MethodBorda, "":
		return Borda(ballots, weights), nil
	case MethodInstantRunoff:
		return InstantRunoff(ballots), nil
	case MethodApproval:
		return Approval(ballots, weights), nil
	case MethodCondorcet:
		return Condorcet(ballots, weights), nil
	default:
		return model.VoteResult{}, fmt.Errorf("voting: unknown method %q", method)
	}
}

// Borda awards |C|-rank(c) points per ballot, scaled by provider weight and
// self-vote discount.
func Borda(ballots []model.Ballot, weights Weights) model.VoteResult {
	candidates := candidateSet(ballots)
	n := len(candidates)
	scores := make(map[string]float64, n)
	details := make(map[string]model.VoteDetail, n)
	for _, c := range candidates {
		scores[c] = 0
		details[c] = model.VoteDetail{}
	}

	for _, b := range ballots {
		for _, r := range b.Rankings {
			points := float64(n-r.Rank) * weights.of(r.Provider) * selfDiscount(b.Voter, r.Provider)
			scores[r.Provider] += points
			d := details[r.Provider]
			d.Ranks = append(d.Ranks, r.Rank)
			details[r.Provider] = d
		}
	}

	rankings := make([]model.ScoredRanking, 0, n)
	for _, c := range candidates {
		rankings = append(rankings, model.ScoredRanking{Provider: c, Score: scores[c]})
	}
	sortByScoreDesc(rankings)

	return finish(rankings, details, MethodBorda, "")
}

// InstantRunoff repeatedly eliminates the candidate with the fewest active
// first preferences until one candidate exceeds half the active vote, or
// only one remains.
func InstantRunoff(ballots []model.Ballot) model.VoteResult {
	candidates := candidateSet(ballots)
	active := map[string]bool{}
	for _, c := range candidates {
		active[c] = true
	}

	// ballotOrder[voter] = candidates sorted by rank ascending.
	ballotOrder := make(map[string][]string, len(ballots))
	for _, b := range ballots {
		order := append([]model.Ranking(nil), b.Rankings...)
		sort.SliceStable(order, func(i, j int) bool { return order[i].Rank < order[j].Rank })
		names := make([]string, len(order))
		for i, r := range order {
			names[i] = r.Provider
		}
		ballotOrder[b.Voter] = names
	}

	var eliminationOrder []string
	details := make(map[string]model.VoteDetail, len(candidates))

	for len(active) > 1 {
		firstPrefs := map[string]int{}
		total := 0
		for _, order := range ballotOrder {
			for _, c := range order {
				if active[c] {
					firstPrefs[c]++
					total++
					break
				}
			}
		}
		if total == 0 {
			break
		}
		// Winner check.
		for c, count := range firstPrefs {
			if float64(count) > float64(total)/2.0 {
				return finishIRV(c, active, eliminationOrder, details, firstPrefs)
			}
		}
		// Eliminate the candidate with fewest first preferences (ties broken
		// alphabetically for determinism).
		var worst string
		worstCount := -1
		names := make([]string, 0, len(active))
		for c := range active {
			names = append(names, c)
		}
		sort.Strings(names)
		for _, c := range names {
			count := firstPrefs[c]
			if worstCount == -1 || count < worstCount {
				worst, worstCount = c, count
			}
		}
		delete(active, worst)
		eliminationOrder = append(eliminationOrder, worst)
	}

	// One candidate left.
	var winner string
	for c := range active {
		winner = c
	}
	return finishIRV(winner, active, eliminationOrder, details, nil)
}

func finishIRV(winner string, active map[string]bool, eliminationOrder []string, details map[string]model.VoteDetail, _ map[string]int) model.VoteResult {
	var survivors []string
	for c := range active {
		survivors = append(survivors, c)
	}
	sort.Strings(survivors)

	// Winner first among survivors, then other survivors, then eliminated in
	// reverse elimination order (spec §4.5).
	var ordered []string
	ordered = append(ordered, winner)
	for _, s := range survivors {
		if s != winner {
			ordered = append(ordered, s)
		}
	}
	for i := len(eliminationOrder) - 1; i >= 0; i-- {
		ordered = append(ordered, eliminationOrder[i])
	}

	rankings := make([]model.ScoredRanking, len(ordered))
	for i, c := range ordered {
		rankings[i] = model.ScoredRanking{Provider: c, Score: float64(len(ordered) - i)}
	}

	return finish(rankings, details, MethodInstantRunoff, "")
}

// Approval has each voter approve the top ceil(|C|/2) candidates of their
// ranking; ties on approval count are broken by Borda.
func Approval(ballots []model.Ballot, weights Weights) model.VoteResult {
	candidates := candidateSet(ballots)
	n := len(candidates)
	threshold := (n + 1) / 2 // ceil(n/2)

	approvals := make(map[string]int, n)
	for _, c := range candidates {
		approvals[c] = 0
	}
	for _, b := range ballots {
		order := append([]model.Ranking(nil), b.Rankings...)
		sort.SliceStable(order, func(i, j int) bool { return order[i].Rank < order[j].Rank })
		for i, r := range order {
			if i >= threshold {
				break
			}
			approvals[r.Provider]++
		}
	}

	borda := Borda(ballots, weights)
	bordaScore := make(map[string]float64, n)
	for _, r := range borda.Rankings {
		bordaScore[r.Provider] = r.Score
	}

	rankings := make([]model.ScoredRanking, 0, n)
	for _, c := range candidates {
		rankings = append(rankings, model.ScoredRanking{Provider: c, Score: float64(approvals[c])})
	}
	sort.SliceStable(rankings, func(i, j int) bool {
		if rankings[i].Score != rankings[j].Score {
			return rankings[i].Score > rankings[j].Score
		}
		return bordaScore[rankings[i].Provider] > bordaScore[rankings[j].Provider]
	})

	return finish(rankings, borda.Details, MethodApproval, "")
}

// Condorcet builds a pairwise-preference matrix; if a candidate beats every
// other candidate head-to-head, they win, ranked secondarily by pairwise
// win count. Otherwise falls back to Borda.
func Condorcet(ballots []model.Ballot, weights Weights) model.VoteResult {
	candidates := candidateSet(ballots)
	n := len(candidates)

	// wins[a][b] = number of voters preferring a over b.
	wins := make(map[string]map[string]int, n)
	for _, a := range candidates {
		wins[a] = make(map[string]int, n)
	}

	rankOf := func(b model.Ballot) map[string]int {
		m := make(map[string]int, len(b.Rankings))
		for _, r := range b.Rankings {
			m[r.Provider] = r.Rank
		}
		return m
	}

	for _, b := range ballots {
		rm := rankOf(b)
		for _, a := range candidates {
			for _, bb := range candidates {
				if a == bb {
					continue
				}
				ra, aok := rm[a]
				rb, bok := rm[bb]
				if !aok || !bok {
					continue
				}
				if ra < rb {
					wins[a][bb]++
				}
			}
		}
	}

	pairwiseWins := make(map[string]int, n)
	var condorcetWinner string
	for _, a := range candidates {
		beatsAll := true
		count := 0
		for _, bb := range candidates {
			if a == bb {
				continue
			}
			if wins[a][bb] > wins[bb][a] {
				count++
			} else {
				beatsAll = false
			}
		}
		pairwiseWins[a] = count
		if beatsAll && n > 1 {
			condorcetWinner = a
		}
	}

	if condorcetWinner != "" {
		rankings := make([]model.ScoredRanking, 0, n)
		for _, c := range candidates {
			rankings = append(rankings, model.ScoredRanking{Provider: c, Score: float64(pairwiseWins[c])})
		}
		sortByScoreDesc(rankings)
		details := make(map[string]model.VoteDetail, n)
		return finish(rankings, details, MethodCondorcet, fmt.Sprintf("Condorcet winner: %s", condorcetWinner))
	}

	// No Condorcet winner: fall back to Borda and annotate.
	borda := Borda(ballots, weights)
	return finish(borda.Rankings, borda.Details, MethodCondorcet, "no Condorcet winner; fell back to Borda")
}

func finish(rankings []model.ScoredRanking, details map[string]model.VoteDetail, method, votingDetails string) model.VoteResult {
	winner := ""
	if len(rankings) > 0 {
		winner = rankings[0].Provider
	}
	return model.VoteResult{
		Rankings:      rankings,
		Winner:        winner,
		Controversial: isControversial(rankings),
		Method:        method,
		Details:       details,
		VotingDetails: votingDetails,
	}
}
