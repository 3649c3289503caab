// Package arena tracks rolling win/loss/score statistics per provider
// across deliberations and derives a weight multiplier that Voting can
// fold into its reputation-weighted tally (spec §2, §4.11 step 8).
package arena

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Stats is one provider's rolling record.
type Stats struct {
	Provider    string  `json:"provider"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	Appearances int     `json:"appearances"`
	ScoreSum    float64 `json:"score_sum"`
}

// WinRate is wins over decided outcomes; a provider with no decided
// outcomes yet has a neutral 0.5 win rate.
func (s Stats) WinRate() float64 {
	decided := s.Wins + s.Losses
	if decided == 0 {
		return 0.5
	}
	return float64(s.Wins) / float64(decided)
}

// AverageScore is the mean per-deliberation score the provider has
// received, or 0 if it has never appeared.
func (s Stats) AverageScore() float64 {
	if s.Appearances == 0 {
		return 0
	}
	return s.ScoreSum / float64(s.Appearances)
}

// Arena is a file-backed registry of per-provider Stats.
type Arena struct {
	mu    sync.Mutex
	path  string
	stats map[string]Stats
}

// Open loads arena stats from path, or starts empty if the file is absent.
func Open(path string) (*Arena, error) {
	a := &Arena{path: path, stats: make(map[string]Stats)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return a, nil
		}
		return nil, fmt.Errorf("arena: reading store: %w", err)
	}
	var list []Stats
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("arena: parsing store: %w", err)
	}
	for _, s := range list {
		a.stats[s.Provider] = s
	}
	return a, nil
}

// RecordOutcome updates winner/losers with one win/loss each and records
// every participant's deliberation score, then persists the arena.
func (a *Arena) RecordOutcome(winner string, participants []string, scores map[string]float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, p := range participants {
		s := a.stats[p]
		s.Provider = p
		s.Appearances++
		s.ScoreSum += scores[p]
		if p == winner {
			s.Wins++
		} else {
			s.Losses++
		}
		a.stats[p] = s
	}
	return a.flush()
}

func (a *Arena) flush() error {
	list := make([]Stats, 0, len(a.stats))
	for _, s := range a.stats {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Provider < list[j].Provider })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("arena: encoding store: %w", err)
	}
	dir := filepath.Dir(a.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("arena: creating store directory: %w", err)
		}
	}
	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("arena: writing temp file: %w", err)
	}
	return os.Rename(tmp, a.path)
}

// Get returns a provider's current stats, zero-valued if unseen.
func (a *Arena) Get(provider string) Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats[provider]
}

// minWeight/maxWeight bound the multiplier so a provider on a long losing
// streak is discounted, never silenced, and a long winning streak is
// boosted, never allowed to dominate the tally outright.
const minWeight = 0.5
const maxWeight = 1.5

// WeightMultiplier derives a vote-weight multiplier from a provider's
// rolling win rate, centered at 1.0 for a neutral (0.5) win rate and
// scaled linearly to [minWeight, maxWeight] across the full [0,1] range.
func (a *Arena) WeightMultiplier(provider string) float64 {
	s := a.Get(provider)
	wr := s.WinRate()
	return minWeight + wr*(maxWeight-minWeight)
}
