// Package memory is a persistent, keyword-indexed store of prior
// deliberations used for similarity retrieval and contradiction detection
// (spec §4.7). The store is a single JSON file; concurrent writers use
// write-to-temp-then-rename.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/quorumlabs/quorum/internal/model"
)

// Store holds MemoryNodes keyed by session ID, backed by a single file.
type Store struct {
	mu    sync.Mutex
	path  string
	nodes map[string]model.MemoryNode
}

// Open loads the store from path if it exists, or starts empty.
func Open(path string) (*Store, error) {
	s := &Store{path: path, nodes: make(map[string]model.MemoryNode)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("memory: reading store: %w", err)
	}
	var nodes []model.MemoryNode
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, fmt.Errorf("memory: parsing store: %w", err)
	}
	for _, n := range nodes {
		s.nodes[n.SessionID] = n
	}
	return s, nil
}

// Put inserts or replaces a node and persists the store.
func (s *Store) Put(node model.MemoryNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node.SessionID] = node
	return s.flush()
}

func (s *Store) flush() error {
	nodes := make([]model.MemoryNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].SessionID < nodes[j].SessionID })

	data, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: encoding store: %w", err)
	}
	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("memory: creating store directory: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("memory: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("memory: renaming into place: %w", err)
	}
	return nil
}

// Match is one similarity hit against the store.
type Match struct {
	Node  model.MemoryNode
	Score float64
}

const defaultRetrievalThreshold = 0.15

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

func jaccard(a, b map[string]bool) float64 {
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
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Retrieve returns the top-k prior nodes scoring above threshold on
// token-set Jaccard similarity between input (plus tags) and each node's
// input and tags.
func (s *Store) Retrieve(input string, tags []string, k int, threshold float64) []Match {
	if threshold <= 0 {
		threshold = defaultRetrievalThreshold
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	queryTokens := tokenize(input)
	for _, t := range tags {
		queryTokens[strings.ToLower(t)] = true
	}

	var matches []Match
	for _, n := range s.nodes {
		nodeTokens := tokenize(n.Input)
		for _, t := range n.Tags {
			nodeTokens[strings.ToLower(t)] = true
		}
		score := jaccard(queryTokens, nodeTokens)
		if score >= threshold {
			matches = append(matches, Match{Node: n, Score: score})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Node.SessionID < matches[j].Node.SessionID
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

var negationWords = map[string]bool{"not": true, "no": true, "never": true, "cannot": true, "isn't": true, "wasn't": true, "doesn't": true}

// Contradiction is one detected conflict between the synthesis and a prior
// node's recorded input.
type Contradiction struct {
	SessionID string
	Sentence  string
}

// DetectContradictions emits a short sentence for each prior node whose
// input overlaps the synthesis text (token Jaccard at or above the
// retrieval threshold) with opposite negation polarity. The prior node's
// winner is named in the sentence but is not compared.
func DetectContradictions(synthesisText string, priors []model.MemoryNode) []Contradiction {
	synthTokens := tokenize(synthesisText)
	synthNegated := hasNegation(synthesisText)

	var out []Contradiction
	for _, n := range priors {
		priorTokens := tokenize(n.Input)
		overlap := jaccard(synthTokens, priorTokens)
		if overlap < defaultRetrievalThreshold {
			continue
		}
		priorNegated := hasNegation(n.Input)
		if synthNegated != priorNegated {
			out = append(out, Contradiction{
				SessionID: n.SessionID,
				Sentence:  fmt.Sprintf("prior session %s reached an opposing conclusion on an overlapping question (winner: %s)", n.SessionID, n.Winner),
			})
		}
	}
	return out
}

func hasNegation(s string) bool {
	for w := range tokenize(s) {
		if negationWords[w] {
			return true
		}
	}
	return false
}
