// Package hashchain builds and verifies the tamper-evident, append-only
// chain of HashChainEntry records over a deliberation's phases (spec §4.4).
package hashchain

import (
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/quorumlabs/quorum/internal/canonicaljson"
	"github.com/quorumlabs/quorum/internal/model"
)

// PhaseInput is the per-phase material the chain hashes over: the prompts
// sent to participants (in participant order) and the phase's recorded
// responses.
type PhaseInput struct {
	Phase      string
	ProviderID string
	Timestamp  int64 // unix nanos, supplied by the caller for determinism
	// Prompts is ordered by participant index, matching the phase's roster
	// order (spec §5 ordering guarantees).
	Prompts   []PromptEntry
	Responses map[string]string
}

// PromptEntry is one participant's prompt inputs for a phase.
type PromptEntry struct {
	Provider string
	System   string
	User     string
}

func hashBytes(b []byte) (string, error) {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func hashCanonical(v interface{}) (string, error) {
	b, err := canonicaljson.Marshal(v)
	if err != nil {
		return "", err
	}
	return hashBytes(b)
}

// Build produces the chain entries left-to-right over the given phases.
func Build(phases []PhaseInput) ([]model.HashChainEntry, error) {
	entries := make([]model.HashChainEntry, 0, len(phases))
	var previous *string

	for _, p := range phases {
		entry, err := buildEntry(p, previous)
		if err != nil {
			return nil, fmt.Errorf("hashchain: build entry for phase %q: %w", p.Phase, err)
		}
		entries = append(entries, entry)
		h := entry.Hash
		previous = &h
	}
	return entries, nil
}

func buildEntry(p PhaseInput, previous *string) (model.HashChainEntry, error) {
	inputsHash, err := hashCanonical(p.Prompts)
	if err != nil {
		return model.HashChainEntry{}, fmt.Errorf("inputs hash: %w", err)
	}
	outputsHash, err := hashCanonical(p.Responses)
	if err != nil {
		return model.HashChainEntry{}, fmt.Errorf("outputs hash: %w", err)
	}

	linkage := struct {
		PreviousHash *string `json:"previous_hash"`
		InputsHash   string  `json:"inputs_hash"`
		OutputsHash  string  `json:"outputs_hash"`
		Phase        string  `json:"phase"`
		ProviderID   string  `json:"provider_id"`
		Timestamp    int64   `json:"timestamp"`
	}{
		PreviousHash: previous,
		InputsHash:   inputsHash,
		OutputsHash:  outputsHash,
		Phase:        p.Phase,
		ProviderID:   p.ProviderID,
		Timestamp:    p.Timestamp,
	}
	hash, err := hashCanonical(linkage)
	if err != nil {
		return model.HashChainEntry{}, fmt.Errorf("linkage hash: %w", err)
	}

	return model.HashChainEntry{
		Phase:        p.Phase,
		InputsHash:   inputsHash,
		OutputsHash:  outputsHash,
		PreviousHash: previous,
		Hash:         hash,
		Timestamp:    time.Unix(0, p.Timestamp).UTC(),
		ProviderID:   p.ProviderID,
	}, nil
}

// VerifyResult is the outcome of recomputing a chain from its components.
type VerifyResult struct {
	Valid    bool
	BrokenAt string
	Details  string
}

// Verify recomputes every entry from phases and compares it against chain,
// returning the first phase whose recomputed hash disagrees.
func Verify(chain []model.HashChainEntry, phases []PhaseInput) (VerifyResult, error) {
	if len(chain) != len(phases) {
		return VerifyResult{
			Valid:    false,
			BrokenAt: firstPhaseName(phases, chain),
			Details:  fmt.Sprintf("chain has %d entries, phases has %d", len(chain), len(phases)),
		}, nil
	}

	var previous *string
	for i, p := range phases {
		recomputed, err := buildEntry(p, previous)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("hashchain: recompute phase %q: %w", p.Phase, err)
		}
		if recomputed.Hash != chain[i].Hash ||
			recomputed.InputsHash != chain[i].InputsHash ||
			recomputed.OutputsHash != chain[i].OutputsHash ||
			!equalPtr(recomputed.PreviousHash, chain[i].PreviousHash) {
			return VerifyResult{
				Valid:    false,
				BrokenAt: p.Phase,
				Details:  fmt.Sprintf("recomputed hash %s does not match stored hash %s", recomputed.Hash, chain[i].Hash),
			}, nil
		}
		h := recomputed.Hash
		previous = &h
	}
	return VerifyResult{Valid: true}, nil
}

func firstPhaseName(phases []PhaseInput, chain []model.HashChainEntry) string {
	if len(phases) > 0 {
		return phases[0].Phase
	}
	if len(chain) > 0 {
		return chain[0].Phase
	}
	return ""
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
