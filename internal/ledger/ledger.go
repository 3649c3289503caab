// Package ledger is the append-only, hash-chained log of completed
// deliberations (spec §4.12): append, verify, get, export, and replay.
package ledger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/quorumlabs/quorum/internal/canonicaljson"
	"github.com/quorumlabs/quorum/internal/model"
)

// Ledger is a file-backed, append-only list of LedgerEntry records.
type Ledger struct {
	mu      sync.Mutex
	path    string
	entries []model.LedgerEntry
}

// Open loads the ledger from path, or starts empty if the file is absent.
func Open(path string) (*Ledger, error) {
	l := &Ledger{path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("ledger: reading store: %w", err)
	}
	if err := json.Unmarshal(raw, &l.entries); err != nil {
		return nil, fmt.Errorf("ledger: parsing store: %w", err)
	}
	return l, nil
}

// entryHashInput is the fixed, ordered fieldset hashed for each entry so
// the chain hash never depends on encoder-internal field order.
type entryHashInput struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	Input        string            `json:"input"`
	Profile      string            `json:"profile"`
	Providers    []string          `json:"providers"`
	Topology     string            `json:"topology"`
	Synthesis    model.Synthesis   `json:"synthesis"`
	Votes        model.VoteResult  `json:"votes"`
	Options      map[string]string `json:"options,omitempty"`
	PreviousHash *string           `json:"previous_hash,omitempty"`
}

func hashEntry(e model.LedgerEntry) (string, error) {
	canon, err := canonicaljson.Marshal(entryHashInput{
		ID: e.ID, Timestamp: e.Timestamp, Input: e.Input, Profile: e.Profile,
		Providers: e.Providers, Topology: e.Topology, Synthesis: e.Synthesis,
		Votes: e.Votes, Options: e.Options, PreviousHash: e.PreviousHash,
	})
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Append chains a new entry after the last and persists the ledger.
// result.Hash and result.PreviousHash are set by Append; any values the
// caller set on entry for those fields are overwritten.
func (l *Ledger) Append(entry model.LedgerEntry) (model.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) > 0 {
		prev := l.entries[len(l.entries)-1].Hash
		entry.PreviousHash = &prev
	} else {
		entry.PreviousHash = nil
	}

	hash, err := hashEntry(entry)
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("ledger: hashing entry: %w", err)
	}
	entry.Hash = hash

	l.entries = append(l.entries, entry)
	if err := l.flush(); err != nil {
		return model.LedgerEntry{}, err
	}
	return entry, nil
}

func (l *Ledger) flush() error {
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: encoding store: %w", err)
	}
	dir := filepath.Dir(l.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ledger: creating store directory: %w", err)
		}
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("ledger: writing temp file: %w", err)
	}
	return os.Rename(tmp, l.path)
}

// VerifyResult is the outcome of walking the chain.
type VerifyResult struct {
	Valid    bool
	BrokenAt string
	Message  string
}

// VerifyIntegrity walks the ledger and confirms every entry's hash
// matches its recomputed value and every previousHash matches the
// preceding entry's hash.
func (l *Ledger) VerifyIntegrity() (VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var prevHash *string
	for _, e := range l.entries {
		if !equalPtr(e.PreviousHash, prevHash) {
			return VerifyResult{Valid: false, BrokenAt: e.ID, Message: "previous_hash does not match the preceding entry"}, nil
		}
		recomputed, err := hashEntry(e)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("ledger: recomputing hash for %s: %w", e.ID, err)
		}
		if recomputed != e.Hash {
			return VerifyResult{Valid: false, BrokenAt: e.ID, Message: "recomputed hash does not match stored hash"}, nil
		}
		hash := e.Hash
		prevHash = &hash
	}
	return VerifyResult{Valid: true}, nil
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Get returns the entry with the given session ID, or the last entry if
// sessionIDOrLast is "last" or empty.
func (l *Ledger) Get(sessionIDOrLast string) (model.LedgerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sessionIDOrLast == "" || sessionIDOrLast == "last" {
		if len(l.entries) == 0 {
			return model.LedgerEntry{}, false
		}
		return l.entries[len(l.entries)-1], true
	}
	for _, e := range l.entries {
		if e.ID == sessionIDOrLast {
			return e, true
		}
	}
	return model.LedgerEntry{}, false
}

// All returns a snapshot of every entry in chain order.
func (l *Ledger) All() []model.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// ExportADR renders entry as an architecture-decision-record style text
// document.
func ExportADR(entry model.LedgerEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Deliberation Record: %s\n\n", entry.ID)
	fmt.Fprintf(&b, "Date: %s\n\n", entry.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "## Question\n\n%s\n\n", entry.Input)
	fmt.Fprintf(&b, "## Providers\n\n%s\n\n", strings.Join(entry.Providers, ", "))
	fmt.Fprintf(&b, "## Topology\n\n%s\n\n", entry.Topology)
	fmt.Fprintf(&b, "## Decision\n\n%s\n\n", entry.Synthesis.Content)
	fmt.Fprintf(&b, "## Vote\n\nWinner: %s (method: %s, controversial: %t)\n\n", entry.Votes.Winner, entry.Votes.Method, entry.Votes.Controversial)
	if entry.Synthesis.MinorityReport != "" {
		fmt.Fprintf(&b, "## Minority Report\n\n%s\n\n", entry.Synthesis.MinorityReport)
	}
	fmt.Fprintf(&b, "## Scores\n\nConsensus: %.2f\nConfidence: %.2f\n", entry.Synthesis.ConsensusScore, entry.Synthesis.ConfidenceScore)
	return b.String()
}

// ReplayInput is what Replay reconstructs from a ledger entry, ready to
// hand to the Engine for a fresh deliberation over the same input.
type ReplayInput struct {
	Input     string
	Providers []string
	Topology  string
	Profile   string
}

// Replay reconstructs the provider set, topology, and profile name from
// entry, applying any overrides on top.
func Replay(entry model.LedgerEntry, overrides *ReplayInput) ReplayInput {
	out := ReplayInput{
		Input:     entry.Input,
		Providers: append([]string(nil), entry.Providers...),
		Topology:  entry.Topology,
		Profile:   entry.Profile,
	}
	if overrides == nil {
		return out
	}
	if overrides.Input != "" {
		out.Input = overrides.Input
	}
	if len(overrides.Providers) > 0 {
		out.Providers = overrides.Providers
	}
	if overrides.Topology != "" {
		out.Topology = overrides.Topology
	}
	if overrides.Profile != "" {
		out.Profile = overrides.Profile
	}
	return out
}

// DiffLine is one line-by-line comparison between a replayed synthesis
// and the recorded one.
type DiffLine struct {
	Index    int
	Recorded string
	Replayed string
	Changed  bool
}

// DiffSynthesis compares two synthesis texts line by line.
func DiffSynthesis(recorded, replayed string) []DiffLine {
	recLines := strings.Split(recorded, "\n")
	repLines := strings.Split(replayed, "\n")
	n := len(recLines)
	if len(repLines) > n {
		n = len(repLines)
	}
	out := make([]DiffLine, 0, n)
	for i := 0; i < n; i++ {
		var rec, rep string
		if i < len(recLines) {
			rec = recLines[i]
		}
		if i < len(repLines) {
			rep = repLines[i]
		}
		out = append(out, DiffLine{Index: i, Recorded: rec, Replayed: rep, Changed: rec != rep})
	}
	return out
}
