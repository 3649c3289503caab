// Package session writes a deliberation's phase outputs, metadata, and
// synthesis to a per-session directory, and maintains a shared global
// index across sessions (spec §4.1).
package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quorumlabs/quorum/internal/model"
)

// Meta is written once at the start of a deliberation.
type Meta struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	Input     string    `json:"input"`
	Profile   string    `json:"profile"`
	Providers []string  `json:"providers"`
	Topology  string    `json:"topology"`
}

// IndexRow is one line of the global session index.
type IndexRow struct {
	SessionID   string    `json:"session_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Profile     string    `json:"profile"`
	Winner      string    `json:"winner,omitempty"`
	SessionDir  string    `json:"session_dir"`
}

// Store is single-writer per session directory, matching the Engine's
// exclusive ownership of the store handle for a deliberation's lifetime.
// The package-level index file, by contrast, is cross-process shared and
// every write goes through writeFileAtomic.
type Store struct {
	mu         sync.Mutex
	dir        string
	indexPath  string
	phaseCount int
}

// Init creates sessionDir (including parents) and returns a Store bound to
// it. indexPath is the shared global index file; pass "" to disable
// indexing.
func Init(sessionDir, indexPath string) (*Store, error) {
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("session: creating session directory: %w", err)
	}
	return &Store{dir: sessionDir, indexPath: indexPath}, nil
}

// NewSessionID returns a fresh UUID for a Session.
func NewSessionID() string {
	return uuid.NewString()
}

// WriteMeta writes meta.json once. A second call overwrites it, since the
// Engine calls this exactly once per deliberation by construction; callers
// that need strict once-only semantics should check for the file first.
func (s *Store) WriteMeta(meta Meta) error {
	return s.writeJSON("meta.json", meta)
}

// WritePhase writes <key>.json holding out. key is typically a zero-padded
// phase index plus name, e.g. "01-gather".
func (s *Store) WritePhase(key string, out model.PhaseOutput) error {
	s.mu.Lock()
	s.phaseCount++
	s.mu.Unlock()
	return s.writeJSON(key+".json", out)
}

// synthesisRecord bundles the Synthesis with the VoteResult that produced
// it, matching what writeSynthesis persists per spec.
type synthesisRecord struct {
	Synthesis model.Synthesis  `json:"synthesis"`
	Votes     model.VoteResult `json:"votes"`
}

// WriteSynthesis writes synthesis.json.
func (s *Store) WriteSynthesis(synth model.Synthesis, votes model.VoteResult) error {
	return s.writeJSON("synthesis.json", synthesisRecord{Synthesis: synth, Votes: votes})
}

// WriteArtifact writes one of the session directory's auxiliary documents
// (evidence-report.json, cross-references.json, adaptive-decisions.json,
// topology-plan.json, redteam-result.json, uncertainty.json,
// intervention-*.json — spec §6). name should already carry a ".json"
// extension.
func (s *Store) WriteArtifact(name string, v interface{}) error {
	return s.writeJSON(name, v)
}

// AppendIndex atomically appends row to the shared global index file as a
// line of newline-delimited JSON, preserving prior rows. The whole file is
// rewritten under a temp-then-rename so concurrent readers never observe a
// partial write, at the cost of read-modify-write races between concurrent
// deliberations completing at the same instant; callers that need strict
// linearizability should serialize completions upstream.
func (s *Store) AppendIndex(row IndexRow) error {
	if s.indexPath == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []IndexRow
	if existing, err := os.ReadFile(s.indexPath); err == nil {
		rows, err = decodeIndexRows(existing)
		if err != nil {
			return fmt.Errorf("session: parsing existing index: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("session: reading existing index: %w", err)
	}
	rows = append(rows, row)

	var buf []byte
	for _, r := range rows {
		line, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("session: encoding index row: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return writeFileAtomic(s.indexPath, buf)
}

// ListIndex reads every row of the shared global index, for browsing
// surfaces that don't otherwise hold a Store (e.g. the HTTP collaborator
// surface, spec §6).
func ListIndex(indexPath string) ([]IndexRow, error) {
	data, err := os.ReadFile(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: reading index: %w", err)
	}
	return decodeIndexRows(data)
}

func decodeIndexRows(data []byte) ([]IndexRow, error) {
	var rows []IndexRow
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var r IndexRow
		if err := dec.Decode(&r); err != nil {
			break
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func (s *Store) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encoding %s: %w", name, err)
	}
	return writeFileAtomic(filepath.Join(s.dir, name), data)
}

// writeFileAtomic writes data to a temp file in the same directory as path
// then renames it into place, so readers never see a half-written file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session: creating directory %s: %w", dir, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("session: renaming into place: %w", err)
	}
	return nil
}
