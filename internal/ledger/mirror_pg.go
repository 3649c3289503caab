package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/quorumlabs/quorum/internal/model"
)

// PostgresMirror is the durable-index alternative backend named in Design
// Notes §9: every entry the file-backed Ledger appends is also written
// here, so a fleet of Engine processes can query a single table instead of
// each reading its own ledger.json.
type PostgresMirror struct {
	conn *pgx.Conn
}

// OpenPostgresMirror connects to connString and ensures the mirror table
// exists.
func OpenPostgresMirror(ctx context.Context, connString string) (*PostgresMirror, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("ledger: connecting to postgres mirror: %w", err)
	}
	m := &PostgresMirror{conn: conn}
	if err := m.createTable(ctx); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return m, nil
}

func (m *PostgresMirror) createTable(ctx context.Context) error {
	_, err := m.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS quorum_ledger (
			id            TEXT PRIMARY KEY,
			recorded_at   TIMESTAMPTZ NOT NULL,
			input         TEXT NOT NULL,
			profile       TEXT NOT NULL,
			topology      TEXT NOT NULL,
			winner        TEXT NOT NULL,
			hash          TEXT NOT NULL,
			previous_hash TEXT,
			entry         JSONB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ledger: creating postgres mirror table: %w", err)
	}
	return nil
}

// Append mirrors entry, which must already carry the Hash/PreviousHash the
// file-backed Ledger assigned.
func (m *PostgresMirror) Append(ctx context.Context, entry model.LedgerEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("ledger: encoding entry for postgres mirror: %w", err)
	}
	var previousHash interface{}
	if entry.PreviousHash != nil {
		previousHash = *entry.PreviousHash
	}
	_, err = m.conn.Exec(ctx, `
		INSERT INTO quorum_ledger (id, recorded_at, input, profile, topology, winner, hash, previous_hash, entry)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.Timestamp, entry.Input, entry.Profile, entry.Topology, entry.Votes.Winner, entry.Hash, previousHash, raw)
	if err != nil {
		return fmt.Errorf("ledger: appending to postgres mirror: %w", err)
	}
	return nil
}

// Get reads one mirrored entry back by session ID.
func (m *PostgresMirror) Get(ctx context.Context, sessionID string) (model.LedgerEntry, bool, error) {
	var raw []byte
	err := m.conn.QueryRow(ctx, `SELECT entry FROM quorum_ledger WHERE id = $1`, sessionID).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.LedgerEntry{}, false, nil
		}
		return model.LedgerEntry{}, false, fmt.Errorf("ledger: reading postgres mirror: %w", err)
	}
	var entry model.LedgerEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return model.LedgerEntry{}, false, fmt.Errorf("ledger: decoding mirrored entry: %w", err)
	}
	return entry, true, nil
}

// Close releases the underlying connection.
func (m *PostgresMirror) Close(ctx context.Context) error {
	return m.conn.Close(ctx)
}
