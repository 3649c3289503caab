package arena

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror shares Stats across Engine processes that would otherwise
// each keep their own file-backed Arena, so reputation weighting reflects
// the whole fleet's win/loss history rather than one process's slice of it.
type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMirror opens a mirror against addr. password/db may be zero
// values; ttl of zero means entries never expire.
func NewRedisMirror(addr, password string, db int, ttl time.Duration) *RedisMirror {
	return &RedisMirror{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		prefix: "quorum:arena:",
		ttl:    ttl,
	}
}

func (m *RedisMirror) key(provider string) string {
	return m.prefix + provider
}

// Push writes s to the mirror, overwriting whatever the last writer left.
func (m *RedisMirror) Push(ctx context.Context, s Stats) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("arena: encoding mirrored stats: %w", err)
	}
	if err := m.client.Set(ctx, m.key(s.Provider), data, m.ttl).Err(); err != nil {
		return fmt.Errorf("arena: pushing mirrored stats: %w", err)
	}
	return nil
}

// Fetch reads a provider's mirrored Stats, reporting false on a cache miss
// or any transport error so callers fall back to the local file copy.
func (m *RedisMirror) Fetch(ctx context.Context, provider string) (Stats, bool) {
	data, err := m.client.Get(ctx, m.key(provider)).Bytes()
	if err != nil {
		return Stats{}, false
	}
	var s Stats
	if err := json.Unmarshal(data, &s); err != nil {
		return Stats{}, false
	}
	return s, true
}

// Close releases the underlying connection pool.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}

// SyncFrom mirrors every provider the Arena already knows about, called
// after RecordOutcome so a peer process reading the mirror sees the
// latest tallies without waiting on its own deliberations.
func (a *Arena) SyncFrom(ctx context.Context, mirror *RedisMirror) error {
	if mirror == nil {
		return nil
	}
	a.mu.Lock()
	snapshot := make([]Stats, 0, len(a.stats))
	for _, s := range a.stats {
		snapshot = append(snapshot, s)
	}
	a.mu.Unlock()

	for _, s := range snapshot {
		if err := mirror.Push(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// WeightMultiplierWithMirror behaves like WeightMultiplier but consults
// mirror first, preferring the fleet-wide view over this process's local
// stats when the mirror has one.
func (a *Arena) WeightMultiplierWithMirror(ctx context.Context, mirror *RedisMirror, provider string) float64 {
	if mirror != nil {
		if s, ok := mirror.Fetch(ctx, provider); ok {
			return minWeight + s.WinRate()*(maxWeight-minWeight)
		}
	}
	return a.WeightMultiplier(provider)
}
