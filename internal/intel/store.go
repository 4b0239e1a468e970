// File: internal/intel/store.go

// Package intel aggregates external threat-intelligence feeds into a
// deduplicated indicator store and serves point lookups for the scan
// pipeline.
package intel

import (
	"context"
	"sync"
	"time"

	"github.com/willf/bloom"

	"github.com/elara-sec/verdict/api/schemas"
)

// UpsertStats reports what one batch write actually changed.
type UpsertStats struct {
	Added   int
	Updated int
}

// Store holds deduplicated threat indicators. The dedup key is
// (Type, NormalizedValue); writes for an existing key merge under the
// canonical rule instead of replacing.
type Store interface {
	Upsert(ctx context.Context, indicators []schemas.ThreatIndicator) (UpsertStats, error)
	Lookup(ctx context.Context, t schemas.IndicatorType, normalizedValue string) (*schemas.ThreatIndicator, error)
	// Deactivate soft-disables indicators from sourceID not seen since
	// before. Nothing is ever hard-deleted.
	Deactivate(ctx context.Context, sourceID string, before time.Time) (int64, error)
	Count(ctx context.Context, t schemas.IndicatorType) (int64, error)
}

// MemoryStore is the embedded Store for tests and single-process runs. A
// bloom filter fronts the lookup path so the common no-hit case skips the
// map entirely.
type MemoryStore struct {
	mu         sync.RWMutex
	indicators map[string]*schemas.ThreatIndicator
	filter     *bloom.BloomFilter
}

// NewMemoryStore sizes the bloom pre-screen for the expected indicator count.
func NewMemoryStore(capacity uint, errorRate float64) *MemoryStore {
	if capacity == 0 {
		capacity = 1_000_000
	}
	if errorRate <= 0 || errorRate >= 1 {
		errorRate = 0.001
	}
	return &MemoryStore{
		indicators: make(map[string]*schemas.ThreatIndicator),
		filter:     bloom.NewWithEstimates(capacity, errorRate),
	}
}

func storeKey(t schemas.IndicatorType, normalized string) string {
	return string(t) + "|" + normalized
}

func (m *MemoryStore) Upsert(_ context.Context, indicators []schemas.ThreatIndicator) (UpsertStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats UpsertStats
	for _, in := range indicators {
		key := storeKey(in.Type, in.NormalizedValue)
		if existing, ok := m.indicators[key]; ok {
			existing.Merge(in)
			stats.Updated++
			continue
		}
		stored := in
		m.indicators[key] = &stored
		m.filter.Add([]byte(key))
		stats.Added++
	}
	return stats, nil
}

func (m *MemoryStore) Lookup(_ context.Context, t schemas.IndicatorType, normalized string) (*schemas.ThreatIndicator, error) {
	key := storeKey(t, normalized)

	m.mu.RLock()
	defer m.mu.RUnlock()
	// The filter has no false negatives, so a miss here is definitive. Test
	// shares state with Add, so it stays under the lock.
	if !m.filter.Test([]byte(key)) {
		return nil, nil
	}
	indicator, ok := m.indicators[key]
	if !ok {
		return nil, nil
	}
	copied := *indicator
	return &copied, nil
}

func (m *MemoryStore) Deactivate(_ context.Context, sourceID string, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, in := range m.indicators {
		if in.Active && in.SourceID == sourceID && in.LastSeen.Before(before) {
			in.Active = false
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Count(_ context.Context, t schemas.IndicatorType) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, in := range m.indicators {
		if in.Active && in.Type == t {
			n++
		}
	}
	return n, nil
}
