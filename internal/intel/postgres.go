// File: internal/intel/postgres.go
package intel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/elara-sec/verdict/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore persists indicators with the merge rule expressed in SQL, so
// concurrent sync cycles cannot lose updates.
type PostgresStore struct {
	pool      DBPool
	log       *zap.Logger
	chunkSize int
}

// NewPostgresStore verifies the connection before accepting writes.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger, chunkSize int) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	return &PostgresStore{
		pool:      pool,
		log:       logger.Named("intel_store"),
		chunkSize: chunkSize,
	}, nil
}

// severityRank mirrors schemas.Severity ordering for the SQL GREATEST merge.
func severityRank(s schemas.Severity) int { return s.Rank() }

// upsertSQL implements the canonical merge: max severity and confidence,
// earliest first_seen, latest last_seen, tag union, existing metadata keys
// win, active ORs. RETURNING xmax = 0 distinguishes insert from update.
const upsertSQL = `
    INSERT INTO threat_indicators (
        indicator_type, normalized_value, value, severity, severity_rank,
        confidence, source_id, first_seen, last_seen, tags, metadata, active
    ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    ON CONFLICT (indicator_type, normalized_value) DO UPDATE SET
        severity = CASE
            WHEN EXCLUDED.severity_rank > threat_indicators.severity_rank
            THEN EXCLUDED.severity ELSE threat_indicators.severity END,
        severity_rank = GREATEST(threat_indicators.severity_rank, EXCLUDED.severity_rank),
        confidence = GREATEST(threat_indicators.confidence, EXCLUDED.confidence),
        first_seen = LEAST(threat_indicators.first_seen, EXCLUDED.first_seen),
        last_seen = GREATEST(threat_indicators.last_seen, EXCLUDED.last_seen),
        tags = ARRAY(SELECT DISTINCT t FROM unnest(threat_indicators.tags || EXCLUDED.tags) AS t ORDER BY t),
        metadata = EXCLUDED.metadata || threat_indicators.metadata,
        active = threat_indicators.active OR EXCLUDED.active
    RETURNING (xmax = 0) AS inserted;
`

func (s *PostgresStore) Upsert(ctx context.Context, indicators []schemas.ThreatIndicator) (UpsertStats, error) {
	var stats UpsertStats

	for start := 0; start < len(indicators); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(indicators) {
			end = len(indicators)
		}
		chunk := indicators[start:end]

		batch := &pgx.Batch{}
		for _, in := range chunk {
			batch.Queue(upsertSQL,
				string(in.Type), in.NormalizedValue, in.Value,
				string(in.Severity), severityRank(in.Severity),
				in.Confidence, in.SourceID,
				in.FirstSeen.UTC(), in.LastSeen.UTC(),
				tagSlice(in.Tags), in.Metadata, in.Active,
			)
		}

		br := s.pool.SendBatch(ctx, batch)
		if br == nil {
			return stats, errors.New("failed to send batch: batch results is nil")
		}
		chunkStats, err := drainUpsertBatch(br, len(chunk))
		stats.Added += chunkStats.Added
		stats.Updated += chunkStats.Updated
		if err != nil {
			return stats, fmt.Errorf("upsert chunk [%d:%d]: %w", start, end, err)
		}
	}

	return stats, nil
}

func drainUpsertBatch(br pgx.BatchResults, n int) (UpsertStats, error) {
	defer func() { _ = br.Close() }()

	var stats UpsertStats
	for i := 0; i < n; i++ {
		var inserted bool
		if err := br.QueryRow().Scan(&inserted); err != nil {
			return stats, fmt.Errorf("batch row %d: %w", i, err)
		}
		if inserted {
			stats.Added++
		} else {
			stats.Updated++
		}
	}
	return stats, nil
}

// tagSlice flattens the tag set into a sorted array for text[] storage.
func tagSlice(tags map[string]bool) []string {
	if len(tags) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(tags))
	for tag := range tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

const lookupSQL = `
    SELECT value, severity, confidence, source_id, first_seen, last_seen, tags, metadata, active
    FROM threat_indicators
    WHERE indicator_type = $1 AND normalized_value = $2;
`

func (s *PostgresStore) Lookup(ctx context.Context, t schemas.IndicatorType, normalized string) (*schemas.ThreatIndicator, error) {
	indicator := schemas.ThreatIndicator{
		Type:            t,
		NormalizedValue: normalized,
	}
	var (
		severity string
		tags     []string
	)
	err := s.pool.QueryRow(ctx, lookupSQL, string(t), normalized).Scan(
		&indicator.Value, &severity, &indicator.Confidence, &indicator.SourceID,
		&indicator.FirstSeen, &indicator.LastSeen, &tags, &indicator.Metadata,
		&indicator.Active,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up indicator: %w", err)
	}

	indicator.Severity = schemas.Severity(severity)
	if len(tags) > 0 {
		indicator.Tags = make(map[string]bool, len(tags))
		for _, tag := range tags {
			indicator.Tags[tag] = true
		}
	}
	return &indicator, nil
}

const deactivateSQL = `
    UPDATE threat_indicators
    SET active = false
    WHERE source_id = $1 AND last_seen < $2 AND active;
`

func (s *PostgresStore) Deactivate(ctx context.Context, sourceID string, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, deactivateSQL, sourceID, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate stale indicators: %w", err)
	}
	return tag.RowsAffected(), nil
}

const countSQL = `SELECT count(*) FROM threat_indicators WHERE indicator_type = $1 AND active;`

func (s *PostgresStore) Count(ctx context.Context, t schemas.IndicatorType) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, countSQL, string(t)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count indicators: %w", err)
	}
	return n, nil
}
