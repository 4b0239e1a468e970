// File: internal/store/store.go

// Package store persists scan results and job lifecycle state in PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/elara-sec/verdict/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store provides the PostgreSQL persistence for scans and jobs.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// SaveResult persists a completed scan: the summary row plus the per-finding
// rows, in one transaction.
func (s *Store) SaveResult(ctx context.Context, result *schemas.ScanResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal scan result: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	const insertScan = `
        INSERT INTO scans (id, url, risk_level, risk_score, max_score, probability, result, scanned_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `
	if _, err := tx.Exec(ctx, insertScan,
		result.ID, result.URL, string(result.RiskLevel),
		result.RiskScore, result.MaxScore, result.Probability,
		payload, result.ScannedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert scan: %w", err)
	}

	if len(result.Findings) > 0 {
		if err := s.persistFindings(ctx, tx, result.ID, result.Findings); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) persistFindings(ctx context.Context, tx pgx.Tx, scanID string, findings []schemas.Finding) error {
	rows := make([][]interface{}, len(findings))
	for i, f := range findings {
		evidence := f.Evidence
		if len(evidence) == 0 || string(evidence) == "null" {
			evidence = json.RawMessage("{}")
		}
		rows[i] = []interface{}{
			scanID, f.Check, string(f.Result), string(f.Severity),
			f.Points, f.MaxPoints, f.Explanation, evidence,
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"scan_findings"},
		[]string{"scan_id", "check_name", "result", "severity", "points", "max_points", "explanation", "evidence"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy findings: %w", err)
	}
	if int(copyCount) != len(findings) {
		return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(findings), copyCount)
	}
	return nil
}

// GetResult loads one scan by id. Missing scans return (nil, nil).
func (s *Store) GetResult(ctx context.Context, id string) (*schemas.ScanResult, error) {
	const query = `SELECT result FROM scans WHERE id = $1;`

	var payload []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query scan: %w", err)
	}

	var result schemas.ScanResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored scan: %w", err)
	}
	return &result, nil
}

// -- Job lifecycle --

// CreateJob records a newly enqueued job in the processing state.
func (s *Store) CreateJob(ctx context.Context, job *schemas.ScanJob) error {
	const query = `
        INSERT INTO scan_jobs (id, url, status, attempts, enqueued_at)
        VALUES ($1, $2, $3, $4, $5);
    `
	if _, err := s.pool.Exec(ctx, query,
		job.ID, job.URL, string(schemas.JobProcessing), job.Attempts, job.EnqueuedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// CompleteJob transitions a job processing -> completed exactly once. A
// second transition attempt is an error, not a silent overwrite.
func (s *Store) CompleteJob(ctx context.Context, jobID string, attempts int) error {
	return s.finishJob(ctx, jobID, schemas.JobCompleted, attempts, "")
}

// FailJob transitions a job processing -> failed exactly once, capturing the
// terminal failure reason.
func (s *Store) FailJob(ctx context.Context, jobID string, attempts int, reason string) error {
	return s.finishJob(ctx, jobID, schemas.JobFailed, attempts, reason)
}

func (s *Store) finishJob(ctx context.Context, jobID string, status schemas.JobStatus, attempts int, reason string) error {
	const query = `
        UPDATE scan_jobs
        SET status = $2, attempts = $3, error = $4, completed_at = $5
        WHERE id = $1 AND status = $6;
    `
	tag, err := s.pool.Exec(ctx, query,
		jobID, string(status), attempts, reason, time.Now().UTC(), string(schemas.JobProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("job %s is not in the processing state", jobID)
	}
	return nil
}

// GetJob loads one job by id. Missing jobs return (nil, nil).
func (s *Store) GetJob(ctx context.Context, id string) (*schemas.ScanJob, error) {
	const query = `
        SELECT id, url, status, attempts, enqueued_at, completed_at, error
        FROM scan_jobs WHERE id = $1;
    `
	var (
		job       schemas.ScanJob
		status    string
		completed *time.Time
		errMsg    *string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.URL, &status, &job.Attempts, &job.EnqueuedAt, &completed, &errMsg,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}

	job.Status = schemas.JobStatus(status)
	job.CompletedAt = completed
	if errMsg != nil {
		job.Error = *errMsg
	}
	return &job, nil
}
