// File: internal/worker/pool.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elara-sec/verdict/api/schemas"
	"github.com/elara-sec/verdict/internal/config"
	"github.com/elara-sec/verdict/internal/metrics"
)

// Scanner runs one scan. Satisfied by pipeline.Engine.
type Scanner interface {
	Scan(ctx context.Context, rawURL string) (*schemas.ScanResult, error)
}

// JobStore persists job lifecycle transitions and finished results. Satisfied
// by store.Store; nil disables persistence (one-shot CLI runs).
type JobStore interface {
	CreateJob(ctx context.Context, job *schemas.ScanJob) error
	CompleteJob(ctx context.Context, jobID string, attempts int) error
	FailJob(ctx context.Context, jobID string, attempts int, reason string) error
	SaveResult(ctx context.Context, result *schemas.ScanResult) error
}

const persistTimeout = 30 * time.Second

// Pool drains the queue with a fixed set of workers. Each job gets whole-job
// retries with exponential backoff up to the configured attempt cap.
type Pool struct {
	logger  *zap.Logger
	cfg     config.EngineConfig
	queue   *Queue
	scanner Scanner
	store   JobStore
}

func NewPool(logger *zap.Logger, cfg config.EngineConfig, queue *Queue, scanner Scanner, store JobStore) *Pool {
	return &Pool{
		logger:  logger.Named("worker"),
		cfg:     cfg,
		queue:   queue,
		scanner: scanner,
		store:   store,
	}
}

// Submit creates a job for the URL, records it, and enqueues it.
func (p *Pool) Submit(ctx context.Context, rawURL string) (*schemas.ScanJob, error) {
	job := &schemas.ScanJob{
		ID:         uuid.NewString(),
		URL:        rawURL,
		Status:     schemas.JobProcessing,
		EnqueuedAt: time.Now().UTC(),
	}

	if p.store != nil {
		if err := p.store.CreateJob(ctx, job); err != nil {
			return nil, err
		}
	}
	if err := p.queue.Enqueue(job); err != nil {
		return nil, err
	}
	return job, nil
}

// Run blocks until the context is canceled or the queue closes, whichever
// comes first. All workers have exited when it returns.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.WorkerConcurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id)
		}(i)
	}
	wg.Wait()
	p.logger.Info("All workers stopped.")
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	log := p.logger.With(zap.Int("worker_id", id))
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Error("Dequeue failed.", zap.Error(err))
			return
		}
		p.process(ctx, log, job)
	}
}

// process runs one job to a terminal state. Transient scan failures retry
// in-worker with backoff; exhausting the attempt budget fails the job.
func (p *Pool) process(ctx context.Context, log *zap.Logger, job *schemas.ScanJob) {
	defer p.queue.Ack(job.ID)

	log = log.With(zap.String("job_id", job.ID), zap.String("url", job.URL))

	var result *schemas.ScanResult
	operation := func() error {
		job.Attempts++

		scanCtx, cancel := context.WithTimeout(ctx, p.cfg.ScanTimeout)
		defer cancel()

		out, err := p.scanner.Scan(scanCtx, job.URL)
		if err != nil {
			metrics.JobRetries.WithLabelValues("attempt_failed").Inc()
			log.Warn("Scan attempt failed.", zap.Int("attempt", job.Attempts), zap.Error(err))
			return err
		}
		result = out
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryBaseDelay
	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(p.cfg.MaxJobAttempts-1)), ctx))

	// Persistence must outlive a canceled run context during shutdown.
	persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err != nil {
		metrics.JobRetries.WithLabelValues("exhausted").Inc()
		job.Status = schemas.JobFailed
		job.Error = err.Error()
		log.Error("Job failed after all attempts.", zap.Int("attempts", job.Attempts), zap.Error(err))

		if p.store != nil {
			if dbErr := p.store.FailJob(persistCtx, job.ID, job.Attempts, err.Error()); dbErr != nil {
				log.Error("Failed to record job failure.", zap.Error(dbErr))
			}
		}
		return
	}

	// The job id is the public handle; the result adopts it so GET by id works.
	result.ID = job.ID
	if p.store != nil {
		// A job must never read completed without a readable result. Retry the
		// write, and fail the job explicitly when the store stays down.
		save := backoff.NewExponentialBackOff()
		save.InitialInterval = p.cfg.RetryBaseDelay
		dbErr := backoff.Retry(func() error {
			return p.store.SaveResult(persistCtx, result)
		}, backoff.WithContext(backoff.WithMaxRetries(save, uint64(p.cfg.MaxJobAttempts-1)), persistCtx))
		if dbErr != nil {
			metrics.JobRetries.WithLabelValues("persist_failed").Inc()
			job.Status = schemas.JobFailed
			job.Error = dbErr.Error()
			log.Error("Failed to persist scan result; failing the job.", zap.Error(dbErr))

			reason := fmt.Sprintf("scan succeeded but the result could not be persisted: %v", dbErr)
			if fErr := p.store.FailJob(persistCtx, job.ID, job.Attempts, reason); fErr != nil {
				log.Error("Failed to record job failure.", zap.Error(fErr))
			}
			return
		}
		if dbErr := p.store.CompleteJob(persistCtx, job.ID, job.Attempts); dbErr != nil {
			log.Error("Failed to record job completion.", zap.Error(dbErr))
		}
	}
	job.Status = schemas.JobCompleted
	log.Info("Job completed.", zap.Int("attempts", job.Attempts), zap.String("risk_level", string(result.RiskLevel)))
}
