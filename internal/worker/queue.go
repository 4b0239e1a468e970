// File: internal/worker/queue.go

// Package worker provides the scan job queue and the worker pool that drains
// it.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/elara-sec/verdict/api/schemas"
	"github.com/elara-sec/verdict/internal/metrics"
)

// ErrQueueClosed is returned by Dequeue once the queue is closed and drained.
var ErrQueueClosed = fmt.Errorf("queue is closed")

// Queue is a bounded, channel-backed job queue. Jobs stay tracked as in-flight
// between Dequeue and Ack/Nack so a crash-restarted consumer can account for
// them.
type Queue struct {
	jobs chan *schemas.ScanJob

	mu       sync.Mutex
	inflight map[string]*schemas.ScanJob
	closed   bool
}

// NewQueue creates a queue holding at most size pending jobs.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		jobs:     make(chan *schemas.ScanJob, size),
		inflight: make(map[string]*schemas.ScanJob),
	}
}

// Enqueue adds a job. A full queue rejects rather than blocks; the caller
// decides whether to shed or retry. The send stays under the mutex so it can
// never land on a channel Close has already closed.
func (q *Queue) Enqueue(job *schemas.ScanJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		metrics.QueueDepth.Set(float64(len(q.jobs)))
		return nil
	default:
		return fmt.Errorf("queue is full (%d pending)", cap(q.jobs))
	}
}

// Dequeue blocks for the next job. It returns ErrQueueClosed after Close once
// the buffer drains, or the context error on cancellation.
func (q *Queue) Dequeue(ctx context.Context) (*schemas.ScanJob, error) {
	select {
	case job, ok := <-q.jobs:
		if !ok {
			return nil, ErrQueueClosed
		}
		metrics.QueueDepth.Set(float64(len(q.jobs)))

		q.mu.Lock()
		q.inflight[job.ID] = job
		q.mu.Unlock()
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack marks an in-flight job as fully handled.
func (q *Queue) Ack(jobID string) {
	q.mu.Lock()
	delete(q.inflight, jobID)
	q.mu.Unlock()
}

// Nack returns an in-flight job to the queue for another consumer. If the
// queue is full or closed the job is dropped and an error reported.
func (q *Queue) Nack(jobID string) error {
	q.mu.Lock()
	job, ok := q.inflight[jobID]
	delete(q.inflight, jobID)
	q.mu.Unlock()

	if !ok {
		return fmt.Errorf("job %s is not in flight", jobID)
	}
	return q.Enqueue(job)
}

// Close stops new enqueues. Consumers drain the remaining buffer and then
// receive ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.jobs)
}

// Len reports the pending (not in-flight) job count.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// InFlight reports how many jobs are dequeued but not yet acked.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}
