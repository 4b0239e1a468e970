// File: internal/worker/queue_test.go
package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elara-sec/verdict/api/schemas"
)

func testJob(id string) *schemas.ScanJob {
	return &schemas.ScanJob{
		ID:         id,
		URL:        "https://example.com",
		Status:     schemas.JobProcessing,
		EnqueuedAt: time.Now().UTC(),
	}
}

func TestQueueEnqueueDequeueAck(t *testing.T) {
	q := NewQueue(4)

	require.NoError(t, q.Enqueue(testJob("a")))
	require.NoError(t, q.Enqueue(testJob("b")))
	assert.Equal(t, 2, q.Len())

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", job.ID, "FIFO order")
	assert.Equal(t, 1, q.InFlight())

	q.Ack(job.ID)
	assert.Zero(t, q.InFlight())
}

func TestQueueRejectsWhenFull(t *testing.T) {
	q := NewQueue(1)

	require.NoError(t, q.Enqueue(testJob("a")))
	err := q.Enqueue(testJob("b"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full")
}

func TestQueueNackRequeues(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Enqueue(testJob("a")))

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)

	require.NoError(t, q.Nack(job.ID))
	assert.Zero(t, q.InFlight())
	assert.Equal(t, 1, q.Len())

	again, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", again.ID)
}

func TestQueueNackUnknownJob(t *testing.T) {
	q := NewQueue(4)
	err := q.Nack("ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in flight")
}

func TestQueueCloseDrainsThenErrors(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Enqueue(testJob("a")))

	q.Close()
	assert.ErrorIs(t, q.Enqueue(testJob("b")), ErrQueueClosed)

	// The buffered job is still deliverable.
	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", job.ID)

	_, err = q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueCloseIsIdempotent(t *testing.T) {
	q := NewQueue(1)
	q.Close()
	assert.NotPanics(t, q.Close)
}

func TestQueueEnqueueDuringCloseDoesNotPanic(t *testing.T) {
	// Producers racing Close must get a clean rejection, never a send on a
	// closed channel.
	for round := 0; round < 100; round++ {
		q := NewQueue(4)

		var wg sync.WaitGroup
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					err := q.Enqueue(testJob("j"))
					if err != nil && !errors.Is(err, ErrQueueClosed) {
						assert.Contains(t, err.Error(), "full")
					}
					if _, derr := q.Dequeue(context.Background()); derr == nil {
						q.Ack("j")
					}
				}
			}()
		}
		q.Close()
		wg.Wait()
	}
}

func TestQueueDequeueHonorsContext(t *testing.T) {
	q := NewQueue(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
