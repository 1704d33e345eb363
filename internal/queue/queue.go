// Package queue hands upload IDs from the accept path to background
// ingestion workers.
//
// Enqueue never blocks the request: the job lands in a buffered channel
// and a fixed set of worker goroutines drains it. Delivery is
// at-least-once from the core's point of view; the ingestion job's
// status guards and the catalog's idempotent upsert make duplicate runs
// harmless, so no deduplication happens here.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned when the buffer is saturated. Clients should
// retry the submission after a short delay.
var ErrQueueFull = errors.New("ingestion queue is full, please try again later")

// ErrQueueClosed is returned once shutdown has begun.
var ErrQueueClosed = errors.New("ingestion queue is shut down")

// DefaultWorkers is the worker count used when config supplies zero.
const DefaultWorkers = 2

// DefaultDepth is the buffer size used when config supplies zero.
const DefaultDepth = 64

// Runner executes one ingestion job for an upload record.
type Runner interface {
	Run(ctx context.Context, uploadID uuid.UUID) error
}

// Queue dispatches upload IDs to a pool of worker goroutines.
type Queue struct {
	runner  Runner
	jobs    chan uuid.UUID
	workers int
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a Queue. Call Start before Enqueue.
func New(runner Runner, workers, depth int) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Queue{
		runner:  runner,
		jobs:    make(chan uuid.UUID, depth),
		workers: workers,
	}
}

// Start launches the worker goroutines. Workers run until the queue is
// shut down or ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	slog.Info("ingestion queue started", "workers", q.workers, "depth", cap(q.jobs))
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, i)
	}
}

// Enqueue submits an upload for background ingestion without blocking.
func (q *Queue) Enqueue(uploadID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- uploadID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for in-flight work to drain,
// up to the deadline on ctx.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("ingestion queue drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) work(ctx context.Context, n int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case uploadID, ok := <-q.jobs:
			if !ok {
				return
			}
			start := time.Now()
			if err := q.runner.Run(ctx, uploadID); err != nil {
				slog.Error("ingestion job error",
					"worker", n,
					"upload_id", uploadID.String(),
					"error", err,
				)
				continue
			}
			slog.Info("ingestion job finished",
				"worker", n,
				"upload_id", uploadID.String(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}
}
