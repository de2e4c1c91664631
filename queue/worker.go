package queue

import (
	"context"
	"sync"
	"time"

	"resonate/logger"
)

// Handler processes one dequeued job. Errors are the handler's to persist;
// the pool only logs them so a failed job never kills a worker.
type Handler func(ctx context.Context, assetID string) error

// WorkerPool drains the queue with a fixed number of workers. Each job
// occupies one worker for its full duration; jobs for different assets have
// no ordering between them.
type WorkerPool struct {
	queue   *Queue
	handler Handler
	workers int
}

// NewWorkerPool creates a pool of n workers.
func NewWorkerPool(q *Queue, n int, handler Handler) *WorkerPool {
	if n <= 0 {
		n = 1
	}
	return &WorkerPool{queue: q, handler: handler, workers: n}
}

// Run blocks until ctx is cancelled, dispatching jobs to workers.
func (p *WorkerPool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.work(ctx, workerID)
		}(i)
	}
	wg.Wait()
}

func (p *WorkerPool) work(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		assetID, err := p.queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("Failed to dequeue job", logger.Int("worker", workerID), logger.ErrorField(err))
			// Back off so a dead Redis does not spin the worker.
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		if assetID == "" {
			continue
		}

		logger.Info("Worker picked up process job",
			logger.Int("worker", workerID),
			logger.String("assetId", assetID))

		if err := p.handler(ctx, assetID); err != nil {
			// The handler already persisted the terminal status; this log is
			// the job framework's completion record.
			logger.Error("Process job finished with failure",
				logger.Int("worker", workerID),
				logger.String("assetId", assetID),
				logger.ErrorField(err))
		}
	}
}
