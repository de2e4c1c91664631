package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// processQueueKey is the Redis list holding pending process jobs, one asset
// public id per entry.
const processQueueKey = "ingest:process"

// Queue is a Redis-list-backed job queue. The upload-completion handler
// enqueues and returns immediately; workers block on Dequeue.
type Queue struct {
	rdb *redis.Client
	key string
}

// New creates a Queue on the given Redis client.
func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb, key: processQueueKey}
}

// Enqueue schedules a process(assetID) job. Callers must only enqueue after
// the original file is durably stored and original_ref is persisted.
func (q *Queue) Enqueue(ctx context.Context, assetID string) error {
	if err := q.rdb.LPush(ctx, q.key, assetID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue process job for %s: %w", assetID, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next job. It returns an empty string
// with no error when the timeout elapses.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to dequeue process job: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return "", fmt.Errorf("unexpected BRPOP reply length %d", len(res))
	}
	return res[1], nil
}

// Len returns the number of queued jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}
