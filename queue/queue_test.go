package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb)
}

func TestEnqueueDequeueOrder(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "asset-1"))
	require.NoError(t, q.Enqueue(ctx, "asset-2"))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	first, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	second, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	assert.Equal(t, "asset-1", first)
	assert.Equal(t, "asset-2", second)
}

func TestWorkerPoolDispatchesJobs(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]bool)
	done := make(chan struct{})

	pool := NewWorkerPool(q, 2, func(ctx context.Context, assetID string) error {
		mu.Lock()
		seen[assetID] = true
		if len(seen) == 3 {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, id))
	}

	go pool.Run(ctx)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not drain the queue in time")
	}
	cancel()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, seen)
}
