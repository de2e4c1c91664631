package events

import (
	"context"
	"fmt"

	"resonate/logger"
	"resonate/model"

	"github.com/redis/go-redis/v9"
)

// Counter keys, one per terminal outcome.
const (
	completedCounterKey = "ingest:counters:completed"
	failedCounterKey    = "ingest:counters:failed"
)

// CounterHandler keeps aggregate ingestion counters up to date from the
// event stream. It replaces the implicit signal-driven counter updates of
// the surrounding system with an explicit post-commit consumer.
type CounterHandler struct {
	rdb *redis.Client
	bus *Bus
}

// NewCounterHandler creates a CounterHandler.
func NewCounterHandler(rdb *redis.Client, bus *Bus) *CounterHandler {
	return &CounterHandler{rdb: rdb, bus: bus}
}

// Run consumes events until ctx is cancelled.
func (h *CounterHandler) Run(ctx context.Context) {
	for ev := range h.bus.Subscribe(ctx) {
		var key string
		switch model.ProcessingStatus(ev.Status) {
		case model.StatusCompleted:
			key = completedCounterKey
		case model.StatusFailed:
			key = failedCounterKey
		default:
			continue
		}
		if err := h.rdb.Incr(ctx, key).Err(); err != nil {
			logger.Warn("Failed to bump ingestion counter",
				logger.String("assetId", ev.AssetID),
				logger.String("status", ev.Status),
				logger.ErrorField(err))
		}
	}
}

// Totals returns the completed and failed counters.
func (h *CounterHandler) Totals(ctx context.Context) (completed, failed int64, err error) {
	completed, err = h.rdb.Get(ctx, completedCounterKey).Int64()
	if err != nil && err != redis.Nil {
		return 0, 0, fmt.Errorf("failed to read completed counter: %w", err)
	}
	failed, err = h.rdb.Get(ctx, failedCounterKey).Int64()
	if err != nil && err != redis.Nil {
		return 0, 0, fmt.Errorf("failed to read failed counter: %w", err)
	}
	return completed, failed, nil
}
