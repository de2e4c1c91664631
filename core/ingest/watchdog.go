package ingest

import (
	"context"
	"time"

	"resonate/logger"
	"resonate/queue"
	"resonate/repository"
)

// Watchdog re-enqueues assets stuck in PROCESSING. A pipeline run that
// crashed leaves its asset PROCESSING forever; once the heartbeat goes
// stale the asset becomes eligible for a forced re-run, which the
// orchestrator's idempotent PROCESSING re-entry makes safe.
type Watchdog struct {
	repo       repository.AssetRepository
	queue      *queue.Queue
	staleAfter time.Duration
	interval   time.Duration
}

// NewWatchdog creates a Watchdog.
func NewWatchdog(repo repository.AssetRepository, q *queue.Queue, staleAfter, interval time.Duration) *Watchdog {
	return &Watchdog{repo: repo, queue: q, staleAfter: staleAfter, interval: interval}
}

// Run scans periodically until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep finds stale PROCESSING assets and re-enqueues them.
func (w *Watchdog) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)
	ids, err := w.repo.FindStaleProcessing(cutoff)
	if err != nil {
		logger.Error("Watchdog scan failed", logger.ErrorField(err))
		return
	}

	for _, id := range ids {
		logger.Warn("Re-enqueueing stale processing asset",
			logger.String("assetId", id),
			logger.Duration("staleAfter", w.staleAfter))
		if err := w.queue.Enqueue(ctx, id); err != nil {
			logger.Error("Failed to re-enqueue stale asset",
				logger.String("assetId", id),
				logger.ErrorField(err))
		}
	}
}
