package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// channel is the Redis pub/sub channel carrying ingestion status events.
const channel = "ingest:events"

// Event is a post-commit domain event: it is published only after the
// status transition it reports has durably committed.
type Event struct {
	AssetID string    `json:"assetId"`
	TrackID uint64    `json:"trackId"`
	Status  string    `json:"status"`
	At      time.Time `json:"at"`
}

// Publisher emits ingestion events. The orchestrator publishes; handlers
// such as the websocket hub and the counter updater consume.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus is a Redis pub/sub event bus.
type Bus struct {
	rdb *redis.Client
}

// NewBus creates a Bus on the given Redis client.
func NewBus(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

// Publish emits an event. Delivery is at-most-once; consumers that need
// the authoritative state read the database, events are notifications only.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event for %s: %w", ev.AssetID, err)
	}
	return nil
}

// Subscribe returns a channel of events. The channel closes when ctx is
// cancelled.
func (b *Bus) Subscribe(ctx context.Context) <-chan Event {
	sub := b.rdb.Subscribe(ctx, channel)
	out := make(chan Event)

	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue // malformed events are dropped
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
