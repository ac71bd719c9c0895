package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oddslane/hedgebot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// eventStream is the single durable stream all domain events land on.
const eventStream = "events"

// streamMaxLen is the approximate maximum stream length, enforced via
// XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// readBlock is how long one Read waits for new entries before returning
// empty. Keeps tailing consumers responsive to context cancellation.
const readBlock = 5 * time.Second

// EventBus implements domain.EventBus on a Redis stream. Events are durable
// and ordered; the websocket hub and the notifier tail the stream with Read.
type EventBus struct {
	rdb *redis.Client
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.Underlying()}
}

// Publish appends one event to the stream using XADD with approximate
// trimming so the stream cannot grow without bound.
func (eb *EventBus) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event %s: %w", event.Type, err)
	}

	args := &redis.XAddArgs{
		Stream: eventStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := eb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", event.Type, err)
	}
	return nil
}

// Read returns up to count events recorded after lastID. Use "0" to read
// from the beginning or "$" for new entries only. It blocks briefly waiting
// for entries and returns an empty slice (not an error) when nothing arrived.
func (eb *EventBus) Read(ctx context.Context, lastID string, count int) ([]domain.StreamEntry, error) {
	args := &redis.XReadArgs{
		Streams: []string{eventStream, lastID},
		Count:   int64(count),
		Block:   readBlock,
	}

	results, err := eb.rdb.XRead(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read: %w", err)
	}

	var entries []domain.StreamEntry
	for _, s := range results {
		for _, msg := range s.Messages {
			raw, ok := msg.Values["payload"]
			if !ok {
				continue
			}
			var data []byte
			switch v := raw.(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}

			var event domain.Event
			if err := json.Unmarshal(data, &event); err != nil {
				// Skip malformed entries rather than wedging the reader.
				continue
			}
			entries = append(entries, domain.StreamEntry{ID: msg.ID, Event: event})
		}
	}

	return entries, nil
}

// Compile-time interface check.
var _ domain.EventBus = (*EventBus)(nil)
