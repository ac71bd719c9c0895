package domain

import (
	"context"
	"time"
)

// SnapshotCache stores the most recent venue market snapshots for the read
// API. Execution-time re-validation never reads it: live prices only.
type SnapshotCache interface {
	SetSnapshot(ctx context.Context, venue VenueName, markets []Market) error
	GetSnapshot(ctx context.Context, venue VenueName) ([]Market, time.Time, error)
	Invalidate(ctx context.Context, venue VenueName) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking. Acquire returns ErrLockHeld
// when another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamEntry is a single entry read back from the event stream.
type StreamEntry struct {
	ID    string
	Event Event
}

// EventBus publishes domain events to a durable stream consumed by the
// websocket hub and the notifier.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Read(ctx context.Context, lastID string, count int) ([]StreamEntry, error)
}
