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

// SnapshotCache implements domain.SnapshotCache using one Redis hash per
// venue holding the JSON-serialized market list and the capture timestamp.
// It backs the read API only; execution-time re-validation always fetches
// live prices from the venues.
//
// Key schema:
//
//	snapshot:{venue} - hash with fields "markets" (JSON array) and "taken_at"
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache with the given entry TTL.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying(), ttl: ttl}
}

func snapshotKey(venue domain.VenueName) string {
	return "snapshot:" + string(venue)
}

// SetSnapshot stores a venue's market snapshot, replacing any previous one.
func (sc *SnapshotCache) SetSnapshot(ctx context.Context, venue domain.VenueName, markets []domain.Market) error {
	data, err := json.Marshal(markets)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", venue, err)
	}

	key := snapshotKey(venue)
	pipe := sc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "markets", data, "taken_at", time.Now().UTC().Format(time.RFC3339Nano))
	pipe.Expire(ctx, key, sc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", venue, err)
	}
	return nil
}

// GetSnapshot returns the cached market list for a venue and when it was
// taken. It returns domain.ErrNotFound when no snapshot is cached.
func (sc *SnapshotCache) GetSnapshot(ctx context.Context, venue domain.VenueName) ([]domain.Market, time.Time, error) {
	vals, err := sc.rdb.HMGet(ctx, snapshotKey(venue), "markets", "taken_at").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, time.Time{}, domain.ErrNotFound
		}
		return nil, time.Time{}, fmt.Errorf("redis: get snapshot %s: %w", venue, err)
	}
	raw, ok := vals[0].(string)
	if !ok || raw == "" {
		return nil, time.Time{}, domain.ErrNotFound
	}

	var markets []domain.Market
	if err := json.Unmarshal([]byte(raw), &markets); err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", venue, err)
	}

	var takenAt time.Time
	if ts, ok := vals[1].(string); ok && ts != "" {
		takenAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return markets, takenAt, nil
}

// Invalidate removes a venue's cached snapshot.
func (sc *SnapshotCache) Invalidate(ctx context.Context, venue domain.VenueName) error {
	if err := sc.rdb.Del(ctx, snapshotKey(venue)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate snapshot %s: %w", venue, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
