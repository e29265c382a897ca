package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	GlobalFeedKey     = "feed:global:first"
	followingFeedBase = "feed:following:first:"
)

func FollowingFeedKey(userID string) string {
	return followingFeedBase + userID
}

// FeedCache stores serialized first pages. Only first pages are cached; deeper
// pages always hit the database so cursors stay exact.
type FeedCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewFeedCache(rdb redis.UniversalClient, ttl time.Duration) *FeedCache {
	return &FeedCache{rdb: rdb, ttl: ttl}
}

func (c *FeedCache) GetPage(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("feed cache get: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// stale shape after a deploy; treat as a miss
		_ = c.rdb.Del(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

func (c *FeedCache) SetPage(ctx context.Context, key string, page any) error {
	raw, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("feed cache encode: %w", err)
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("feed cache set: %w", err)
	}
	return nil
}

func (c *FeedCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("feed cache invalidate: %w", err)
	}
	return nil
}
