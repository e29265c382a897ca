package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func timeoutKey(streamID, userID string) string {
	return "timeout:" + streamID + "_" + userID
}

// TimeoutStore mutes a user in one stream's chat until the key expires.
type TimeoutStore struct {
	rdb redis.UniversalClient
}

func NewTimeoutStore(rdb redis.UniversalClient) *TimeoutStore {
	return &TimeoutStore{rdb: rdb}
}

func (s *TimeoutStore) Set(ctx context.Context, streamID, userID string, d time.Duration) error {
	if err := s.rdb.Set(ctx, timeoutKey(streamID, userID), time.Now().Add(d).Unix(), d).Err(); err != nil {
		return fmt.Errorf("set chat timeout: %w", err)
	}
	return nil
}

// Remaining returns how long the user stays muted, zero when they may chat.
func (s *TimeoutStore) Remaining(ctx context.Context, streamID, userID string) (time.Duration, error) {
	d, err := s.rdb.TTL(ctx, timeoutKey(streamID, userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("read chat timeout: %w", err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (s *TimeoutStore) Clear(ctx context.Context, streamID, userID string) error {
	return s.rdb.Del(ctx, timeoutKey(streamID, userID)).Err()
}
