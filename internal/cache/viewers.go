package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// viewerTTL is how long a viewer counts as present without a heartbeat.
const viewerTTL = 90 * time.Second

func viewersKey(streamID string) string { return "stream:" + streamID + ":viewers" }
func uniqueKey(streamID string) string  { return "stream:" + streamID + ":unique" }
func peakKey(streamID string) string    { return "stream:" + streamID + ":peak" }
func samplesKey(streamID string) string { return "stream:" + streamID + ":samples" }

// ViewerTracker keeps a sorted set of viewer ids scored by last-seen time and a
// HyperLogLog of everyone who ever joined.
type ViewerTracker struct {
	rdb redis.UniversalClient
	now func() time.Time
}

func NewViewerTracker(rdb redis.UniversalClient) *ViewerTracker {
	return &ViewerTracker{rdb: rdb, now: time.Now}
}

// Join marks userID present (also used as the heartbeat) and returns the live count.
func (v *ViewerTracker) Join(ctx context.Context, streamID, userID string) (int64, error) {
	now := v.now()
	pipe := v.rdb.TxPipeline()
	pipe.ZAdd(ctx, viewersKey(streamID), redis.Z{Score: float64(now.Unix()), Member: userID})
	pipe.PFAdd(ctx, uniqueKey(streamID), userID)
	pipe.ZRemRangeByScore(ctx, viewersKey(streamID), "-inf", strconv.FormatInt(now.Add(-viewerTTL).Unix(), 10))
	card := pipe.ZCard(ctx, viewersKey(streamID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("join stream %s: %w", streamID, err)
	}

	count := card.Val()
	if err := v.bumpPeak(ctx, streamID, count); err != nil {
		return count, err
	}
	return count, nil
}

func (v *ViewerTracker) Leave(ctx context.Context, streamID, userID string) (int64, error) {
	pipe := v.rdb.TxPipeline()
	pipe.ZRem(ctx, viewersKey(streamID), userID)
	card := pipe.ZCard(ctx, viewersKey(streamID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("leave stream %s: %w", streamID, err)
	}
	return card.Val(), nil
}

func (v *ViewerTracker) Count(ctx context.Context, streamID string) (int64, error) {
	min := strconv.FormatInt(v.now().Add(-viewerTTL).Unix(), 10)
	n, err := v.rdb.ZCount(ctx, viewersKey(streamID), min, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count viewers: %w", err)
	}
	return n, nil
}

func (v *ViewerTracker) Unique(ctx context.Context, streamID string) (int64, error) {
	n, err := v.rdb.PFCount(ctx, uniqueKey(streamID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count unique viewers: %w", err)
	}
	return n, nil
}

func (v *ViewerTracker) Peak(ctx context.Context, streamID string) (int64, error) {
	n, err := v.rdb.Get(ctx, peakKey(streamID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read peak viewers: %w", err)
	}
	return n, nil
}

var bumpPeakScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local n = tonumber(ARGV[1])
if n > cur then
  redis.call('SET', KEYS[1], n)
  return n
end
return cur
`)

func (v *ViewerTracker) bumpPeak(ctx context.Context, streamID string, count int64) error {
	if err := bumpPeakScript.Run(ctx, v.rdb, []string{peakKey(streamID)}, count).Err(); err != nil {
		return fmt.Errorf("update peak viewers: %w", err)
	}
	return nil
}

// Sample records the live count at one heartbeat for the average-viewers figure.
func (v *ViewerTracker) Sample(ctx context.Context, streamID string, count int64) error {
	if err := v.rdb.RPush(ctx, samplesKey(streamID), count).Err(); err != nil {
		return fmt.Errorf("sample viewers: %w", err)
	}
	return nil
}

func (v *ViewerTracker) Average(ctx context.Context, streamID string) (float64, error) {
	vals, err := v.rdb.LRange(ctx, samplesKey(streamID), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("read viewer samples: %w", err)
	}
	if len(vals) == 0 {
		return 0, nil
	}
	var sum int64
	for _, s := range vals {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		sum += n
	}
	return float64(sum) / float64(len(vals)), nil
}

// Clear drops all viewer state once a stream has ended and analytics are saved.
func (v *ViewerTracker) Clear(ctx context.Context, streamID string) error {
	return v.rdb.Del(ctx, viewersKey(streamID), uniqueKey(streamID), peakKey(streamID), samplesKey(streamID)).Err()
}
