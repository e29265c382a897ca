package cache

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"amplifi/internal/common"

	"github.com/redis/go-redis/v9"
)

// tokenBucket refills rate tokens per second up to capacity and spends one per
// call. Returns 1 when the call is allowed.
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local data = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = capacity
  ts = now
end
local elapsed = math.max(0, now - ts)
tokens = math.min(capacity, tokens + elapsed * rate / 1000)
local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end
redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('PEXPIRE', key, math.ceil(capacity / rate * 1000) + 1000)
return allowed
`)

type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type RateLimiter struct {
	rdb      redis.UniversalClient
	capacity int
	rate     float64 // tokens per second
	now      func() time.Time
}

// NewRateLimiter allows perMinute requests per key with bursts up to perMinute.
func NewRateLimiter(rdb redis.UniversalClient, perMinute int) *RateLimiter {
	return &RateLimiter{
		rdb:      rdb,
		capacity: perMinute,
		rate:     float64(perMinute) / 60,
		now:      time.Now,
	}
}

func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := tokenBucket.Run(ctx, l.rdb, []string{"ratelimit:" + key},
		strconv.FormatFloat(l.rate, 'f', -1, 64), l.capacity, l.now().UnixMilli()).Int64()
	if err != nil {
		// fail open: a Redis outage should not take the API down with it
		return true, fmt.Errorf("rate limit check: %w", err)
	}
	return res == 1, nil
}

// RateLimit keys authenticated requests by user and anonymous ones by client IP.
func RateLimit(l Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + clientIP(r)
			if uid := common.UserIDFrom(r.Context()); uid != "" {
				key = "user:" + uid
			}
			ok, err := l.Allow(r.Context(), key)
			if err != nil {
				common.Log.WithError(err).Warn("rate limiter unavailable")
			}
			if !ok {
				common.WriteError(w, common.NewError(common.ErrRateLimited, "too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
