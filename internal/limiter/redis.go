package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Prune, count and record as one script so two racing instances cannot both
// observe the last free slot.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= max then
	return 0
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisStore shares sliding-window state across gateway instances using a
// sorted set per sender key, scored by accept time in milliseconds.
type RedisStore struct {
	rdb    *redis.Client
	window time.Duration
	max    int
	prefix string
}

func NewRedisStore(rdb *redis.Client, window time.Duration, max int) *RedisStore {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMax
	}
	return &RedisStore{rdb: rdb, window: window, max: max, prefix: "ratelimit:"}
}

func (s *RedisStore) Allow(ctx context.Context, key string, now time.Time) (bool, error) {
	res, err := slidingWindowScript.Run(ctx, s.rdb, []string{s.prefix + key},
		now.UnixMilli(), s.window.Milliseconds(), s.max, uuid.NewString()).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit script: %w", err)
	}
	return res == 1, nil
}
