package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowScript increments the key, starts its expiry on the first hit and
// returns the count together with the remaining ttl in milliseconds.
var windowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// RedisLimiter shares counters between instances through Redis. When Redis
// cannot answer, the decision comes from the in-process fallback.
type RedisLimiter struct {
	client   redis.Scripter
	limit    int
	window   time.Duration
	prefix   string
	fallback *MemoryLimiter
}

func NewRedis(client redis.Scripter, limit int, every time.Duration) *RedisLimiter {
	fallback := NewMemory(limit, every)
	return &RedisLimiter{
		client:   client,
		limit:    fallback.limit,
		window:   fallback.window,
		prefix:   "docreconstruct:rl:",
		fallback: fallback,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) Decision {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	res, err := windowScript.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		slog.Warn("Redis rate limiter unavailable, using in-process fallback.", "error", err)
		return l.fallback.Allow(ctx, key)
	}
	ttl := time.Duration(res[1]) * time.Millisecond
	if ttl < 0 {
		ttl = l.window
	}
	return decide(int(res[0]), l.limit, time.Now().UTC().Add(ttl))
}
