package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// rateLimitScript implements a token bucket atomically in Redis: refill for
// the elapsed time, then take the requested tokens if available. Both state
// keys expire after twice the full refill time so idle keys clean themselves
// up.
var rateLimitScript = redis.NewScript(`
local tokens_key = KEYS[1]
local timestamp_key = KEYS[2]

local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local fill_time = capacity / rate
local ttl = math.floor(fill_time * 2)
if ttl < 1 then
  ttl = 1
end

local last_tokens = tonumber(redis.call("get", tokens_key))
if last_tokens == nil then
  last_tokens = capacity
end

local last_refreshed = tonumber(redis.call("get", timestamp_key))
if last_refreshed == nil then
  last_refreshed = 0
end

local delta = math.max(0, now - last_refreshed)
local filled_tokens = math.min(capacity, last_tokens + (delta * rate))
local allowed = filled_tokens >= requested
local new_tokens = filled_tokens
if allowed then
  new_tokens = filled_tokens - requested
end

redis.call("setex", tokens_key, ttl, new_tokens)
redis.call("setex", timestamp_key, ttl, now)

local allowed_num = 0
if allowed then
  allowed_num = 1
end
return { allowed_num, math.floor(new_tokens) }
`)

// RedisLimiter is the distributed token-bucket store: all gateway instances
// sharing the same Redis see the same buckets.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	rate   int
	burst  int
	now    func() time.Time
}

// NewRedisLimiter creates a limiter whose keys live under
// "ratelimit:<prefix>:".
func NewRedisLimiter(client *redis.Client, prefix string, rps, burst int) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		rate:   rps,
		burst:  burst,
		now:    time.Now,
	}
}

// Allow runs the bucket script for the key and reports the decision.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	keys := []string{
		fmt.Sprintf("ratelimit:%s:%s:tokens", l.prefix, key),
		fmt.Sprintf("ratelimit:%s:%s:ts", l.prefix, key),
	}
	res, err := rateLimitScript.Run(ctx, l.client, keys,
		l.rate, l.burst, l.now().Unix(), 1,
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	allowed, _ := res[0].(int64)
	remaining, _ := res[1].(int64)

	d := Decision{
		Allowed:   allowed == 1,
		Limit:     l.burst,
		Remaining: int(remaining),
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(math.Ceil(1/float64(l.rate))) * time.Second
	}
	return d, nil
}
