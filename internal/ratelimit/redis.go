package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qcom/otpverify/internal/clock"
	"github.com/redis/go-redis/v9"
)

const slidingWindowScript = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", tonumber(ARGV[1]) - tonumber(ARGV[2]))
local count = redis.call("ZCARD", KEYS[1])
if count >= tonumber(ARGV[3]) then
  return 0
end
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`

// RedisLimiter is a sliding window limiter shared between processes through a sorted set per key.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	script *redis.Script
	clock  clock.Clocker
}

func NewRedisLimiter(client *redis.Client, prefix string, clk clock.Clocker) *RedisLimiter {
	if client == nil {
		return nil
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		script: redis.NewScript(slidingWindowScript),
		clock:  clk,
	}
}

func (l *RedisLimiter) Take(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return true, nil
	}
	if key == "" || limit <= 0 || window <= 0 {
		return true, nil
	}

	redisKey := key
	if l.prefix != "" {
		redisKey = l.prefix + ":" + key
	}

	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}

	ctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()

	now := l.clock.Now().UnixMilli()
	allowed, err := l.script.Run(ctx, l.client, []string{redisKey}, now, windowMs, limit, uuid.NewString()).Int64()
	if err != nil {
		return true, fmt.Errorf("failed to run rate limit script: %w", err)
	}
	return allowed == 1, nil
}
