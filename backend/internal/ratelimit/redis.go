package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "papertrade:rl:"

// RedisLimiter shares counters across every replica pointed at the same Redis.
// Each window gets its own key, which expires when the window closes.
type RedisLimiter struct {
	client redis.Cmdable
	policy Policy
	prefix string
}

func NewRedis(client redis.Cmdable, limit int, window time.Duration, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisLimiter{
		client: client,
		policy: Policy{Limit: limit, Window: window},
		prefix: prefix,
	}
}

func (l *RedisLimiter) redisKey(key Key, start time.Time) string {
	return l.prefix + key.String() + ":" + windowID(start)
}

func (l *RedisLimiter) Take(ctx context.Context, key Key, now time.Time) (Decision, error) {
	if err := l.policy.validate(); err != nil {
		return Decision{}, err
	}
	start, end := l.policy.bounds(now)
	rk := l.redisKey(key, start)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, rk)
		pipe.PExpire(ctx, rk, end.Sub(now)+time.Second)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return l.policy.decide(int(incr.Val()), now, end), nil
}
