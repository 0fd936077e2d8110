package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter: the first hit in a window starts its
// expiry, and hits beyond Limit within the window are refused.
type RateLimiter struct {
	redis  goredis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRateLimiter(redisClient goredis.UniversalClient, prefix string, limit int, window time.Duration) *RateLimiter {
	if prefix == "" {
		prefix = "acct:rl"
	}
	return &RateLimiter{
		redis:  redisClient,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	fullKey := l.prefix + ":" + key
	count, err := l.redis.Incr(ctx, fullKey).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, fullKey, l.window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count <= int64(l.limit), nil
}
