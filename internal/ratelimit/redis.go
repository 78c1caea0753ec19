package ratelimit

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"pollcast/pkg/interfaces"
)

var _ interfaces.RateLimiter = (*RedisLimiter)(nil)

// RedisLimiter shares rate-limit state through Redis so several engine
// processes enforce one window per (poll, source) pair.
// TECHNICAL DISCOVERY: SET NX PX gives the exact semantics in one round
// trip: the first accepted vote creates the key with TTL = window, a
// rejected attempt finds the key and changes nothing, and expiry is the
// eviction strategy
type RedisLimiter struct {
	rdb    goredis.UniversalClient
	window time.Duration
	prefix string
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(rdb goredis.UniversalClient, window time.Duration, prefix string) *RedisLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if prefix == "" {
		prefix = "pollcast:ratelimit"
	}
	return &RedisLimiter{rdb: rdb, window: window, prefix: prefix}
}

// Admit implements interfaces.RateLimiter.
func (l *RedisLimiter) Admit(ctx context.Context, pollID, sourceAddress string) (bool, error) {
	key := l.key(pollID, sourceAddress)

	ok, err := l.rdb.SetNX(ctx, key, time.Now().UnixMilli(), l.window).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}
	return ok, nil
}

func (l *RedisLimiter) key(pollID, sourceAddress string) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, pollID, sourceAddress)
}
