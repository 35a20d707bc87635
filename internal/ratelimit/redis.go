package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements sliding windows over redis sorted sets so
// several gateway replicas share one budget. Each window is a ZSET of
// request timestamps scored by unix-nanos.
type RedisLimiter struct {
	rdb    redis.Cmdable
	limits Limits
}

// NewRedisLimiter creates a redis-backed limiter
func NewRedisLimiter(rdb redis.Cmdable, limits Limits) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limits: limits}
}

// Allow checks all windows and records the request when admitted
func (l *RedisLimiter) Allow(ctx context.Context, ipHash string) (Result, error) {
	now := time.Now()

	checks := []struct {
		key    string
		span   time.Duration
		limit  int
		status Status
	}{
		{fmt.Sprintf("rl:ip:%s:minute", ipHash), time.Minute, l.limits.PerIPPerMinute, StatusBlockedIPMinute},
		{fmt.Sprintf("rl:ip:%s:hour", ipHash), time.Hour, l.limits.PerIPPerHour, StatusBlockedIPHour},
		{"rl:global:minute", time.Minute, l.limits.GlobalPerMinute, StatusBlockedGlobal},
	}

	// First pass: prune and count every window. Reject if any is full.
	for _, c := range checks {
		count, err := l.countWindow(ctx, c.key, now, c.span)
		if err != nil {
			return Result{}, err
		}
		if count >= c.limit {
			return Result{
				Status:     c.status,
				Allowed:    false,
				RetryAfter: c.span,
				Current:    count,
				Limit:      c.limit,
			}, nil
		}
	}

	// Second pass: record in every window.
	pipe := l.rdb.TxPipeline()
	member := fmt.Sprintf("%d", now.UnixNano())
	for _, c := range checks {
		pipe.ZAdd(ctx, c.key, redis.Z{Score: float64(now.UnixNano()), Member: member + ":" + c.key})
		pipe.Expire(ctx, c.key, c.span+time.Minute)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	return Result{
		Status:  StatusAllowed,
		Allowed: true,
		Limit:   l.limits.PerIPPerMinute,
	}, nil
}

func (l *RedisLimiter) countWindow(ctx context.Context, key string, now time.Time, span time.Duration) (int, error) {
	cutoff := now.Add(-span).UnixNano()

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	return int(card.Val()), nil
}
