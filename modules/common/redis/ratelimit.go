package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter - 고정 윈도우 카운터 (rate_limit:{key})
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

// LimitResult - Allow 결과
type LimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// NewRateLimiter - window 당 limit 회
func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, limit: limit, window: window}
}

// Allow - 카운터 증가 후 허용 여부
func (l *RateLimiter) Allow(ctx context.Context, key string) (LimitResult, error) {
	redisKey := "rate_limit:" + key

	count64, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return LimitResult{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	// 윈도우 첫 요청에서만 만료 설정
	if count64 == 1 {
		if err := l.rdb.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return LimitResult{}, fmt.Errorf("rate limit expire %s: %w", key, err)
		}
	}

	count := int(count64)
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	res := LimitResult{Allowed: count <= l.limit, Remaining: remaining}
	if !res.Allowed {
		ttl, err := l.rdb.TTL(ctx, redisKey).Result()
		if err == nil && ttl > 0 {
			res.RetryAfter = ttl
		}
	}
	return res, nil
}
