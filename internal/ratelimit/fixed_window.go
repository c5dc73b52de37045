package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// RedisFixedWindow allows limit requests per subject in each aligned window.
// Counters live in Redis so every API replica shares them.
type RedisFixedWindow struct {
	client    redis.UniversalClient
	limit     int64
	window    time.Duration
	keyPrefix string
	now       func() time.Time
}

func NewRedisFixedWindow(client redis.UniversalClient, limit int, window time.Duration, keyPrefix string) (*RedisFixedWindow, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	if window < time.Millisecond {
		return nil, fmt.Errorf("window must be at least 1ms")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "shrinky:ratelimit"
	}

	return &RedisFixedWindow{
		client:    client,
		limit:     int64(limit),
		window:    window,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}, nil
}

func (l *RedisFixedWindow) Allow(ctx context.Context, subject string) (Decision, error) {
	now := l.now().UTC()
	key, resetAt := l.windowKey(subject, now)

	var count *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Incr(ctx, key)
		pipe.PExpire(ctx, key, l.window+time.Second)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("increment window counter: %w", err)
	}

	return l.decide(count.Val(), resetAt.Sub(now)), nil
}

func (l *RedisFixedWindow) decide(count int64, untilReset time.Duration) Decision {
	if count <= l.limit {
		return Decision{Allowed: true, Remaining: l.limit - count}
	}
	return Decision{Allowed: false, Remaining: 0, RetryAfter: untilReset}
}

func (l *RedisFixedWindow) windowKey(subject string, now time.Time) (string, time.Time) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	start := now.Truncate(l.window)
	return fmt.Sprintf("%s:%s:%d", l.keyPrefix, subject, start.UnixMilli()), start.Add(l.window)
}
