// Package ratelimit throttles failed login attempts per identifier using
// fixed-window counters in Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

var (
	ErrRateLimited = errors.New("too many login attempts")
	ErrUnavailable = errors.New("rate limiter backend unavailable")
)

type Config struct {
	MaxAttempts int
	Cooldown    time.Duration
	KeyPrefix   string
}

type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

func New(client redis.UniversalClient, cfg Config) *Limiter {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "accounts"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Minute
	}

	return &Limiter{redis: client, config: cfg}
}

// Ping waits for Redis to answer, retrying with backoff.
func (l *Limiter) Ping(ctx context.Context) error {
	backoff := retry.WithMaxRetries(5, retry.NewExponential(100*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := l.redis.Ping(ctx).Err(); err != nil {
			return retry.RetryableError(fmt.Errorf("%w: %v", ErrUnavailable, err))
		}
		return nil
	})
}

// Check reports ErrRateLimited once identifier has used up its failure budget
// in the current window.
func (l *Limiter) Check(ctx context.Context, identifier string) error {
	count, err := l.redis.Get(ctx, l.key(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if count >= int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}

	return nil
}

// Increment records a failed attempt. The window starts with the first
// failure; the counter and its expiry are written in one transaction.
func (l *Limiter) Increment(ctx context.Context, identifier string) error {
	key := l.key(identifier)

	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, l.config.Cooldown)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// Reset clears the failure counter, called after a successful login.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	if err := l.redis.Del(ctx, l.key(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (l *Limiter) key(identifier string) string {
	return l.config.KeyPrefix + ":login:" + strings.ToLower(strings.TrimSpace(identifier))
}
