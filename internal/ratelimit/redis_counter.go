// Package ratelimit stores httprate window counters in Redis so every instance
// behind the load balancer shares one budget per client.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"
)

// Options configures a RedisLimitCounter
type Options struct {
	// Prefix namespaces keys, e.g. "petguard:login"
	Prefix string
	// Timeout bounds every Redis round trip
	Timeout time.Duration
	// FallbackInMemory counts locally while Redis is unreachable instead of failing requests
	FallbackInMemory bool
}

// RedisLimitCounter implements httprate.LimitCounter with one Redis key per
// (client, window). Keys expire on their own, so no sweeper is needed.
type RedisLimitCounter struct {
	client       redis.UniversalClient
	opts         Options
	windowLength time.Duration
	fallback     httprate.LimitCounter
	logger       *slog.Logger
}

var _ httprate.LimitCounter = (*RedisLimitCounter)(nil)

// NewRedisLimitCounter wraps client
func NewRedisLimitCounter(client redis.UniversalClient, opts Options, logger *slog.Logger) *RedisLimitCounter {
	if opts.Prefix == "" {
		opts.Prefix = "httprate"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 100 * time.Millisecond
	}

	return &RedisLimitCounter{
		client: client,
		opts:   opts,
		logger: logger,
	}
}

// Config is called once by httprate with the limiter's window
func (c *RedisLimitCounter) Config(requestLimit int, windowLength time.Duration) {
	c.windowLength = windowLength
	if c.opts.FallbackInMemory {
		c.fallback = httprate.NewLocalLimitCounter(windowLength)
		c.fallback.Config(requestLimit, windowLength)
	}
}

func (c *RedisLimitCounter) Increment(key string, currentWindow time.Time) error {
	return c.IncrementBy(key, currentWindow, 1)
}

func (c *RedisLimitCounter) IncrementBy(key string, currentWindow time.Time, amount int) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()

	k := c.windowKey(key, currentWindow)

	// Keep the previous window readable for httprate's sliding estimate
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, k, int64(amount))
		pipe.Expire(ctx, k, 3*c.windowLength)
		return nil
	})
	if err != nil {
		if c.fallback != nil {
			c.logger.Warn("redis rate limit counter unavailable, counting locally", slog.Any("error", err))
			return c.fallback.IncrementBy(key, currentWindow, amount)
		}
		return fmt.Errorf("rate limit increment: %w", err)
	}

	return nil
}

func (c *RedisLimitCounter) Get(key string, currentWindow, previousWindow time.Time) (int, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()

	values, err := c.client.MGet(ctx,
		c.windowKey(key, currentWindow),
		c.windowKey(key, previousWindow),
	).Result()
	if err != nil {
		if c.fallback != nil {
			c.logger.Warn("redis rate limit counter unavailable, reading locally", slog.Any("error", err))
			return c.fallback.Get(key, currentWindow, previousWindow)
		}
		return 0, 0, fmt.Errorf("rate limit get: %w", err)
	}

	return toCount(values[0]), toCount(values[1]), nil
}

func (c *RedisLimitCounter) windowKey(key string, window time.Time) string {
	return fmt.Sprintf("%s:%s:%d", c.opts.Prefix, key, window.Unix())
}

func toCount(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
