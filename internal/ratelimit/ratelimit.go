// Package ratelimit provides per-domain rate limiting primitives. Both the
// token bucket and the sliding window run as Redis Lua scripts so the
// critical section executes server-side and stays atomic across workers.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultCapacity is the default token bucket capacity per domain.
	DefaultCapacity = 10

	// DefaultRefillPerSec is the default bucket refill rate per domain.
	DefaultRefillPerSec = 1.0

	// bucketTTL bounds the lifetime of idle bucket state.
	bucketTTL = 5 * time.Minute

	// bucketKeyPrefix namespaces token bucket keys.
	bucketKeyPrefix = "tokens:"

	// windowKeyPrefix namespaces sliding window keys.
	windowKeyPrefix = "window:"

	millisPerSecond = 1000
)

// tokenBucketScript refills the bucket based on elapsed time and consumes one
// token when available. KEYS[1] = bucket key; ARGV = capacity, refill/sec,
// now millis, ttl millis. Returns 1 when the request is allowed.
var tokenBucketScript = redis.NewScript(`
	local capacity = tonumber(ARGV[1])
	local refill = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local state = redis.call("hmget", KEYS[1], "tokens", "last_refill_millis")
	local tokens = tonumber(state[1])
	local last = tonumber(state[2])

	if tokens == nil then
		tokens = capacity
		last = now
	end

	local elapsed = (now - last) / 1000.0
	if elapsed > 0 then
		tokens = math.min(capacity, tokens + elapsed * refill)
	end

	local allowed = 0
	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	end

	redis.call("hset", KEYS[1], "tokens", tostring(tokens), "last_refill_millis", tostring(now))
	redis.call("pexpire", KEYS[1], ttl)

	return allowed
`)

// slidingWindowScript prunes expired members, then admits the request only
// when the window has room. KEYS[1] = window key; ARGV = now millis, window
// millis, max requests. Returns 1 when admitted.
var slidingWindowScript = redis.NewScript(`
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local max = tonumber(ARGV[3])

	redis.call("zremrangebyscore", KEYS[1], "-inf", now - window)

	if redis.call("zcard", KEYS[1]) < max then
		redis.call("zadd", KEYS[1], now, tostring(now) .. "-" .. tostring(math.random(1000000)))
		redis.call("pexpire", KEYS[1], window)
		return 1
	end

	return 0
`)

// Controller implements per-domain token buckets and sliding windows.
type Controller struct {
	client *redis.Client
}

// NewController creates a rate controller on the given Redis client.
func NewController(client *redis.Client) *Controller {
	return &Controller{client: client}
}

// Allow consumes one token from the domain's bucket, refilling it first based
// on elapsed time. Returns true when the request may proceed.
func (c *Controller) Allow(ctx context.Context, domain string, capacity float64, refillPerSec float64) (bool, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if refillPerSec <= 0 {
		refillPerSec = DefaultRefillPerSec
	}

	now := time.Now().UnixMilli()

	allowed, err := tokenBucketScript.Run(
		ctx, c.client,
		[]string{bucketKeyPrefix + domain},
		capacity, refillPerSec, now, bucketTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("token bucket: %w", err)
	}

	return allowed == 1, nil
}

// AllowWindow admits the request only when fewer than maxRequests have been
// admitted for the domain within the trailing window.
func (c *Controller) AllowWindow(ctx context.Context, domain string, window time.Duration, maxRequests int) (bool, error) {
	now := time.Now().UnixMilli()

	allowed, err := slidingWindowScript.Run(
		ctx, c.client,
		[]string{windowKeyPrefix + domain},
		now, window.Milliseconds(), maxRequests,
	).Int()
	if err != nil {
		return false, fmt.Errorf("sliding window: %w", err)
	}

	return allowed == 1, nil
}

// Status describes the current rate-limit state for a domain.
type Status struct {
	Domain       string  `json:"domain"`
	Tokens       float64 `json:"tokens"`
	LastRefillMs int64   `json:"last_refill_millis"`
	WindowCount  int64   `json:"window_count"`
}

// Status returns the bucket and window state for a domain. Missing state
// reports a full bucket and an empty window.
func (c *Controller) Status(ctx context.Context, domain string, capacity float64) (*Status, error) {
	status := &Status{Domain: domain, Tokens: capacity}

	state, err := c.client.HMGet(ctx, bucketKeyPrefix+domain, "tokens", "last_refill_millis").Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit status: %w", err)
	}

	if raw, ok := state[0].(string); ok {
		if tokens, parseErr := strconv.ParseFloat(raw, 64); parseErr == nil {
			status.Tokens = tokens
		}
	}
	if raw, ok := state[1].(string); ok {
		if last, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil {
			status.LastRefillMs = last
		}
	}

	count, err := c.client.ZCard(ctx, windowKeyPrefix+domain).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit status: %w", err)
	}
	status.WindowCount = count

	return status, nil
}

// Reset clears all rate-limit state for a domain.
func (c *Controller) Reset(ctx context.Context, domain string) error {
	if err := c.client.Del(ctx, bucketKeyPrefix+domain, windowKeyPrefix+domain).Err(); err != nil {
		return fmt.Errorf("rate limit reset: %w", err)
	}
	return nil
}

// RefillForCrawlDelay converts a robots.txt crawl-delay into a bucket refill
// rate. A zero delay keeps the default rate.
func RefillForCrawlDelay(crawlDelay time.Duration) float64 {
	if crawlDelay <= 0 {
		return DefaultRefillPerSec
	}
	return float64(millisPerSecond) / float64(crawlDelay.Milliseconds())
}
