// Package redis implements store.Store on top of a Redis-compatible server
// using go-redis v9. The admission operations run as server-side Lua scripts
// so that each check is a single atomic round trip; go-redis transparently
// uses EVALSHA and reloads the script after a NOSCRIPT reply.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatewarden/gatewarden/pkg/store"
)

// Config holds connection settings for the Redis backend.
type Config struct {
	// Addr is the host:port of the Redis server (default: "localhost:6379").
	Addr string

	// Password is the optional AUTH password.
	Password string

	// DB selects the logical database (default: 0).
	DB int

	// DialTimeout bounds connection establishment (default: 5s).
	DialTimeout time.Duration

	// ReadTimeout and WriteTimeout bound individual commands (default: 3s).
	// Every admission check inherits these, so a Store outage surfaces as
	// a bounded error rather than a hung request.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// PoolSize caps the connection pool (default: 10).
	PoolSize int
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
}

// Client is a Redis-backed store.Store.
type Client struct {
	rdb *redis.Client
}

// Ensure Client implements store.Store at compile time.
var _ store.Store = (*Client)(nil)

// New creates a Redis store client and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cfg.defaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	return &Client{rdb: rdb}, nil
}

// NewFromClient wraps an existing go-redis client. Useful for tests that
// provision their own server.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Get returns the value stored at key, or store.ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis GET %s: %w", key, err)
	}
	return val, nil
}

// SetEx stores value at key with the given TTL.
func (c *Client) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

// Delete removes the given keys.
func (c *Client) Delete(ctx context.Context, keys ...string) (int64, error) {
	n, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis DEL: %w", err)
	}
	return n, nil
}

// Exists reports whether key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS %s: %w", key, err)
	}
	return n > 0, nil
}

// SAdd adds members to the set at key.
func (c *Client) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := c.rdb.SAdd(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("redis SADD %s: %w", key, err)
	}
	return nil
}

// SRem removes members from the set at key.
func (c *Client) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := c.rdb.SRem(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("redis SREM %s: %w", key, err)
	}
	return nil
}

// SMembers returns all members of the set at key.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS %s: %w", key, err)
	}
	return members, nil
}

// Expire refreshes the TTL on key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis EXPIRE %s: %w", key, err)
	}
	return nil
}

// fixedWindowScript atomically increments the window counter, binds the
// key expiry to the window on first increment, and reports the remaining
// TTL when the limit is exceeded.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
local limit = tonumber(ARGV[2])
if count > limit then
	local ttl = redis.call("TTL", KEYS[1])
	if ttl < 0 then
		ttl = tonumber(ARGV[1])
	end
	return {0, 0, ttl}
end
return {1, limit - count, 0}
`)

// tokenBucketScript refills the bucket from elapsed time, consumes one
// token when available, and keeps the key expiring shortly after a full
// refill would complete.
var tokenBucketScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local data = redis.call("HMGET", KEYS[1], "tokens", "last")
local tokens = tonumber(data[1]) or capacity
local last = tonumber(data[2]) or now
local elapsed = now - last
local refill = math.floor(elapsed * rate)
tokens = math.min(capacity, tokens + refill)
if tokens < 1 then
	local wait = math.ceil((1 - tokens) / rate)
	return {0, 0, wait}
end
tokens = tokens - 1
redis.call("HSET", KEYS[1], "tokens", tokens, "last", now)
redis.call("EXPIRE", KEYS[1], math.ceil(capacity / rate) + 120)
return {1, tokens, 0}
`)

// slidingWindowScript trims timestamps older than the window, denies when
// the set is full, and otherwise records the request.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], 0, now - window)
local count = redis.call("ZCARD", KEYS[1])
if count >= limit then
	return {0, 0, 1}
end
redis.call("ZADD", KEYS[1], now, ARGV[4])
redis.call("EXPIRE", KEYS[1], window)
return {1, limit - count - 1, 0}
`)

// FixedWindow implements store.Admission.
func (c *Client) FixedWindow(ctx context.Context, key string, limit int, window time.Duration) (store.Decision, error) {
	res, err := fixedWindowScript.Run(ctx, c.rdb, []string{key},
		int(window.Seconds()), limit).Result()
	if err != nil {
		return store.Decision{}, fmt.Errorf("fixed window script on %s: %w", key, err)
	}
	return parseDecision(res)
}

// TokenBucket implements store.Admission.
func (c *Client) TokenBucket(ctx context.Context, key string, ratePerSec float64, capacity int) (store.Decision, error) {
	now := time.Now().Unix()
	res, err := tokenBucketScript.Run(ctx, c.rdb, []string{key},
		now, strconv.FormatFloat(ratePerSec, 'f', -1, 64), capacity).Result()
	if err != nil {
		return store.Decision{}, fmt.Errorf("token bucket script on %s: %w", key, err)
	}
	return parseDecision(res)
}

// SlidingWindow implements store.Admission. The member written to the set
// is the request's nanosecond timestamp, which keeps concurrent entries
// distinct while the score stays in window seconds.
func (c *Client) SlidingWindow(ctx context.Context, key string, limit int, window time.Duration) (store.Decision, error) {
	now := time.Now()
	res, err := slidingWindowScript.Run(ctx, c.rdb, []string{key},
		now.Unix(), int(window.Seconds()), limit,
		strconv.FormatInt(now.UnixNano(), 10)).Result()
	if err != nil {
		return store.Decision{}, fmt.Errorf("sliding window script on %s: %w", key, err)
	}
	return parseDecision(res)
}

// parseDecision converts the {allowed, remaining, retryAfterSeconds}
// triple every admission script returns.
func parseDecision(res any) (store.Decision, error) {
	vals, ok := res.([]any)
	if !ok || len(vals) != 3 {
		return store.Decision{}, fmt.Errorf("unexpected script reply %v", res)
	}

	nums := make([]int64, 3)
	for i, v := range vals {
		n, ok := v.(int64)
		if !ok {
			return store.Decision{}, fmt.Errorf("unexpected script reply element %v", v)
		}
		nums[i] = n
	}

	return store.Decision{
		Allowed:    nums[0] == 1,
		Remaining:  int(nums[1]),
		RetryAfter: time.Duration(nums[2]) * time.Second,
	}, nil
}
