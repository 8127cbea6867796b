// Package ratelimit guards run submission with a per-tenant token bucket held
// in Redis, so the limit is shared across API replicas and survives restarts.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tenant buckets live under their own namespace; an idle tenant's bucket
// expires with the TTL instead of lingering forever.
const tenantKeyPrefix = "ratelimit:tenant:"

// TokenBucket is a distributed token bucket keyed per tenant.
type TokenBucket struct {
	client       *redis.Client
	capacity     int
	refillPerSec float64
	bucketTTL    time.Duration
}

// NewTokenBucket constructs a bucket with the provided capacity and refill
// rate. Every tenant gets an independent bucket on first use.
func NewTokenBucket(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *TokenBucket {
	return &TokenBucket{
		client:       client,
		capacity:     capacity,
		refillPerSec: refillPerSecond,
		bucketTTL:    ttl,
	}
}

// Allow consumes one token from the tenant's bucket if available. It returns
// whether the submission may proceed and the tokens remaining.
func (b *TokenBucket) Allow(ctx context.Context, tenant string) (bool, float64, error) {
	if tenant == "" {
		tenant = "default"
	}
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, b.client, []string{tenantKeyPrefix + tenant},
		b.capacity, b.refillPerSec, now, b.bucketTTL.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, nil
	}
	allowed := arr[0].(int64) == 1
	var remaining float64
	switch v := arr[1].(type) {
	case int64:
		remaining = float64(v)
	case float64:
		remaining = v
	}
	return allowed, remaining, nil
}

// Refill is computed lazily from the elapsed time since the last consume, so
// the bucket needs no background process.
var bucketScript = redis.NewScript(`
local bucket = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_sec = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local state = redis.call('HMGET', bucket, 'tokens', 'stamp_ms')
local tokens = tonumber(state[1])
local stamp = tonumber(state[2])
if tokens == nil then tokens = capacity end
if stamp == nil then stamp = now_ms end

local elapsed_ms = math.max(0, now_ms - stamp)
tokens = math.min(capacity, tokens + elapsed_ms / 1000 * refill_per_sec)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', bucket, 'tokens', tokens, 'stamp_ms', now_ms)
if ttl_ms > 0 then redis.call('PEXPIRE', bucket, ttl_ms) end
return {allowed, tokens}
`)
