package admission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "admission:bucket:"

// tokenBucketScript refills and consumes atomically on the Redis side so
// concurrent frontends share one bucket per (zone, client).
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now_us = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'updated_us')
local tokens = tonumber(state[1])
local updated = tonumber(state[2])
if tokens == nil then
  tokens = burst
  updated = now_us
end

local elapsed = math.max(0, now_us - updated)
tokens = math.min(burst, tokens + elapsed * rate / 1000000)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'updated_us', now_us)
redis.call('PEXPIRE', key, ttl_ms)
return allowed
`)

// RedisBuckets stores leaky buckets in Redis so several instances enforce a
// shared limit. Bucket state expires with the idle TTL, which doubles as the
// lazy eviction mechanism.
type RedisBuckets struct {
	client  *redis.Client
	idleTTL time.Duration
}

// NewRedisBuckets wraps an existing Redis client.
func NewRedisBuckets(client *redis.Client, idleTTL time.Duration) *RedisBuckets {
	if idleTTL <= 0 {
		idleTTL = 15 * time.Minute
	}
	return &RedisBuckets{client: client, idleTTL: idleTTL}
}

// Allow consumes one token from the shared (zone, client) bucket.
func (s *RedisBuckets) Allow(ctx context.Context, zone Zone, clientKey string) (bool, error) {
	key := redisKeyPrefix + zone.Name + "|" + clientKey
	res, err := tokenBucketScript.Run(ctx, s.client, []string{key},
		zone.Rate, zone.Burst, time.Now().UnixMicro(), s.idleTTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis token bucket: %w", err)
	}
	return res == 1, nil
}

// ActiveClients counts distinct clients across live buckets. The scan is
// bounded by the idle TTL keeping the keyspace small.
func (s *RedisBuckets) ActiveClients() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	clients := make(map[string]struct{})
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), redisKeyPrefix)
		if i := strings.IndexByte(key, '|'); i >= 0 {
			clients[key[i+1:]] = struct{}{}
		}
	}
	if iter.Err() != nil {
		return 0
	}
	return len(clients)
}

// Close releases the Redis client.
func (s *RedisBuckets) Close() error { return s.client.Close() }
