package epoch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares partition epochs across processes and survives restarts,
// which is what makes snapshot validation meaningful after a redeploy.
// Optionally, a TTL can be applied to epoch keys to prevent unbounded
// growth. If an epoch key expires, readers observe epoch 0; a snapshot saved
// at epoch 0 then restores normally and anything newer is rejected.
type RedisStore struct {
	rdb redis.UniversalClient
	ns  string        // logical namespace; should match the store's Resource
	ttl time.Duration // optional TTL for epoch keys; 0 disables expiry
}

var _ Store = (*RedisStore)(nil)

// NewRedis creates a Redis-backed epoch store without TTL.
func NewRedis(client redis.UniversalClient, namespace string) *RedisStore {
	return &RedisStore{rdb: client, ns: namespace}
}

// NewRedisWithTTL creates a Redis-backed epoch store with TTL.
// If ttl <= 0, keys do not expire.
func NewRedisWithTTL(client redis.UniversalClient, namespace string, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: client, ns: namespace, ttl: ttl}
}

func (s *RedisStore) key(partition string) string { return "epoch:" + s.ns + ":" + partition }

// Current returns the partition's epoch. Missing keys read as 0.
func (s *RedisStore) Current(ctx context.Context, partition string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(partition)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis epoch parse: %w", err)
	}
	return u, nil
}

// Bump atomically increments the epoch and (optionally) refreshes TTL.
// When ttl > 0, INCR + EXPIRE are pipelined in a single round-trip and the
// INCR result is captured from the pipeline (no extra INCR).
func (s *RedisStore) Bump(ctx context.Context, partition string) (uint64, error) {
	k := s.key(partition)

	if s.ttl <= 0 {
		v, err := s.rdb.Incr(ctx, k).Result()
		if err != nil {
			return 0, err
		}
		return uint64(v), nil
	}

	var incr *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close(ctx context.Context) error { return s.rdb.Close() }
