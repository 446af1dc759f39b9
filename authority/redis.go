package authority

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis is a Source backed by a Redis hash per namespace. Unlike a plain
// cache layer it does not fail soft: errors propagate so the reconciler can
// abandon a cycle and the facade can refuse to cache what it cannot version.
type Redis struct {
	rdb        redis.UniversalClient
	ownsClient bool
}

// NewRedis creates a Redis source with its own client.
func NewRedis(addr, password string, db int) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	r := NewRedisClient(rdb)
	r.ownsClient = true
	return r
}

// NewRedisClient wraps an existing client. Close does not close rdb.
func NewRedisClient(rdb redis.UniversalClient) *Redis {
	return &Redis{rdb: rdb}
}

// GetAll implements Source with HGETALL.
func (r *Redis) GetAll(ctx context.Context, namespace string) (map[string]string, error) {
	m, err := r.rdb.HGetAll(ctx, namespace).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "hgetall %s", namespace)
	}
	return m, nil
}

// Increment implements Source with HINCRBY.
func (r *Redis) Increment(ctx context.Context, namespace, key string) (int64, error) {
	n, err := r.rdb.HIncrBy(ctx, namespace, key, 1).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "hincrby %s %s", namespace, key)
	}
	return n, nil
}

// SetIfAbsent implements Source with HSETNX, falling back to HGET when a
// version is already stored.
func (r *Redis) SetIfAbsent(ctx context.Context, namespace, key, version string) (string, error) {
	set, err := r.rdb.HSetNX(ctx, namespace, key, version).Result()
	if err != nil {
		return "", errors.Wrapf(err, "hsetnx %s %s", namespace, key)
	}
	if set {
		return version, nil
	}
	cur, err := r.rdb.HGet(ctx, namespace, key).Result()
	if errors.Is(err, redis.Nil) {
		// Deleted between the two calls; the caller's version is as good
		// as any.
		return version, nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "hget %s %s", namespace, key)
	}
	return cur, nil
}

// Exists implements Source with EXISTS on key. Mapping a logical key to its
// record name is the caller's job (see gorawrcache.WithRecordKey).
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, errors.Wrapf(err, "exists %s", key)
	}
	return n > 0, nil
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the underlying client when it was created by NewRedis.
func (r *Redis) Close() error {
	if !r.ownsClient {
		return nil
	}
	return r.rdb.Close()
}
