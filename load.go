package gorawrcache

import (
	"context"
	"fmt"
	"time"
)

// LoadOptions controls how GetOrLoad stores a loaded value.
type LoadOptions struct {
	// TTL of the stored value; zero or less never expires.
	TTL time.Duration
	// Versioned stores the value under the key's effective key.
	Versioned bool
}

// GetOrLoad returns the cached value for key or calls loader and caches its
// result. Concurrent misses for the same effective key share one loader
// call. A cached value of another type than V is treated as a miss.
//
// A value that could not be stored (full store, failed seed) is still
// returned.
func GetOrLoad[V any](ctx context.Context, c *Cache, key string, opts LoadOptions, loader func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(V); ok {
			return typed, nil
		}
	}

	res, err, _ := c.loads.Do(c.table.EffectiveKey(key), func() (any, error) {
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(ctx, key, v, opts.TTL, opts.Versioned)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, fmt.Errorf("gorawrcache: load %s: %w", key, err)
	}
	typed, _ := res.(V)
	return typed, nil
}
