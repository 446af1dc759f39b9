// Package authority defines the shared, authoritative version store that
// every process consults to learn whether its cached values are stale, along
// with Redis and in-memory implementations.
//
// Versions live in a single hash per namespace: field = logical key,
// value = decimal version. A separate existence check looks at the backing
// record for a key, which lets the reconciler notice when that record has
// disappeared even though the version did not move.
package authority

import "context"

// Source is the authoritative version store.
type Source interface {
	// GetAll returns every logical key and version stored in namespace.
	GetAll(ctx context.Context, namespace string) (map[string]string, error)

	// Increment atomically bumps the version of key in namespace and
	// returns the new value. A missing field starts from zero.
	Increment(ctx context.Context, namespace, key string) (int64, error)

	// SetIfAbsent stores version for key unless a version already exists,
	// and returns the version now in effect.
	SetIfAbsent(ctx context.Context, namespace, key, version string) (string, error)

	// Exists reports whether the backing record named key is present.
	Exists(ctx context.Context, key string) (bool, error)
}
