package gorawrcache

import (
	"log/slog"
	"time"

	"github.com/Keksclan/goRawrCache/authority"
	"github.com/Keksclan/goRawrCache/notify"
	"github.com/Keksclan/goRawrCache/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Cache.
type Option func(*config)

// WithSweepInterval sets how often expired entries are removed.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// WithReconcileInterval sets how often versions are compared with the
// authoritative source. It bounds how long a stale value can be served.
func WithReconcileInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.reconcileInterval = d
		}
	}
}

// WithMaxEntries caps the number of locally stored entries. Puts beyond the
// cap are rejected. Zero or less removes the cap.
func WithMaxEntries(n int) Option {
	return func(c *config) { c.maxEntries = n }
}

// WithNamespace sets the name of the version hash in the shared store.
func WithNamespace(ns string) Option {
	return func(c *config) {
		if ns != "" {
			c.namespace = ns
		}
	}
}

// WithDefaultVersion sets the version seeded for keys seen for the first
// time. It must be a decimal integer so that Evict can increment it.
func WithDefaultVersion(v string) Option {
	return func(c *config) {
		if v != "" {
			c.defaultVersion = v
		}
	}
}

// WithNotifier sets the receiver of refresh notifications.
func WithNotifier(n notify.Notifier) Option {
	return func(c *config) { c.notifier = n }
}

// WithNotifyRateLimit drops refresh notifications beyond rps per second
// (with the given burst, at least 1).
func WithNotifyRateLimit(rps float64, burst int) Option {
	return func(c *config) {
		c.notifyRPS = rps
		c.notifyBurst = burst
	}
}

// WithRecordKey maps a logical key to the name of its backing record in the
// shared store. The reconciler notifies a key's handler when that record
// disappears. The logical key itself is used when unset.
func WithRecordKey(fn func(key string) string) Option {
	return func(c *config) { c.recordKey = fn }
}

// WithGuard wraps the authoritative source in retries and a circuit breaker.
func WithGuard(cfg authority.GuardConfig) Option {
	return func(c *config) { c.guard = &cfg }
}

// WithLogger sets the structured logger. slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMetrics registers the cache's Prometheus collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *config) { c.registry = reg }
}

// WithTracerProvider enables OpenTelemetry spans around calls to the
// authoritative source.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.tracing = &tracing.Config{TracerProvider: tp} }
}
