// Package gorawrcache is a process-local cache that stays consistent with a
// shared authoritative version record when several processes cache values
// derived from the same logical key.
//
// A versioned entry is stored under its effective key, the logical key
// concatenated with the key's current version. Invalidating a key anywhere
// (Evict) bumps the authoritative version; every process notices on its next
// reconciliation cycle, drops the entry stored under the old version and
// signals the handler bound to the key.
//
//	c, err := gorawrcache.New(authority.NewRedis("localhost:6379", "", 0),
//		gorawrcache.WithNotifier(refresher),
//	)
//	if err != nil { ... }
//	if err := c.Start(ctx); err != nil { ... }
//	defer c.Stop()
//
//	c.Put(ctx, "report:42", report, 10*time.Minute, true)
package gorawrcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/Keksclan/goRawrCache/authority"
	"github.com/Keksclan/goRawrCache/metrics"
	"github.com/Keksclan/goRawrCache/notify"
	"github.com/Keksclan/goRawrCache/reconcile"
	"github.com/Keksclan/goRawrCache/store"
	"github.com/Keksclan/goRawrCache/sweep"
	"github.com/Keksclan/goRawrCache/tracing"
	"github.com/Keksclan/goRawrCache/version"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNilSource is returned by New when no authoritative source is given.
	ErrNilSource = errors.New("gorawrcache: nil authoritative source")
	// ErrAlreadyStarted is returned by Start when the loops are running.
	ErrAlreadyStarted = errors.New("gorawrcache: already started")
)

// Report is the outcome of one reconciliation cycle.
type Report = reconcile.Report

// Cache is the versioned local cache. Create it with New; the zero value is
// not usable.
type Cache struct {
	cfg config
	src authority.Source

	store      *store.Local
	table      *version.Table
	registry   *notify.Registry
	sweeper    *sweep.Sweeper
	reconciler *reconcile.Reconciler
	metrics    *metrics.Metrics
	logger     *slog.Logger

	loads singleflight.Group

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates a Cache backed by src. The background loops do not run until
// Start is called.
func New(src authority.Source, opts ...Option) (*Cache, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if _, err := strconv.ParseInt(cfg.defaultVersion, 10, 64); err != nil {
		return nil, fmt.Errorf("gorawrcache: default version %q is not an integer: %w", cfg.defaultVersion, err)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.guard != nil {
		src = authority.NewGuard(src, *cfg.guard)
	}

	c := &Cache{
		cfg:      cfg,
		src:      src,
		store:    store.New(cfg.maxEntries),
		table:    version.NewTable(),
		registry: notify.NewRegistry(),
		logger:   logger,
	}

	if cfg.registry != nil {
		m, err := metrics.New(cfg.registry, c.store.Len)
		if err != nil {
			return nil, fmt.Errorf("gorawrcache: register metrics: %w", err)
		}
		c.metrics = m
	}

	dopts := []notify.DispatcherOption{notify.WithDispatchLogger(logger)}
	if cfg.notifyRPS > 0 {
		dopts = append(dopts, notify.WithRateLimit(cfg.notifyRPS, cfg.notifyBurst))
	}
	dispatcher := notify.NewDispatcher(c.registry, cfg.notifier, dopts...)

	c.sweeper = sweep.New(c.store, cfg.sweepInterval, c.metrics, logger)
	c.reconciler = reconcile.New(src, c.table, c.store, dispatcher,
		reconcile.Config{
			Namespace: cfg.namespace,
			Interval:  cfg.reconcileInterval,
			RecordKey: cfg.recordKey,
		},
		reconcile.WithMetrics(c.metrics),
		reconcile.WithLogger(logger),
		reconcile.WithTracing(cfg.tracing),
	)
	return c, nil
}

// Put stores value under key. With versioned set the entry is stored under
// the key's effective key; a key seen for the first time is seeded in the
// authoritative source with the default version, and if that fails the value
// is not cached. ttl <= 0 means the entry never expires. Put returns false
// when nothing was stored, including when the store is full.
func (c *Cache) Put(ctx context.Context, key string, value any, ttl time.Duration, versioned bool) bool {
	ek := key
	if versioned {
		v, ok := c.table.Get(key)
		if !ok {
			seeded, err := c.seed(ctx, key)
			if err != nil {
				c.logger.Warn("version seed failed, value not cached", "key", key, "error", err)
				c.metrics.Put("seed_failed")
				return false
			}
			v = seeded
		}
		if v != "" {
			ek = key + v
		}
	}
	if !c.store.Put(ek, value, ttl) {
		c.logger.Debug("local store full, put rejected", "key", ek, "cap", c.store.Cap())
		c.metrics.Put("rejected")
		return false
	}
	c.metrics.Put("stored")
	return true
}

// seed makes sure the authoritative source holds a version for key and
// adopts whatever version it holds.
func (c *Cache) seed(ctx context.Context, key string) (v string, err error) {
	ctx, span := c.cfg.tracing.Start(ctx, "gorawrcache.seed", c.cfg.namespace, key)
	defer func() { tracing.End(span, err) }()

	v, err = c.src.SetIfAbsent(ctx, c.cfg.namespace, key, c.cfg.defaultVersion)
	if err != nil {
		return "", fmt.Errorf("seed %s: %w", key, err)
	}
	c.table.Put(key, v)
	return v, nil
}

// Get returns the value stored under key's effective key. It never checks
// expiry; expired entries are served until the next sweep.
func (c *Cache) Get(key string) (any, bool) {
	v, ok := c.store.Get(c.table.EffectiveKey(key))
	c.metrics.Lookup(ok)
	return v, ok
}

// Remove deletes the local entry stored under key's effective key. Other
// processes are not affected; use Evict for that.
func (c *Cache) Remove(key string) {
	c.store.Remove(c.table.EffectiveKey(key))
}

// Evict removes the local entry for key and bumps its authoritative version,
// returning the new version. The local version table is left as is, so the
// next reconciliation cycle sees the bump here like in every other process
// and notifies the key's handler.
func (c *Cache) Evict(ctx context.Context, key string) (n int64, err error) {
	ctx, span := c.cfg.tracing.Start(ctx, "gorawrcache.evict", c.cfg.namespace, key)
	defer func() {
		c.metrics.Evict(err)
		tracing.End(span, err)
	}()

	c.store.Remove(c.table.EffectiveKey(key))
	n, err = c.src.Increment(ctx, c.cfg.namespace, key)
	if err != nil {
		return 0, fmt.Errorf("gorawrcache: evict %s: %w", key, err)
	}
	c.logger.Info("key evicted", "key", key, "version", n)
	return n, nil
}

// RegisterHandler binds handlerID to key. The handler is notified whenever
// the reconciler finds key stale or its backing record missing.
func (c *Cache) RegisterHandler(key, handlerID string) {
	c.registry.Register(key, handlerID)
}

// Handler returns the handler bound to key.
func (c *Cache) Handler(key string) (string, bool) {
	return c.registry.Lookup(key)
}

// Version returns the locally known version of key.
func (c *Cache) Version(key string) (string, bool) {
	return c.table.Get(key)
}

// Len returns the number of locally stored entries, expired ones included.
func (c *Cache) Len() int { return c.store.Len() }

// Start loads the authoritative versions into the local table and starts the
// sweep and reconcile loops. A failed load is logged and left to the first
// reconciliation cycle. The loops stop when ctx is done or Stop is called.
func (c *Cache) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return ErrAlreadyStarted
	}

	c.loadVersions(ctx)

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.sweeper.Run(gctx) })
	g.Go(func() error { return c.reconciler.Run(gctx) })
	c.cancel = cancel
	c.group = g
	c.logger.Info("cache started",
		"namespace", c.cfg.namespace,
		"sweep_interval", c.cfg.sweepInterval,
		"reconcile_interval", c.cfg.reconcileInterval,
		"versions", c.table.Len(),
	)
	return nil
}

func (c *Cache) loadVersions(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	versions, err := c.src.GetAll(ctx, c.cfg.namespace)
	if err != nil {
		c.logger.Warn("initial version load failed", "namespace", c.cfg.namespace, "error", err)
		return
	}
	c.table.Load(versions)
}

// Stop cancels the background loops and waits for them to return. It is a
// no-op when the cache is not running.
func (c *Cache) Stop() {
	c.mu.Lock()
	cancel, g := c.cancel, c.group
	c.cancel, c.group = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	_ = g.Wait()
	c.logger.Info("cache stopped", "namespace", c.cfg.namespace)
}

// Sweep removes expired entries now and returns how many were removed. It
// returns 0 when a sweep is already running.
func (c *Cache) Sweep() int {
	n, _ := c.sweeper.RunOnce()
	return n
}

// Reconcile runs one reconciliation cycle now.
func (c *Cache) Reconcile(ctx context.Context) (Report, error) {
	return c.reconciler.RunOnce(ctx)
}
