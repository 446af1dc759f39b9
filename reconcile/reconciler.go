// Package reconcile keeps the local version table in step with the
// authoritative source. There is no push channel between the process that
// invalidates a key and the processes caching it, so each process pulls the
// full version map on an interval, evicts what moved and notifies the
// handler responsible for recomputing it. Staleness is bounded by the
// interval.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/Keksclan/goRawrCache/authority"
	"github.com/Keksclan/goRawrCache/internal/schedule"
	"github.com/Keksclan/goRawrCache/metrics"
	"github.com/Keksclan/goRawrCache/notify"
	"github.com/Keksclan/goRawrCache/store"
	"github.com/Keksclan/goRawrCache/tracing"
	"github.com/Keksclan/goRawrCache/version"
)

// DefaultInterval is the reconcile interval used when none is configured.
const DefaultInterval = 60 * time.Second

// Report summarizes one reconciliation cycle.
type Report struct {
	// Busy is set when another cycle was running and this one did nothing.
	Busy bool
	// Skipped is set when the version table was empty.
	Skipped bool
	// Stale counts keys whose local version differed from the remote one.
	Stale int
	// Evicted counts local entries removed for stale keys.
	Evicted int
	// Missing counts keys whose backing record was newly found missing.
	Missing int
	// Notified counts notifications delivered to a handler.
	Notified int
}

// Config carries the static settings of a Reconciler.
type Config struct {
	// Namespace partitions this cache's version hash in the shared store.
	Namespace string
	// Interval between cycles; DefaultInterval when zero.
	Interval time.Duration
	// RecordKey maps a logical key to the backing record checked with
	// Exists. Identity when nil.
	RecordKey func(key string) string
}

// Option configures optional collaborators.
type Option func(*Reconciler)

// WithMetrics records cycle outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTracing wraps every cycle in a span.
func WithTracing(cfg *tracing.Config) Option {
	return func(r *Reconciler) { r.tracing = cfg }
}

// Reconciler compares the version table with the authoritative source.
type Reconciler struct {
	src        authority.Source
	table      *version.Table
	store      *store.Local
	dispatcher *notify.Dispatcher
	cfg        Config

	metrics *metrics.Metrics
	tracing *tracing.Config
	logger  *slog.Logger
	loop    *schedule.Periodic

	// missing holds keys already reported as having no backing record and
	// still present in the last authoritative snapshot. Only touched inside a
	// cycle, and cycles never overlap.
	missing map[string]struct{}
}

// New creates a Reconciler.
func New(src authority.Source, table *version.Table, st *store.Local, d *notify.Dispatcher, cfg Config, opts ...Option) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RecordKey == nil {
		cfg.RecordKey = func(k string) string { return k }
	}
	r := &Reconciler{
		src:        src,
		table:      table,
		store:      st,
		dispatcher: d,
		cfg:        cfg,
		logger:     slog.Default(),
		missing:    make(map[string]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	r.loop = schedule.NewPeriodic("reconcile", cfg.Interval, func(ctx context.Context) {
		// Errors are logged inside cycle and retried on the next tick.
		_, _ = r.cycle(ctx)
	}, r.logger)
	return r
}

// Run reconciles immediately and then on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	return r.loop.Run(ctx)
}

// RunOnce runs one cycle now. When a cycle is already running it returns a
// Report with Busy set.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	var (
		rep Report
		err error
	)
	if !r.loop.Exclusive(func() { rep, err = r.cycle(ctx) }) {
		return Report{Busy: true}, nil
	}
	return rep, err
}

func (r *Reconciler) cycle(ctx context.Context) (rep Report, err error) {
	if r.table.Len() == 0 {
		rep.Skipped = true
		r.metrics.Cycle("skipped")
		return rep, nil
	}

	ctx, span := r.tracing.Start(ctx, "gorawrcache.reconcile", r.cfg.Namespace, "")
	defer func() { tracing.End(span, err) }()

	remote, err := r.src.GetAll(ctx, r.cfg.Namespace)
	if err != nil {
		r.abandon(err)
		return rep, fmt.Errorf("reconcile: fetch versions: %w", err)
	}

	for _, key := range slices.Sorted(maps.Keys(remote)) {
		remoteVersion := remote[key]
		local, ok := r.table.Get(key)
		if ok && local != remoteVersion {
			// Remove under the old effective key before moving the version.
			if r.store.Remove(key + local) {
				rep.Evicted++
			}
			r.table.Put(key, remoteVersion)
			rep.Stale++
			r.logger.Info("stale version evicted", "key", key, "local", local, "remote", remoteVersion)
			r.notify(ctx, key, &rep)
			continue
		}

		present, err := r.src.Exists(ctx, r.cfg.RecordKey(key))
		if err != nil {
			r.abandon(err)
			return rep, fmt.Errorf("reconcile: check record %s: %w", key, err)
		}
		if present {
			delete(r.missing, key)
			continue
		}
		if _, seen := r.missing[key]; seen {
			continue
		}
		r.missing[key] = struct{}{}
		rep.Missing++
		r.logger.Info("authoritative record missing", "key", key)
		r.notify(ctx, key, &rep)
	}

	// A key that left the snapshot re-arms: if it comes back with its record
	// still gone, that is reported again.
	for key := range r.missing {
		if _, ok := remote[key]; !ok {
			delete(r.missing, key)
		}
	}

	r.metrics.StaleEvicted(rep.Evicted)
	r.metrics.Cycle("ok")
	if rep.Stale > 0 || rep.Missing > 0 {
		r.logger.Debug("reconcile cycle finished",
			"stale", rep.Stale, "missing", rep.Missing, "notified", rep.Notified)
	}
	return rep, nil
}

func (r *Reconciler) notify(ctx context.Context, key string, rep *Report) {
	out := r.dispatcher.Dispatch(ctx, key)
	r.metrics.Notification(out.String())
	if out == notify.Delivered {
		rep.Notified++
	}
}

func (r *Reconciler) abandon(err error) {
	r.metrics.Cycle("error")
	r.logger.Warn("reconcile cycle abandoned", "namespace", r.cfg.Namespace, "error", err)
}
