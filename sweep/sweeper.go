// Package sweep evicts expired entries from the local store on a fixed
// interval. Expiry is this package's job alone: the store never checks it on
// read.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/Keksclan/goRawrCache/internal/schedule"
	"github.com/Keksclan/goRawrCache/metrics"
	"github.com/Keksclan/goRawrCache/store"
)

// DefaultInterval is the sweep interval used when none is configured.
const DefaultInterval = 30 * time.Second

// Sweeper periodically removes expired entries from a store.
type Sweeper struct {
	store   *store.Local
	metrics *metrics.Metrics
	logger  *slog.Logger
	loop    *schedule.Periodic
	nowFunc func() time.Time // for testing; defaults to time.Now
}

// New creates a Sweeper over s. m may be nil.
func New(s *store.Local, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	sw := &Sweeper{
		store:   s,
		metrics: m,
		logger:  logger,
		nowFunc: time.Now,
	}
	sw.loop = schedule.NewPeriodic("sweep", interval, func(context.Context) { sw.scan() }, logger)
	return sw
}

// Run sweeps immediately and then on every tick until ctx is done.
func (sw *Sweeper) Run(ctx context.Context) error {
	return sw.loop.Run(ctx)
}

// RunOnce sweeps now and returns how many entries were removed. The boolean
// is false when a sweep was already in progress and nothing ran.
func (sw *Sweeper) RunOnce() (int, bool) {
	var removed int
	ran := sw.loop.Exclusive(func() { removed = sw.scan() })
	return removed, ran
}

// scan takes one time snapshot and removes everything expired by then.
func (sw *Sweeper) scan() int {
	now := sw.nowFunc()
	removed := sw.store.RemoveExpired(now)
	sw.metrics.Sweep(removed)
	if removed > 0 {
		sw.logger.Debug("expired entries swept", "removed", removed, "remaining", sw.store.Len())
	}
	return removed
}
