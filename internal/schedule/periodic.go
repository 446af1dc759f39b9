// Package schedule runs a task on a fixed interval without ever overlapping
// two runs.
package schedule

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Task is one unit of periodic work.
type Task func(ctx context.Context)

// Periodic drives a Task from a ticker. A tick that fires while the task is
// still running is skipped, not queued, and so is a manual TryRun.
type Periodic struct {
	name     string
	interval time.Duration
	task     Task
	logger   *slog.Logger

	busy    atomic.Bool
	skipped atomic.Int64
}

// NewPeriodic creates a Periodic runner. name only labels log lines.
func NewPeriodic(name string, interval time.Duration, task Task, logger *slog.Logger) *Periodic {
	if logger == nil {
		logger = slog.Default()
	}
	return &Periodic{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logger,
	}
}

// Run executes the task immediately, then once per interval until ctx is
// done. It always returns nil so it can be handed to an errgroup.
func (p *Periodic) Run(ctx context.Context) error {
	p.logger.Debug("periodic task started", "task", p.name, "interval", p.interval)
	defer p.logger.Debug("periodic task stopped", "task", p.name)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.TryRun(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.TryRun(ctx)
			// A tick that landed during a long run is stale: drop it.
			select {
			case <-ticker.C:
				p.skipped.Add(1)
			default:
			}
		}
	}
}

// TryRun executes the task now unless a run is already in progress, and
// reports whether it ran.
func (p *Periodic) TryRun(ctx context.Context) bool {
	return p.Exclusive(func() { p.task(ctx) })
}

// Exclusive runs fn under the same no-overlap guard as the task. Callers use
// it to run a variant of the task that returns a result.
func (p *Periodic) Exclusive(fn func()) bool {
	if !p.busy.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		p.logger.Debug("periodic task busy, skipping", "task", p.name)
		return false
	}
	defer p.busy.Store(false)
	fn()
	return true
}

// Busy reports whether a run is in progress.
func (p *Periodic) Busy() bool { return p.busy.Load() }

// Skipped returns how many runs were skipped because one was in progress.
func (p *Periodic) Skipped() int64 { return p.skipped.Load() }
