package authority

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ErrOpen is returned by a Guard while its circuit is open.
var ErrOpen = errors.New("authority: circuit open")

// GuardConfig controls retries and the circuit breaker of a Guard.
type GuardConfig struct {
	// MaxAttempts is the number of calls per operation, including the first.
	// Values <= 1 disable retries.
	MaxAttempts int

	// BaseDelay is the delay before the first retry; later retries double it.
	BaseDelay time.Duration

	// MaxDelay caps the retry delay.
	MaxDelay time.Duration

	// Jitter randomizes each delay by up to ±Jitter of its value.
	Jitter float64

	// FailureThreshold is the number of consecutive failed operations that
	// opens the circuit. Zero disables the breaker.
	FailureThreshold int

	// OpenTimeout is how long the circuit stays open before a probe is let
	// through.
	OpenTimeout time.Duration
}

// DefaultGuardConfig returns settings suited to a Redis on the local network.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxAttempts:      3,
		BaseDelay:        50 * time.Millisecond,
		MaxDelay:         500 * time.Millisecond,
		Jitter:           0.2,
		FailureThreshold: 5,
		OpenTimeout:      10 * time.Second,
	}
}

// circuit states
const (
	closed = iota
	open
	halfOpen
)

// Guard wraps a Source with retries and a circuit breaker. While the circuit
// is open every call fails fast with ErrOpen, so an unreachable store costs
// the reconciler and Evict nothing but an error. Guard is safe for
// concurrent use.
type Guard struct {
	src Source
	cfg GuardConfig

	mu       sync.Mutex
	state    int
	failures int
	probing  bool
	openedAt time.Time

	nowFunc   func() time.Time // for testing; defaults to time.Now
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewGuard wraps src.
func NewGuard(src Source, cfg GuardConfig) *Guard {
	return &Guard{
		src:       src,
		cfg:       cfg,
		nowFunc:   time.Now,
		sleepFunc: sleepCtx,
	}
}

// Open reports whether the circuit is currently open.
func (g *Guard) Open() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkOpenTimeout()
	return g.state == open
}

// GetAll implements Source.
func (g *Guard) GetAll(ctx context.Context, namespace string) (map[string]string, error) {
	return guarded(ctx, g, func(ctx context.Context) (map[string]string, error) {
		return g.src.GetAll(ctx, namespace)
	})
}

// Increment implements Source.
func (g *Guard) Increment(ctx context.Context, namespace, key string) (int64, error) {
	return guarded(ctx, g, func(ctx context.Context) (int64, error) {
		return g.src.Increment(ctx, namespace, key)
	})
}

// SetIfAbsent implements Source.
func (g *Guard) SetIfAbsent(ctx context.Context, namespace, key, version string) (string, error) {
	return guarded(ctx, g, func(ctx context.Context) (string, error) {
		return g.src.SetIfAbsent(ctx, namespace, key, version)
	})
}

// Exists implements Source.
func (g *Guard) Exists(ctx context.Context, key string) (bool, error) {
	return guarded(ctx, g, func(ctx context.Context) (bool, error) {
		return g.src.Exists(ctx, key)
	})
}

func guarded[T any](ctx context.Context, g *Guard, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if !g.allow() {
		return zero, ErrOpen
	}
	v, err := retry(ctx, g, fn)
	g.record(err)
	if err != nil {
		return zero, err
	}
	return v, nil
}

// retry runs fn up to MaxAttempts times with exponential back-off between
// attempts. Context errors are never retried.
func retry[T any](ctx context.Context, g *Guard, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(g.cfg.MaxAttempts, 1)

	for i := range attempts {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if i == attempts-1 || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if serr := g.sleepFunc(ctx, backoff(g.cfg, i)); serr != nil {
			return zero, serr
		}
	}
	return zero, nil
}

func (g *Guard) allow() bool {
	if g.cfg.FailureThreshold <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.checkOpenTimeout()
	switch g.state {
	case closed:
		return true
	case halfOpen:
		if g.probing {
			return false
		}
		g.probing = true
		return true
	default:
		return false
	}
}

func (g *Guard) record(err error) {
	if g.cfg.FailureThreshold <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if err == nil {
		g.state = closed
		g.failures = 0
		g.probing = false
		return
	}
	if errors.Is(err, context.Canceled) {
		// The caller gave up; that says nothing about the store.
		g.probing = false
		return
	}
	switch g.state {
	case closed:
		g.failures++
		if g.failures >= g.cfg.FailureThreshold {
			g.trip()
		}
	case halfOpen:
		g.trip()
	}
}

// checkOpenTimeout moves an open circuit to half-open once OpenTimeout has
// elapsed. Must be called with g.mu held.
func (g *Guard) checkOpenTimeout() {
	if g.state == open && g.now().Sub(g.openedAt) >= g.cfg.OpenTimeout {
		g.state = halfOpen
		g.probing = false
	}
}

func (g *Guard) trip() {
	g.state = open
	g.openedAt = g.now()
	g.probing = false
}

func (g *Guard) now() time.Time {
	if g.nowFunc != nil {
		return g.nowFunc()
	}
	return time.Now()
}

// backoff returns the delay before retry number attempt (0-indexed).
func backoff(cfg GuardConfig, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if m := float64(cfg.MaxDelay); m > 0 && delay > m {
		delay = m
	}
	if cfg.Jitter > 0 {
		delay += delay * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
