package notify

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"
)

// Notifier receives refresh signals. Notify is called on the reconciler's
// goroutine and must return quickly; hand the work off if recomputation is
// slow. There is no acknowledgment and no retry.
type Notifier interface {
	Notify(ctx context.Context, handlerID string)
}

// NotifierFunc adapts a plain function to the Notifier interface.
type NotifierFunc func(ctx context.Context, handlerID string)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, handlerID string) { f(ctx, handlerID) }

// Outcome describes what happened to a single dispatch.
type Outcome int

const (
	// Delivered means the notifier was called and returned normally.
	Delivered Outcome = iota
	// Unbound means no handler is registered for the key.
	Unbound
	// Limited means the dispatch was dropped by the rate limiter.
	Limited
	// Panicked means the notifier panicked; the panic was recovered.
	Panicked
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Unbound:
		return "unbound"
	case Limited:
		return "limited"
	case Panicked:
		return "panicked"
	}
	return "unknown"
}

// Dispatcher resolves handler bindings and calls the Notifier.
type Dispatcher struct {
	registry *Registry
	notifier Notifier
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRateLimit caps notifications at rps per second with the given burst.
// Notifications over the limit are dropped. A burst below 1 is raised to 1.
func WithRateLimit(rps float64, burst int) DispatcherOption {
	burst = max(burst, 1)
	return func(d *Dispatcher) {
		d.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithDispatchLogger sets the logger used for recovered panics.
func WithDispatchLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates a Dispatcher. A nil notifier turns every dispatch
// into a no-op reported as Unbound.
func NewDispatcher(r *Registry, n Notifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: r,
		notifier: n,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch signals the handler bound to key, if any.
func (d *Dispatcher) Dispatch(ctx context.Context, key string) Outcome {
	id, ok := d.registry.Lookup(key)
	if !ok || d.notifier == nil {
		return Unbound
	}
	if d.limiter != nil && !d.limiter.Allow() {
		d.logger.Warn("refresh notification dropped by rate limit", "key", key, "handler", id)
		return Limited
	}
	return d.call(ctx, key, id)
}

func (d *Dispatcher) call(ctx context.Context, key, id string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("refresh notifier panicked", "key", key, "handler", id, "panic", r)
			out = Panicked
		}
	}()
	d.notifier.Notify(ctx, id)
	return Delivered
}
