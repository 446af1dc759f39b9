// Package metrics exposes Prometheus collectors for the versioned cache.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gorawrcache"

// Metrics groups every collector the cache updates.
type Metrics struct {
	lookups       *prometheus.CounterVec
	puts          *prometheus.CounterVec
	sweeps        prometheus.Counter
	swept         prometheus.Counter
	cycles        *prometheus.CounterVec
	staleEvicted  prometheus.Counter
	notifications *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	entries       prometheus.GaugeFunc
}

// New creates the collectors and registers them with reg. size reports the
// current number of stored entries. A nil reg leaves the collectors
// unregistered, which is handy in tests.
func New(reg prometheus.Registerer, size func() int) (*Metrics, error) {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Cache lookups by result (hit, miss).",
		}, []string{"result"}),
		puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "puts_total",
			Help:      "Cache writes by result (stored, rejected, seed_failed).",
		}, []string{"result"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Completed expiry sweeps.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_entries_total",
			Help:      "Entries removed by the expiry sweep.",
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_cycles_total",
			Help:      "Version reconciliation cycles by result (ok, skipped, error).",
		}, []string{"result"}),
		staleEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_evictions_total",
			Help:      "Local entries removed because their version moved.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Refresh notifications by outcome.",
		}, []string{"outcome"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Explicit evictions by result (ok, error).",
		}, []string{"result"}),
	}
	m.entries = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "entries",
		Help:      "Entries currently held in the local store.",
	}, func() float64 {
		if size == nil {
			return 0
		}
		return float64(size())
	})

	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.lookups, m.puts, m.sweeps, m.swept, m.cycles,
		m.staleEvicted, m.notifications, m.evictions, m.entries,
	}
}

// Lookup records a Get.
func (m *Metrics) Lookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.lookups.WithLabelValues("hit").Inc()
	} else {
		m.lookups.WithLabelValues("miss").Inc()
	}
}

// Put records a Put with result stored, rejected or seed_failed.
func (m *Metrics) Put(result string) {
	if m == nil {
		return
	}
	m.puts.WithLabelValues(result).Inc()
}

// Sweep records one sweep that removed n entries.
func (m *Metrics) Sweep(n int) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.swept.Add(float64(n))
}

// Cycle records one reconciliation cycle with result ok, skipped or error.
func (m *Metrics) Cycle(result string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
}

// StaleEvicted records n entries removed by the reconciler.
func (m *Metrics) StaleEvicted(n int) {
	if m == nil {
		return
	}
	m.staleEvicted.Add(float64(n))
}

// Notification records one dispatch outcome.
func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

// Evict records an explicit eviction.
func (m *Metrics) Evict(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.evictions.WithLabelValues("error").Inc()
	} else {
		m.evictions.WithLabelValues("ok").Inc()
	}
}
