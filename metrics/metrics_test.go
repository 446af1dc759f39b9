package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Lookup(true)
	m.Put("stored")
	m.Sweep(3)
	m.Cycle("ok")
	m.StaleEvicted(1)
	m.Notification("delivered")
	m.Evict(nil)
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	size := 7
	m, err := New(reg, func() int { return size })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.Lookup(true)
	m.Lookup(true)
	m.Lookup(false)
	m.Sweep(4)
	m.Cycle("error")
	m.Evict(errors.New("down"))

	if got := testutil.ToFloat64(m.lookups.WithLabelValues("hit")); got != 2 {
		t.Fatalf("hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.lookups.WithLabelValues("miss")); got != 1 {
		t.Fatalf("misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.swept); got != 4 {
		t.Fatalf("swept = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.cycles.WithLabelValues("error")); got != 1 {
		t.Fatalf("error cycles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.evictions.WithLabelValues("error")); got != 1 {
		t.Fatalf("failed evictions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.entries); got != 7 {
		t.Fatalf("entries = %v, want 7", got)
	}
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg, nil); err != nil {
		t.Fatalf("first New: %v", err)
	}
	if _, err := New(reg, nil); err == nil {
		t.Fatal("expected error registering the same collectors twice")
	}
}
