package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Keksclan/goRawrCache/authority"
	"github.com/Keksclan/goRawrCache/metrics"
	"github.com/Keksclan/goRawrCache/notify"
	"github.com/Keksclan/goRawrCache/store"
	"github.com/Keksclan/goRawrCache/tracing"
	"github.com/Keksclan/goRawrCache/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const ns = "test:versions"

type fixture struct {
	src   *authority.Memory
	table *version.Table
	store *store.Local
	reg   *notify.Registry
	rec   *notify.Recorder
	r     *Reconciler
}

func newFixture(t *testing.T, allRecords bool, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		src:   authority.NewMemory(allRecords),
		table: version.NewTable(),
		store: store.New(100),
		reg:   notify.NewRegistry(),
		rec:   &notify.Recorder{},
	}
	d := notify.NewDispatcher(f.reg, f.rec)
	f.r = New(f.src, f.table, f.store, d, Config{Namespace: ns}, opts...)
	return f
}

func TestReconcile_EmptyTableSkips(t *testing.T) {
	f := newFixture(t, true)
	f.src.SetError(errors.New("must not be called"))

	rep, err := f.r.RunOnce(t.Context())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !rep.Skipped {
		t.Fatal("expected skipped cycle on empty table")
	}
}

func TestReconcile_ReportScenario(t *testing.T) {
	f := newFixture(t, true)
	f.src.Set(ns, "report:42", "3")
	f.table.Put("report:42", "2")
	f.store.Put("report:422", "X", store.NoExpiry)
	f.reg.Register("report:42", "report-refresher")

	rep, err := f.r.RunOnce(t.Context())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if _, ok := f.store.Get("report:422"); ok {
		t.Fatal("stale entry report:422 still present")
	}
	if v, _ := f.table.Get("report:42"); v != "3" {
		t.Fatalf("table version = %q, want %q", v, "3")
	}
	if n := f.rec.Count("report-refresher"); n != 1 {
		t.Fatalf("handler notified %d times, want 1", n)
	}
	if rep.Stale != 1 || rep.Evicted != 1 || rep.Notified != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	f := newFixture(t, true)
	f.src.Set(ns, "k", "5")
	f.table.Put("k", "4")
	f.store.Put("k4", 1, store.NoExpiry)
	f.reg.Register("k", "h")

	if _, err := f.r.RunOnce(t.Context()); err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}
	rep, err := f.r.RunOnce(t.Context())
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if rep.Stale != 0 || rep.Evicted != 0 || rep.Missing != 0 || rep.Notified != 0 {
		t.Fatalf("second cycle did work: %+v", rep)
	}
	if n := f.rec.Count("h"); n != 1 {
		t.Fatalf("handler notified %d times, want 1", n)
	}
}

func TestReconcile_UnchangedVersionKeepsEntry(t *testing.T) {
	f := newFixture(t, true)
	f.src.Set(ns, "k", "1")
	f.table.Put("k", "1")
	f.store.Put("k1", "v", store.NoExpiry)

	if _, err := f.r.RunOnce(t.Context()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if _, ok := f.store.Get("k1"); !ok {
		t.Fatal("current entry was evicted")
	}
}

func TestReconcile_LocalOnlyKeysUntouched(t *testing.T) {
	f := newFixture(t, true)
	f.table.Put("local-only", "2")
	f.store.Put("local-only2", "v", store.NoExpiry)
	f.reg.Register("local-only", "h")

	if _, err := f.r.RunOnce(t.Context()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if v, _ := f.table.Get("local-only"); v != "2" {
		t.Fatalf("local-only version changed to %q", v)
	}
	if _, ok := f.store.Get("local-only2"); !ok {
		t.Fatal("local-only entry evicted")
	}
	if n := len(f.rec.Calls()); n != 0 {
		t.Fatalf("unexpected notifications %v", f.rec.Calls())
	}
}

func TestReconcile_MissingRecordNotifiesWithoutEvicting(t *testing.T) {
	f := newFixture(t, false)
	f.src.Set(ns, "k", "1")
	f.table.Put("k", "1")
	f.store.Put("k1", "v", store.NoExpiry)
	f.reg.Register("k", "h")

	rep, err := f.r.RunOnce(t.Context())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Missing != 1 || rep.Notified != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if _, ok := f.store.Get("k1"); !ok {
		t.Fatal("missing-record branch must not evict")
	}

	// Still missing: no second signal.
	rep, _ = f.r.RunOnce(t.Context())
	if rep.Missing != 0 || f.rec.Count("h") != 1 {
		t.Fatalf("repeated missing notification: %+v", rep)
	}

	// Record comes back, then disappears again: signal once more.
	f.src.PutRecord("k")
	_, _ = f.r.RunOnce(t.Context())
	f.src.DeleteRecord("k")
	_, _ = f.r.RunOnce(t.Context())
	if n := f.rec.Count("h"); n != 2 {
		t.Fatalf("handler notified %d times, want 2", n)
	}
}

func TestReconcile_MissingRearmsAfterKeyLeavesSnapshot(t *testing.T) {
	f := newFixture(t, false)
	f.src.Set(ns, "k", "1")
	f.table.Put("k", "1")
	f.reg.Register("k", "h")

	if _, err := f.r.RunOnce(t.Context()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n := f.rec.Count("h"); n != 1 {
		t.Fatalf("handler notified %d times, want 1", n)
	}

	// The version field goes away; the key is no longer tracked as missing.
	f.src.Delete(ns, "k")
	if _, err := f.r.RunOnce(t.Context()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n := len(f.r.missing); n != 0 {
		t.Fatalf("missing set holds %d keys after they left the snapshot", n)
	}

	// Re-seeded while the record is still gone: signal again.
	f.src.Set(ns, "k", "1")
	rep, err := f.r.RunOnce(t.Context())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Missing != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if n := f.rec.Count("h"); n != 2 {
		t.Fatalf("handler notified %d times, want 2", n)
	}
}

func TestReconcile_RecordKeyMapping(t *testing.T) {
	f := newFixture(t, false)
	f.r.cfg.RecordKey = func(k string) string { return "data:" + k }
	f.src.Set(ns, "k", "1")
	f.table.Put("k", "1")
	f.src.PutRecord("data:k")
	f.reg.Register("k", "h")

	rep, err := f.r.RunOnce(t.Context())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Missing != 0 {
		t.Fatalf("record under mapped key reported missing: %+v", rep)
	}
}

func TestReconcile_UnboundKeyIsSilent(t *testing.T) {
	f := newFixture(t, true)
	f.src.Set(ns, "k", "2")
	f.table.Put("k", "1")

	rep, err := f.r.RunOnce(t.Context())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Stale != 1 || rep.Notified != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestReconcile_SourceErrorAbandonsCycle(t *testing.T) {
	f := newFixture(t, true)
	f.src.Set(ns, "k", "2")
	f.table.Put("k", "1")
	f.store.Put("k1", "stale-but-served", store.NoExpiry)
	boom := errors.New("connection refused")
	f.src.SetError(boom)

	if _, err := f.r.RunOnce(t.Context()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if _, ok := f.store.Get("k1"); !ok {
		t.Fatal("abandoned cycle must keep serving the last known value")
	}
	if v, _ := f.table.Get("k"); v != "1" {
		t.Fatalf("abandoned cycle moved version to %q", v)
	}

	// Next cycle succeeds once the store is back.
	f.src.SetError(nil)
	rep, err := f.r.RunOnce(t.Context())
	if err != nil {
		t.Fatalf("RunOnce after recovery: %v", err)
	}
	if rep.Stale != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
}

// failingExists answers GetAll normally but fails Exists for one key.
type failingExists struct {
	*authority.Memory
	key string
	err error
}

func (s failingExists) Exists(ctx context.Context, key string) (bool, error) {
	if key == s.key {
		return false, s.err
	}
	return s.Memory.Exists(ctx, key)
}

func TestReconcile_ExistsErrorAbandonsRestOfCycle(t *testing.T) {
	f := newFixture(t, true)
	boom := errors.New("exists timed out")
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg, nil)
	if err != nil {
		t.Fatalf("metrics.New: %v", err)
	}
	src := failingExists{Memory: f.src, key: "b", err: boom}
	f.r = New(src, f.table, f.store, notify.NewDispatcher(f.reg, f.rec), Config{Namespace: ns}, WithMetrics(m))

	// Processed in key order: a is stale, b fails, c would be stale.
	f.src.Set(ns, "a", "2")
	f.src.Set(ns, "b", "1")
	f.src.Set(ns, "c", "2")
	for _, k := range []string{"a", "b", "c"} {
		f.table.Put(k, "1")
		f.store.Put(k+"1", k, store.NoExpiry)
		f.reg.Register(k, "h-"+k)
	}

	if _, err := f.r.RunOnce(t.Context()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}

	if v, _ := f.table.Get("a"); v != "2" {
		t.Fatalf("a version = %q, want 2", v)
	}
	if _, ok := f.store.Get("a1"); ok {
		t.Fatal("a1 should have been evicted before the failure")
	}
	if n := f.rec.Count("h-a"); n != 1 {
		t.Fatalf("h-a notified %d times, want 1", n)
	}

	if v, _ := f.table.Get("c"); v != "1" {
		t.Fatalf("c version = %q, want untouched 1", v)
	}
	if _, ok := f.store.Get("c1"); !ok {
		t.Fatal("c1 evicted after the cycle was abandoned")
	}
	if n := f.rec.Count("h-c"); n != 0 {
		t.Fatalf("h-c notified %d times, want 0", n)
	}

	const want = `
# HELP gorawrcache_reconcile_cycles_total Version reconciliation cycles by result (ok, skipped, error).
# TYPE gorawrcache_reconcile_cycles_total counter
gorawrcache_reconcile_cycles_total{result="error"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "gorawrcache_reconcile_cycles_total"); err != nil {
		t.Fatalf("cycle metric: %v", err)
	}
}

func TestReconcile_SpanRecorded(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })

	f := newFixture(t, true, WithTracing(&tracing.Config{TracerProvider: tp}))
	f.table.Put("k", "1")
	f.src.SetError(errors.New("down"))

	_, _ = f.r.RunOnce(t.Context())

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "gorawrcache.reconcile" {
		t.Fatalf("span name = %q", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Error {
		t.Fatalf("status = %v, want Error", spans[0].Status().Code)
	}
}
