package authority

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func miniRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r := NewRedis(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestRedis_GetAll(t *testing.T) {
	r, mr := miniRedis(t)
	mr.HSet("versions", "report:42", "3")
	mr.HSet("versions", "user:1", "1")

	all, err := r.GetAll(t.Context(), "versions")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 2 || all["report:42"] != "3" || all["user:1"] != "1" {
		t.Fatalf("unexpected versions %v", all)
	}

	empty, err := r.GetAll(t.Context(), "missing")
	if err != nil {
		t.Fatalf("GetAll on missing namespace: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty map, got %v", empty)
	}
}

func TestRedis_Increment(t *testing.T) {
	r, mr := miniRedis(t)
	mr.HSet("versions", "k", "1")

	n, err := r.Increment(t.Context(), "versions", "k")
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if n != 2 {
		t.Fatalf("Increment = %d, want 2", n)
	}
	if got := mr.HGet("versions", "k"); got != "2" {
		t.Fatalf("stored version = %q, want %q", got, "2")
	}
}

func TestRedis_SetIfAbsent(t *testing.T) {
	r, mr := miniRedis(t)
	ctx := t.Context()

	v, err := r.SetIfAbsent(ctx, "versions", "k", "1")
	if err != nil {
		t.Fatalf("SetIfAbsent: %v", err)
	}
	if v != "1" || mr.HGet("versions", "k") != "1" {
		t.Fatalf("seed not stored, got %q", v)
	}

	mr.HSet("versions", "k", "7")
	v, err = r.SetIfAbsent(ctx, "versions", "k", "1")
	if err != nil {
		t.Fatalf("SetIfAbsent: %v", err)
	}
	if v != "7" {
		t.Fatalf("SetIfAbsent = %q, want existing %q", v, "7")
	}
	if got := mr.HGet("versions", "k"); got != "7" {
		t.Fatalf("existing version overwritten with %q", got)
	}
}

func TestRedis_Exists(t *testing.T) {
	r, mr := miniRedis(t)
	ctx := t.Context()

	ok, err := r.Exists(ctx, "data:report:42")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Fatal("record should not exist")
	}

	if err := mr.Set("data:report:42", "payload"); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	ok, err = r.Exists(ctx, "data:report:42")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Fatal("record should exist")
	}
}

func TestRedis_ErrorsPropagate(t *testing.T) {
	// Unlike a fail-soft cache layer, connection errors must surface.
	r := NewRedis("localhost:1", "", 0)
	t.Cleanup(func() { _ = r.Close() })

	ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond)
	defer cancel()

	if _, err := r.GetAll(ctx, "versions"); err == nil {
		t.Fatal("expected error from unreachable Redis")
	}
	if _, err := r.Increment(ctx, "versions", "k"); err == nil {
		t.Fatal("expected error from unreachable Redis")
	}
}
