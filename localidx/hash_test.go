// Package localidx correctness tests: construction, lookup, duplicate
// suppression, clustering and randomized agreement with a builtin map.
package localidx

import (
	"math/rand"
	"testing"
)

// -----------------------------------------------------------------------------
// ░░ Constructor and Allocation Semantics ░░
// -----------------------------------------------------------------------------

func TestNewHash(t *testing.T) {
	h := New(8)
	if len(h.keys) != 16 || len(h.vals) != 16 {
		t.Fatalf("expected 16-slot table, got keys=%d, vals=%d", len(h.keys), len(h.vals))
	}
	if h.mask != 15 {
		t.Fatalf("mask = %d, want 15", h.mask)
	}
	if New(0).mask != 1 {
		t.Fatal("zero capacity should still give a usable table")
	}
}

// -----------------------------------------------------------------------------
// ░░ Basic Put / Get Semantics ░░
// -----------------------------------------------------------------------------

func TestPutAndGet(t *testing.T) {
	h := New(16)
	for i := 0; i < 16; i++ {
		h.Put(uint64(i), uint32(i*10))
	}
	for i := 0; i < 16; i++ {
		v, ok := h.Get(uint64(i))
		if !ok || v != uint32(i*10) {
			t.Fatalf("Get(%d) = %d,%v ; want %d,true", i, v, ok, i*10)
		}
	}
	if h.Len() != 16 {
		t.Fatalf("Len = %d, want 16", h.Len())
	}
}

func TestIDZeroIsStorable(t *testing.T) {
	h := New(2)
	h.Put(0, 7)
	if v, ok := h.Get(0); !ok || v != 7 {
		t.Fatalf("Get(0) = %d,%v ; want 7,true", v, ok)
	}
}

func TestGetMiss(t *testing.T) {
	h := New(4)
	h.Put(1, 123)
	if _, ok := h.Get(99); ok {
		t.Fatal("Get(99) should return false for missing key")
	}
	if _, ok := h.Get(^uint64(0)); ok {
		t.Fatal("reserved id must never be found")
	}
}

func TestPutReservedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Put(^0) should panic")
		}
	}()
	New(2).Put(^uint64(0), 1)
}

// -----------------------------------------------------------------------------
// ░░ Duplicate Behavior ░░
// -----------------------------------------------------------------------------

func TestPutKeepsFirst(t *testing.T) {
	h := New(8)
	if first := h.Put(42, 100); first != 100 {
		t.Fatalf("first Put returned %d, want 100", first)
	}
	if old := h.Put(42, 200); old != 100 {
		t.Fatalf("second Put returned %d, want 100", old)
	}
	if v, ok := h.Get(42); !ok || v != 100 {
		t.Fatalf("Get(42) = %d,%v ; want 100,true", v, ok)
	}
	if h.Len() != 1 {
		t.Fatalf("Len = %d, want 1", h.Len())
	}
}

// -----------------------------------------------------------------------------
// ░░ Full Table ░░
// -----------------------------------------------------------------------------

func TestFullTablePanics(t *testing.T) {
	h := New(2) // 4 slots
	for i := 0; i < 4; i++ {
		h.Put(uint64(i)<<40, uint32(i))
	}
	for i := 0; i < 4; i++ {
		if v, ok := h.Get(uint64(i) << 40); !ok || v != uint32(i) {
			t.Fatalf("Get(%d) = %d,%v", i, v, ok)
		}
	}
	defer func() {
		if recover() == nil {
			t.Fatal("Put into a full table should panic")
		}
	}()
	h.Put(99, 1)
}

// -----------------------------------------------------------------------------
// ░░ Randomized Agreement ░░
// -----------------------------------------------------------------------------

func TestRandomAgainstMap(t *testing.T) {
	h := New(1 << 10)
	ref := make(map[uint64]uint32)
	r := rand.New(rand.NewSource(12345))
	for i := 0; len(ref) < 1<<10; i++ {
		k := r.Uint64() >> uint(r.Intn(60))
		if k == ^uint64(0) {
			continue
		}
		if _, dup := ref[k]; !dup {
			ref[k] = uint32(i)
		}
		h.Put(k, uint32(i))
	}
	for k, want := range ref {
		if got, ok := h.Get(k); !ok || got != want {
			t.Fatalf("Get(%d) = %d,%v ; want %d,true", k, got, ok, want)
		}
	}
	for i := 0; i < 10_000; i++ {
		k := r.Uint64()
		if _, in := ref[k]; in || k == ^uint64(0) {
			continue
		}
		if _, ok := h.Get(k); ok {
			t.Fatalf("Get(%d) found a key never inserted", k)
		}
	}
}

func BenchmarkGet(b *testing.B) {
	h := New(1 << 16)
	for i := 0; i < 1<<16; i++ {
		h.Put(uint64(i), uint32(i))
	}
	b.ReportAllocs()
	b.ResetTimer()
	var sink uint32
	for i := 0; i < b.N; i++ {
		v, _ := h.Get(uint64(i & (1<<16 - 1)))
		sink += v
	}
	_ = sink
}
