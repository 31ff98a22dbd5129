package flowtable

import "testing"

func addr(b byte) [16]byte {
	var a [16]byte
	a[0] = b
	return a
}

func TestLookupOrCreateReturnsSameFlow(t *testing.T) {
	tbl, err := New(1, 16, 10, 32, true, nil, 0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	key, _ := Canonicalize(addr(1), 80, addr(2), 443, 6)

	f1, isNew, err := tbl.LookupOrCreate(key, 100)
	if err != nil || !isNew {
		t.Fatalf("expected new flow, got isNew=%v err=%v", isNew, err)
	}

	f2, isNew, err := tbl.LookupOrCreate(key, 200)
	if err != nil || isNew {
		t.Fatalf("expected existing flow, got isNew=%v err=%v", isNew, err)
	}
	if f1 != f2 {
		t.Fatalf("expected the same flow pointer on repeat lookup")
	}
	if f2.LastSeen != 200 {
		t.Fatalf("expected LastSeen updated to 200, got %d", f2.LastSeen)
	}
}

func TestCanonicalizationLookupSymmetric(t *testing.T) {
	tbl, err := New(1, 16, 10, 32, true, nil, 0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	k1, dir1 := Canonicalize(addr(1), 80, addr(2), 443, 6)
	k2, dir2 := Canonicalize(addr(2), 443, addr(1), 80, 6)

	if k1 != k2 {
		t.Fatalf("expected canonical keys to match regardless of direction")
	}
	if dir1 == dir2 {
		t.Fatalf("expected opposite direction bits, got %v and %v", dir1, dir2)
	}

	f1, _, _ := tbl.LookupOrCreate(k1, 100)
	f2, isNew, _ := tbl.LookupOrCreate(k2, 100)
	if isNew {
		t.Fatalf("expected the reverse-direction lookup to hit the same flow")
	}
	if f1 != f2 {
		t.Fatalf("expected identical flow object from both directions")
	}
}

func TestEvictionAtMaxActiveFlowsInvokesCleaner(t *testing.T) {
	var cleaned []Key
	cleaner := func(f *Flow) { cleaned = append(cleaned, f.Key) }

	tbl, err := New(1, 16, 2, 32, false, cleaner, 0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	k1, _ := Canonicalize(addr(1), 1, addr(2), 1, 6)
	k2, _ := Canonicalize(addr(1), 2, addr(2), 2, 6)
	k3, _ := Canonicalize(addr(1), 3, addr(2), 3, 6)

	tbl.LookupOrCreate(k1, 1)
	tbl.LookupOrCreate(k2, 2)
	if tbl.ActiveCount() != 2 {
		t.Fatalf("expected 2 active flows, got %d", tbl.ActiveCount())
	}

	_, isNew, err := tbl.LookupOrCreate(k3, 3)
	if err != nil || !isNew {
		t.Fatalf("expected new flow admitted after eviction, got isNew=%v err=%v", isNew, err)
	}
	if tbl.ActiveCount() != 2 {
		t.Fatalf("expected active count to stay at max (2), got %d", tbl.ActiveCount())
	}
	if len(cleaned) != 1 || cleaned[0] != k1 {
		t.Fatalf("expected the LRU flow (k1) cleaned exactly once, got %v", cleaned)
	}
}

func TestEvictIsIdempotent(t *testing.T) {
	var cleaned int
	cleaner := func(f *Flow) { cleaned++ }

	tbl, err := New(1, 16, 10, 32, true, cleaner, 0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	key, _ := Canonicalize(addr(1), 80, addr(2), 443, 6)
	f, _, _ := tbl.LookupOrCreate(key, 100)

	tbl.Evict(f)
	tbl.Evict(f)
	if cleaned != 1 {
		t.Fatalf("expected the cleaner invoked exactly once across repeat evictions, got %d", cleaned)
	}
	if tbl.ActiveCount() != 0 {
		t.Fatalf("expected 0 active flows after eviction, got %d", tbl.ActiveCount())
	}
}

func TestStrictModeFullTableReturnsMaxFlows(t *testing.T) {
	tbl, err := New(1, 16, 1, 32, true, nil, 0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	k1, _ := Canonicalize(addr(1), 1, addr(2), 1, 6)
	k2, _ := Canonicalize(addr(1), 2, addr(2), 2, 6)

	tbl.LookupOrCreate(k1, 1)
	_, _, err := tbl.LookupOrCreate(k2, 2)
	if err != ErrMaxFlows {
		t.Fatalf("expected ErrMaxFlows in strict mode, got %v", err)
	}
}
