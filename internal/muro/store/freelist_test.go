package store

import "testing"

func TestFreeListAllocateFree(t *testing.T) {
	f := NewFreeList()
	if !f.IsEmpty() {
		t.Fatal("new freelist should be empty")
	}
	f.Free(5)
	f.Free(6)
	if f.Len() != 2 {
		t.Fatalf("Len = %d, want 2", f.Len())
	}
	id, ok := f.Allocate()
	if !ok {
		t.Fatal("Allocate should succeed")
	}
	if id != 5 && id != 6 {
		t.Fatalf("Allocate returned %d, want 5 or 6", id)
	}
	if f.Len() != 1 {
		t.Fatalf("Len after allocate = %d, want 1", f.Len())
	}
}

func TestFreeListFreeIsIdempotent(t *testing.T) {
	f := NewFreeList()
	f.Free(1)
	f.Free(1)
	if f.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (double free should not duplicate)", f.Len())
	}
}

func TestFreeListUnfree(t *testing.T) {
	f := NewFreeList()
	f.Free(3)
	f.Unfree(3)
	if !f.IsEmpty() {
		t.Fatal("freelist should be empty after unfree")
	}
}

func TestBuildChainAndReadChain(t *testing.T) {
	pageSize := 128
	cap := CapacityPerPage(pageSize)
	ids := make([]uint64, cap+5)
	for i := range ids {
		ids[i] = uint64(i + 100)
	}
	reserved := []uint64{900, 901}
	head, pages := BuildChain(ids, pageSize, reserved)
	if head != 900 {
		t.Fatalf("head = %d, want 900", head)
	}
	got, err := ReadChain(head, func(id uint64) ([]byte, error) {
		return pages[id], nil
	})
	if err != nil {
		t.Fatalf("ReadChain: %v", err)
	}
	if len(got) != len(ids) {
		t.Fatalf("ReadChain returned %d ids, want %d", len(got), len(ids))
	}
	seen := map[uint64]bool{}
	for _, id := range got {
		seen[id] = true
	}
	for _, id := range ids {
		if !seen[id] {
			t.Fatalf("id %d missing from chain read-back", id)
		}
	}
}

func TestBuildChainEmpty(t *testing.T) {
	head, pages := BuildChain(nil, 128, nil)
	if head != InvalidPageID {
		t.Fatalf("head = %d, want InvalidPageID", head)
	}
	if pages != nil {
		t.Fatal("expected no pages for empty freelist")
	}
}

func TestPagesNeeded(t *testing.T) {
	pageSize := 128
	cap := CapacityPerPage(pageSize)
	if PagesNeeded(0, pageSize) != 0 {
		t.Fatal("PagesNeeded(0) should be 0")
	}
	if PagesNeeded(cap, pageSize) != 1 {
		t.Fatalf("PagesNeeded(cap) = %d, want 1", PagesNeeded(cap, pageSize))
	}
	if PagesNeeded(cap+1, pageSize) != 2 {
		t.Fatalf("PagesNeeded(cap+1) = %d, want 2", PagesNeeded(cap+1, pageSize))
	}
}
