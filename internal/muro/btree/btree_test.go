package btree

import (
	"fmt"
	"testing"
)

// fakeTx is a minimal in-memory stand-in for *store.Tx, enough to exercise
// the tree's page traffic without a real pager.
type fakeTx struct {
	pages  map[uint64][]byte
	nextID uint64
}

func newFakeTx() *fakeTx { return &fakeTx{pages: map[uint64][]byte{}, nextID: 1} }

func (f *fakeTx) ReadPage(id uint64) ([]byte, error) {
	buf, ok := f.pages[id]
	if !ok {
		return nil, fmt.Errorf("fakeTx: no page %d", id)
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

func (f *fakeTx) WritePage(id uint64, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	f.pages[id] = buf
}

func (f *fakeTx) AllocatePage() uint64 {
	id := f.nextID
	f.nextID++
	return id
}

func TestInsertAndSearch(t *testing.T) {
	tx := newFakeTx()
	bt, err := Create(tx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := bt.Insert(tx, []byte("b"), []byte("2")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := bt.Insert(tx, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	v, ok, err := bt.Search(tx, []byte("a"))
	if err != nil || !ok || string(v) != "1" {
		t.Fatalf("Search(a) = %q, %v, %v", v, ok, err)
	}
	v, ok, err = bt.Search(tx, []byte("b"))
	if err != nil || !ok || string(v) != "2" {
		t.Fatalf("Search(b) = %q, %v, %v", v, ok, err)
	}
	_, ok, err = bt.Search(tx, []byte("z"))
	if err != nil || ok {
		t.Fatalf("Search(z) should miss, got ok=%v err=%v", ok, err)
	}
}

func TestInsertUpdatesExistingKey(t *testing.T) {
	tx := newFakeTx()
	bt, _ := Create(tx)
	if err := bt.Insert(tx, []byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := bt.Insert(tx, []byte("k"), []byte("v2")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	v, ok, err := bt.Search(tx, []byte("k"))
	if err != nil || !ok || string(v) != "v2" {
		t.Fatalf("Search(k) = %q, %v, %v, want v2", v, ok, err)
	}
}

func TestSplitAcrossManyKeys(t *testing.T) {
	tx := newFakeTx()
	bt, _ := Create(tx)

	const n = 500
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		val := []byte(fmt.Sprintf("value-%04d", i))
		if err := bt.Insert(tx, key, val); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		want := fmt.Sprintf("value-%04d", i)
		v, ok, err := bt.Search(tx, key)
		if err != nil || !ok || string(v) != want {
			t.Fatalf("Search(%s) = %q, %v, %v, want %q", key, v, ok, err, want)
		}
	}

	var scanned int
	var lastKey []byte
	err := bt.Scan(tx, func(key, value []byte) error {
		if lastKey != nil && string(key) < string(lastKey) {
			t.Fatalf("scan out of order: %s after %s", key, lastKey)
		}
		lastKey = append([]byte(nil), key...)
		scanned++
		return nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if scanned != n {
		t.Fatalf("scanned %d entries, want %d", scanned, n)
	}
}

func TestDelete(t *testing.T) {
	tx := newFakeTx()
	bt, _ := Create(tx)
	bt.Insert(tx, []byte("a"), []byte("1"))
	bt.Insert(tx, []byte("b"), []byte("2"))

	ok, err := bt.Delete(tx, []byte("a"))
	if err != nil || !ok {
		t.Fatalf("Delete(a) = %v, %v", ok, err)
	}
	_, ok, _ = bt.Search(tx, []byte("a"))
	if ok {
		t.Fatal("a should be gone after delete")
	}
	v, ok, _ := bt.Search(tx, []byte("b"))
	if !ok || string(v) != "2" {
		t.Fatal("b should survive deleting a")
	}

	ok, err = bt.Delete(tx, []byte("missing"))
	if err != nil || ok {
		t.Fatalf("Delete(missing) = %v, %v, want false, nil", ok, err)
	}
}

func TestOpenWrapsExistingRoot(t *testing.T) {
	tx := newFakeTx()
	bt, _ := Create(tx)
	bt.Insert(tx, []byte("x"), []byte("y"))

	reopened := Open(bt.Root())
	v, ok, err := reopened.Search(tx, []byte("x"))
	if err != nil || !ok || string(v) != "y" {
		t.Fatalf("reopened tree Search(x) = %q, %v, %v", v, ok, err)
	}
}
