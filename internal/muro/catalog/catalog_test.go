package catalog

import (
	"bytes"
	"testing"
)

type fakeTx struct {
	pages  map[uint64][]byte
	nextID uint64
}

func newFakeTx() *fakeTx { return &fakeTx{pages: map[uint64][]byte{}, nextID: 1} }

func (f *fakeTx) ReadPage(id uint64) ([]byte, error) {
	buf, ok := f.pages[id]
	if !ok {
		return nil, bytes.ErrTooLarge
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

func TestSerializeDeserializeBTree(t *testing.T) {
	def := &IndexDef{
		Name:      "by_email",
		TableName: "users",
		Columns:   []string{"email"},
		Type:      TypeBTree,
		IsUnique:  true,
		BTreeRoot: 42,
	}
	got, ok := Deserialize(def.Serialize())
	if !ok {
		t.Fatal("Deserialize failed")
	}
	if got.Name != def.Name || got.TableName != def.TableName || got.BTreeRoot != 42 || !got.IsUnique {
		t.Fatalf("got %+v", got)
	}
}

func TestSerializeDeserializeFulltext(t *testing.T) {
	def := &IndexDef{
		Name:         "body_fts",
		TableName:    "articles",
		Columns:      []string{"body"},
		Type:         TypeFulltext,
		PostingsRoot: 7,
		StatsRoot:    8,
		WrappedKey:   []byte{1, 2, 3, 4},
		KeyNonce:     []byte{5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
	}
	got, ok := Deserialize(def.Serialize())
	if !ok {
		t.Fatal("Deserialize failed")
	}
	if got.PostingsRoot != 7 || got.StatsRoot != 8 {
		t.Fatalf("got %+v", got)
	}
	if !bytes.Equal(got.WrappedKey, def.WrappedKey) || !bytes.Equal(got.KeyNonce, def.KeyNonce) {
		t.Fatalf("wrapped key/nonce mismatch: %+v", got)
	}
}

func TestPutAndGetRoundTrip(t *testing.T) {
	tx := newFakeTx()
	def := &IndexDef{Name: "idx1", Type: TypeBTree, BTreeRoot: 99}
	root, err := Put(tx, 0, def)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := Get(tx, root, "idx1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected to find idx1")
	}
	if got.BTreeRoot != 99 {
		t.Fatalf("got %+v", got)
	}

	if _, ok, err := Get(tx, root, "missing"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestWrapUnwrapKeyRoundTrip(t *testing.T) {
	wrapKey := bytes.Repeat([]byte{0x11}, 32)
	termKey := bytes.Repeat([]byte{0x22}, 32)
	nonce := bytes.Repeat([]byte{0x33}, 12)

	wrapped, err := WrapKey(wrapKey, termKey, nonce)
	if err != nil {
		t.Fatalf("WrapKey: %v", err)
	}
	got, err := UnwrapKey(wrapKey, wrapped, nonce)
	if err != nil {
		t.Fatalf("UnwrapKey: %v", err)
	}
	if !bytes.Equal(got, termKey) {
		t.Fatalf("got %x want %x", got, termKey)
	}

	wrongKey := bytes.Repeat([]byte{0x44}, 32)
	if _, err := UnwrapKey(wrongKey, wrapped, nonce); err == nil {
		t.Fatal("expected UnwrapKey to fail with the wrong wrap key")
	}
}
