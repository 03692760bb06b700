package fts

import (
	"fmt"
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

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 7)
	}
	return key
}

func TestIndexAndSearchFindsDocument(t *testing.T) {
	tx := newFakeTx()
	ix, err := Create(tx, testKey())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	docs := map[uint64]string{
		1: "東京タワーは日本の有名な観光地です",
		2: "大阪城も人気の観光スポットです",
		3: "東京スカイツリーも東京にあります",
	}
	for id, text := range docs {
		if err := ix.IndexDocument(tx, id, text); err != nil {
			t.Fatalf("IndexDocument(%d): %v", id, err)
		}
	}

	results, err := ix.Search(tx, "東京", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	found := map[uint64]bool{}
	for _, r := range results {
		found[r.DocID] = true
	}
	if !found[1] || !found[3] {
		t.Fatalf("expected docs 1 and 3 to match 東京, got %+v", results)
	}
	if found[2] {
		t.Fatalf("doc 2 should not match 東京, got %+v", results)
	}
}

func TestBooleanMustNotExcludesDocument(t *testing.T) {
	tx := newFakeTx()
	ix, _ := Create(tx, testKey())

	ix.IndexDocument(tx, 1, "東京タワーは素晴らしい")
	ix.IndexDocument(tx, 2, "東京ドームも素晴らしい")

	results, err := ix.Search(tx, "+東京 -タワー", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.DocID == 1 {
			t.Fatalf("doc 1 should be excluded by -タワー, got %+v", results)
		}
	}
}

func TestRemoveDocumentDropsItFromResults(t *testing.T) {
	tx := newFakeTx()
	ix, _ := Create(tx, testKey())

	text := "東京タワーの夜景"
	if err := ix.IndexDocument(tx, 1, text); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if err := ix.RemoveDocument(tx, 1, text); err != nil {
		t.Fatalf("RemoveDocument: %v", err)
	}

	results, err := ix.Search(tx, "東京", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results after removal, got %+v", results)
	}
}

func TestSearchRanksByMultiBigramQuery(t *testing.T) {
	tx := newFakeTx()
	ix, _ := Create(tx, testKey())

	ix.IndexDocument(tx, 1, "東京タワーは夜景がきれいな観光名所です")
	ix.IndexDocument(tx, 2, "大阪城の歴史を紹介します")

	results, err := ix.Search(tx, "東京タワー夜景", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].DocID != 1 {
		t.Fatalf("results = %+v, want only doc 1 scored", results)
	}
	if results[0].Score <= 0 {
		t.Fatalf("score = %v, want > 0 for a matching multi-bigram query", results[0].Score)
	}
}

func TestPhraseQueryRejectsNonAdjacentBigrams(t *testing.T) {
	tx := newFakeTx()
	ix, _ := Create(tx, testKey())

	// "ABA" tokenizes to bigrams AB, BA. A document containing "AB...BA"
	// (not contiguous) has both bigrams in its posting lists but never
	// the literal substring "ABA" — a correct phrase match must reject it.
	ix.IndexDocument(tx, 1, "ABXXXXBA")
	ix.IndexDocument(tx, 2, "zzABAzz")

	results, err := ix.Search(tx, `+"ABA"`, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	found := map[uint64]bool{}
	for _, r := range results {
		found[r.DocID] = true
	}
	if found[1] {
		t.Fatalf("doc 1 should not match phrase \"ABA\": bigrams co-occur but aren't adjacent, got %+v", results)
	}
	if !found[2] {
		t.Fatalf("doc 2 should match phrase \"ABA\", got %+v", results)
	}
}

func TestOpenReopensExistingIndex(t *testing.T) {
	tx := newFakeTx()
	ix, _ := Create(tx, testKey())
	ix.IndexDocument(tx, 1, "東京タワー見物")

	reopened := Open(ix.PostingsRoot(), ix.StatsRoot(), testKey())
	results, err := reopened.Search(tx, "東京", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].DocID != 1 {
		t.Fatalf("results = %+v, want doc 1", results)
	}
}
