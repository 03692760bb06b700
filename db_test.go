package muro

import (
	"bytes"
	"path/filepath"
	"testing"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	return Options{
		Path:      filepath.Join(dir, "db.muro"),
		MasterKey: bytes.Repeat([]byte{0x7a}, 32),
	}
}

func TestCreateOpenCloseRoundTrip(t *testing.T) {
	opts := testOptions(t)
	db, err := Create(opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()
}

func TestBeginCommitViewRoundTrip(t *testing.T) {
	opts := testOptions(t)
	db, err := Create(opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	tree, err := CreateBTree(tx)
	if err != nil {
		tx.Abort()
		t.Fatalf("CreateBTree: %v", err)
	}
	if err := tree.Insert(tx.Tx, []byte("hello"), []byte("world")); err != nil {
		tx.Abort()
		t.Fatalf("Insert: %v", err)
	}
	tx.Tx.SetCatalogRoot(tree.Root())
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	err = db.View(func(r Reader) error {
		got := OpenBTree(db.CatalogRoot())
		val, ok, err := got.Search(r, []byte("hello"))
		if err != nil {
			return err
		}
		if !ok || string(val) != "world" {
			t.Fatalf("Search = %q, %v, want world, true", val, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestFTSIndexCreateAndReopenAcrossTransactions(t *testing.T) {
	opts := testOptions(t)
	db, err := Create(opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	ix, err := CreateFTSIndex(tx, "articles_fts", opts.MasterKey)
	if err != nil {
		tx.Abort()
		t.Fatalf("CreateFTSIndex: %v", err)
	}
	if err := ix.IndexDocument(tx.Tx, 1, "東京タワーは有名な観光地です"); err != nil {
		tx.Abort()
		t.Fatalf("IndexDocument: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	wrapKey, err := db.IndexWrapKey(opts.MasterKey)
	if err != nil {
		t.Fatalf("IndexWrapKey: %v", err)
	}

	err = db.View(func(r Reader) error {
		reopened, err := OpenFTSIndex(r, db.CatalogRoot(), "articles_fts", wrapKey)
		if err != nil {
			return err
		}
		results, err := reopened.Search(r, "東京", 10)
		if err != nil {
			return err
		}
		if len(results) != 1 || results[0].DocID != 1 {
			t.Fatalf("results = %+v, want doc 1", results)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}

	// A wrong wrap key (e.g. the wrong master key) must fail to unwrap.
	wrongWrapKey, err := db.indexWrapKey(bytes.Repeat([]byte{0x99}, 32))
	if err != nil {
		t.Fatalf("indexWrapKey: %v", err)
	}
	err = db.View(func(r Reader) error {
		if _, err := OpenFTSIndex(r, db.CatalogRoot(), "articles_fts", wrongWrapKey); err == nil {
			t.Fatal("expected OpenFTSIndex to fail with the wrong wrap key")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestTryBeginReturnsBusyWhileWriteLockHeld(t *testing.T) {
	opts := testOptions(t)
	db, err := Create(opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Abort()

	if _, err := db.TryBegin(); err != ErrBusy {
		t.Fatalf("TryBegin = %v, want ErrBusy", err)
	}
}
