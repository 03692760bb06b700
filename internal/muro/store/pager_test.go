package store

import (
	"bytes"
	"path/filepath"
	"testing"
)

func testOpts(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	return Options{
		Path:      filepath.Join(dir, "db.muro"),
		WALPath:   filepath.Join(dir, "db.muro.wal"),
		MasterKey: bytes.Repeat([]byte{0x42}, 32),
	}
}

func TestCreateOpenRoundTrip(t *testing.T) {
	opts := testOpts(t)
	var salt [16]byte
	copy(salt[:], "0123456789abcdef")

	p, err := Create(opts, salt)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()
	if reopened.Header().Version != CurrentVersion {
		t.Fatalf("version = %d, want %d", reopened.Header().Version, CurrentVersion)
	}
}

func TestTxCommitPersistsPage(t *testing.T) {
	opts := testOpts(t)
	var salt [16]byte
	copy(salt[:], "fedcba9876543210")
	p, err := Create(opts, salt)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer p.Close()

	tx := p.BeginTx()
	id := tx.AllocatePage()
	payload := bytes.Repeat([]byte{0xAB}, 100)
	tx.WritePage(id, payload)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := p.ReadPage(id)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if !bytes.HasPrefix(got, payload) {
		t.Fatalf("page contents not persisted")
	}
}

func TestTxAbortDiscardsWritesAndFreesAllocation(t *testing.T) {
	opts := testOpts(t)
	var salt [16]byte
	copy(salt[:], "abortabortabort0")
	p, err := Create(opts, salt)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer p.Close()

	tx := p.BeginTx()
	id := tx.AllocatePage()
	tx.WritePage(id, []byte("should not survive"))
	if err := tx.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	reused := p.AllocatePage()
	if reused != id {
		t.Fatalf("aborted allocation %d was not returned to the freelist (got %d)", id, reused)
	}
}

func TestRecoverReplaysCommittedTransactionAfterCrash(t *testing.T) {
	opts := testOpts(t)
	var salt [16]byte
	copy(salt[:], "recoverrecover00")

	p, err := Create(opts, salt)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	tx := p.BeginTx()
	id := tx.AllocatePage()
	payload := []byte("durable across crash")
	tx.WritePage(id, payload)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Simulate a crash: close the file handles directly without a final
	// flush-driven Close, then reopen and let Recover replay from the WAL.
	p.dbFile.Close()
	p.wal.Close()

	reopened, err := Open(opts)
	if err != nil {
		t.Fatalf("Open after crash: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.ReadPage(id)
	if err != nil {
		t.Fatalf("ReadPage after recovery: %v", err)
	}
	if !bytes.HasPrefix(got, payload) {
		t.Fatalf("recovered page mismatch: got %q", got)
	}
}
