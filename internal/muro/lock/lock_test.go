package lock

import (
	"os"
	"path/filepath"
	"testing"
)

func tempLockFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.lock")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestSharedLocksCoexist(t *testing.T) {
	path := tempLockFile(t)
	a, err := Acquire(path, Shared)
	if err != nil {
		t.Fatalf("Acquire a: %v", err)
	}
	defer a.Release()

	b, ok, err := TryAcquire(path, Shared)
	if err != nil {
		t.Fatalf("TryAcquire b: %v", err)
	}
	if !ok {
		t.Fatal("a second shared lock should succeed")
	}
	defer b.Release()
}

func TestExclusiveBlocksOthers(t *testing.T) {
	path := tempLockFile(t)
	w, err := Acquire(path, Exclusive)
	if err != nil {
		t.Fatalf("Acquire w: %v", err)
	}

	if _, ok, err := TryAcquire(path, Shared); err != nil || ok {
		t.Fatalf("shared TryAcquire while exclusive held: ok=%v err=%v", ok, err)
	}
	if _, ok, err := TryAcquire(path, Exclusive); err != nil || ok {
		t.Fatalf("exclusive TryAcquire while exclusive held: ok=%v err=%v", ok, err)
	}

	if err := w.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	again, ok, err := TryAcquire(path, Exclusive)
	if err != nil || !ok {
		t.Fatalf("TryAcquire after release: ok=%v err=%v", ok, err)
	}
	again.Release()
}
