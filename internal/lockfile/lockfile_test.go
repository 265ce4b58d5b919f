package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stackops.lock")

	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected lock file removed after release")
	}
}

func TestAcquire_HeldByLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stackops.lock")

	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer func() { _ = lock.Release() }()

	// Our own PID is in the file and we are alive, so a second
	// acquire must fail.
	if _, err := Acquire(path); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked for held lock, got %v", err)
	}
}

func TestAcquire_ReclaimsStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stackops.lock")

	// PID 0 can never be a live pipeline process.
	if err := os.WriteFile(path, []byte("0\n"), 0644); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}

	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("expected stale lock to be reclaimed, got %v", err)
	}
	_ = lock.Release()
}

func TestAcquire_GarbageLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stackops.lock")

	if err := os.WriteFile(path, []byte("not-a-pid"), 0644); err != nil {
		t.Fatalf("write garbage lock: %v", err)
	}

	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("expected unreadable lock to be reclaimed, got %v", err)
	}
	_ = lock.Release()
}

func TestRelease_NilLock(t *testing.T) {
	var lock *Lock
	if err := lock.Release(); err != nil {
		t.Errorf("expected nil release to be a no-op, got %v", err)
	}
}
