//go:build unix

package platform

import (
	"errors"
	"os"
	"testing"
)

func TestAcquireSessionLock_ContentionAndRelease(t *testing.T) {
	dir := t.TempDir()

	lock1, err := AcquireSessionLock(dir)
	if err != nil {
		t.Fatalf("acquire first lock: %v", err)
	}
	if got := SessionOwner(dir); got != os.Getpid() {
		t.Fatalf("expected owner pid %d, got %d", os.Getpid(), got)
	}

	lock2, err := AcquireSessionLock(dir)
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected %v, got %v", ErrSessionActive, err)
	}
	if lock2 != nil {
		t.Fatalf("expected second lock to be nil, got %#v", lock2)
	}

	if err := lock1.Release(); err != nil {
		t.Fatalf("release first lock: %v", err)
	}
	if err := lock1.Release(); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}

	lock3, err := AcquireSessionLock(dir)
	if err != nil {
		t.Fatalf("acquire lock after release: %v", err)
	}
	if err := lock3.Release(); err != nil {
		t.Fatalf("release third lock: %v", err)
	}
}

func TestAcquireSessionLock_RequiresDir(t *testing.T) {
	if _, err := AcquireSessionLock("  "); err == nil {
		t.Fatalf("expected empty dir to be rejected")
	}
}

func TestSessionOwner_MissingFile(t *testing.T) {
	if got := SessionOwner(t.TempDir()); got != 0 {
		t.Fatalf("expected 0 for missing lock file, got %d", got)
	}
}
