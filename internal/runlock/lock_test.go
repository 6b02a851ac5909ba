package runlock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileLockerAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	l := NewFileLocker(path)

	release, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}

	if _, err := l.Acquire(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Acquire = %v, want ErrAlreadyRunning", err)
	}

	release()
	release() // idempotent

	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("lock file not removed: %v", err)
	}

	release2, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("re-Acquire after release: %v", err)
	}
	release2()
}

func TestFileLockerStaleTakeover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")

	old := NewFileLocker(path)
	now := time.Now()
	old.Now = func() time.Time { return now.Add(-3 * time.Hour) }
	if _, err := old.Acquire(context.Background()); err != nil {
		t.Fatalf("seed stale lock: %v", err)
	}

	fresh := NewFileLocker(path)
	release, err := fresh.Acquire(context.Background())
	if err != nil {
		t.Fatalf("stale lock not taken over: %v", err)
	}
	release()
}

func TestFileLockerLiveLockNotTakenOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")

	holder := NewFileLocker(path)
	release, err := holder.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	contender := NewFileLocker(path)
	if _, err := contender.Acquire(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("live lock taken over: %v", err)
	}
}

func TestFileLockerUnreadableLockAgesByMtime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	stale := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(path, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	l := NewFileLocker(path)
	release, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unreadable stale lock not taken over: %v", err)
	}
	release()
}

func TestFileLockerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := NewFileLocker(filepath.Join(t.TempDir(), "run.lock"))
	if _, err := l.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
