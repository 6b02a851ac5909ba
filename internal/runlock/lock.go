// Package runlock guarantees at most one active run per deployment. The
// in-process controller already serializes runs; this layer guards against
// a second process instance pointed at the same data directory.
package runlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrAlreadyRunning means another run currently holds the lock.
var ErrAlreadyRunning = errors.New("a run is already in progress")

// Locker is acquired for the whole duration of one run.
type Locker interface {
	// Acquire takes the lock or returns ErrAlreadyRunning. The returned
	// release func is idempotent.
	Acquire(ctx context.Context) (release func(), err error)
}

// lockInfo is what the file locker writes for debuggability; takeover only
// looks at AcquiredAt.
type lockInfo struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// FileLocker implements Locker with an O_EXCL lock file. A lock older than
// StaleAfter is treated as left behind by a crashed process and taken over.
type FileLocker struct {
	Path       string
	StaleAfter time.Duration

	Now func() time.Time
}

func NewFileLocker(path string) *FileLocker {
	return &FileLocker{Path: strings.TrimSpace(path), StaleAfter: 2 * time.Hour}
}

func (l *FileLocker) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *FileLocker) Acquire(ctx context.Context) (func(), error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return nil, errors.New("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("run lock: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			data, _ := json.Marshal(lockInfo{PID: os.Getpid(), AcquiredAt: l.now()})
			_, _ = f.Write(data)
			_ = f.Close()
			released := false
			return func() {
				if released {
					return
				}
				released = true
				_ = os.Remove(path)
			}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("run lock: %w", err)
		}
		if attempt > 0 || !l.takeoverStale(path) {
			return nil, ErrAlreadyRunning
		}
	}
	return nil, ErrAlreadyRunning
}

// takeoverStale removes the lock file when its holder is long gone.
func (l *FileLocker) takeoverStale(path string) bool {
	if l.StaleAfter <= 0 {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil || info.AcquiredAt.IsZero() {
		// Unreadable lock files age by mtime instead.
		st, statErr := os.Stat(path)
		if statErr != nil || l.now().Sub(st.ModTime()) < l.StaleAfter {
			return false
		}
		return os.Remove(path) == nil
	}
	if l.now().Sub(info.AcquiredAt) < l.StaleAfter {
		return false
	}
	return os.Remove(path) == nil
}
