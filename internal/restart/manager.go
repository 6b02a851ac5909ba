// Package restart implements the restart handshake: the process writes a
// sentinel explaining why it is restarting, exits with a well-known code,
// and the supervisor (or container runtime) relaunches it. On the next
// start the sentinel is consumed and logged.
package restart

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Sentinel struct {
	Version int           `json:"version"`
	Payload SentinelEntry `json:"payload"`
}

type SentinelEntry struct {
	TS      time.Time `json:"ts"`
	App     string    `json:"app,omitempty"`
	Version string    `json:"version,omitempty"`
	PID     int       `json:"pid,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// Manager serializes restart requests; only the first one per process
// lifetime writes the sentinel.
type Manager struct {
	sentinelPath string
	requested    atomic.Bool
	mu           sync.Mutex
}

func NewManager(sentinelPath string) *Manager {
	trimmed := strings.TrimSpace(sentinelPath)
	if trimmed == "" {
		return &Manager{}
	}
	return &Manager{sentinelPath: filepath.Clean(trimmed)}
}

func (m *Manager) IsRestartRequested() bool {
	if m == nil {
		return false
	}
	return m.requested.Load()
}

// RequestRestart records the sentinel. Reports whether this call was the
// first request.
func (m *Manager) RequestRestart(entry SentinelEntry) (bool, error) {
	if m == nil {
		return false, errors.New("restart manager is nil")
	}
	if m.sentinelPath == "" {
		return false, errors.New("restart sentinel path is empty")
	}
	if entry.TS.IsZero() {
		entry.TS = time.Now().UTC()
	}
	if entry.PID == 0 {
		entry.PID = os.Getpid()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.requested.Load() {
		return false, nil
	}
	if err := writeSentinelAtomic(m.sentinelPath, entry); err != nil {
		return false, err
	}
	m.requested.Store(true)
	return true, nil
}

// ConsumeSentinel reads and removes the sentinel left by a previous
// incarnation. Missing or unreadable sentinels are nil, not errors.
func (m *Manager) ConsumeSentinel() (*Sentinel, error) {
	if m == nil || m.sentinelPath == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(m.sentinelPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer os.Remove(m.sentinelPath)

	var out Sentinel
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil
	}
	if out.Version != 1 {
		return nil, nil
	}
	return &out, nil
}

func writeSentinelAtomic(path string, payload SentinelEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(Sentinel{Version: 1, Payload: payload}, "", "  ")
	if err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp-%d", path, time.Now().UTC().UnixNano())
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func FormatSentinelMessage(s *Sentinel) string {
	if s == nil {
		return ""
	}
	reason := strings.TrimSpace(s.Payload.Reason)
	if reason == "" {
		return "restarted"
	}
	return "restarted (" + reason + ")"
}

// ResolveSentinelPath places the sentinel next to the state files.
func ResolveSentinelPath(statePath string) string {
	dir := filepath.Dir(strings.TrimSpace(statePath))
	if dir == "" || dir == "." {
		dir = "data"
	}
	return filepath.Join(dir, "restart-sentinel.json")
}
