// Package runlog appends one JSON line per finished run. The file is an
// audit trail; nothing in the orchestrator reads it back except the admin
// history endpoint.
package runlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"forumpilot/internal/taskrunner"
)

// Record is one run's line in the log.
type Record struct {
	RunID      string             `json:"run_id"`
	Outcome    taskrunner.Outcome `json:"outcome"`
	Reason     string             `json:"reason,omitempty"`
	Attempts   int                `json:"attempts"`
	Replies    int                `json:"replies"`
	Checkin    bool               `json:"checkin"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
}

type Log struct {
	Path string
}

func New(path string) *Log {
	return &Log{Path: strings.TrimSpace(path)}
}

// Append writes the verdict as a new line. Failures are returned but never
// fatal to the caller; a run that happened is a run that happened.
func (l *Log) Append(v taskrunner.Verdict) error {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return errors.New("run log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("run log: %w", err)
	}

	rec := Record{
		RunID:      uuid.NewString(),
		Outcome:    v.Outcome,
		Reason:     v.Reason,
		Attempts:   v.Attempts,
		Replies:    v.Replies,
		Checkin:    v.Checkin,
		StartedAt:  v.StartedAt,
		FinishedAt: v.FinishedAt,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("run log: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("run log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("run log: %w", err)
	}
	return nil
}

// Tail returns the last n records, oldest first. Lines that do not parse
// are skipped; a truncated final line must not break the admin view.
func (l *Log) Tail(n int) ([]Record, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return nil, errors.New("run log path is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("run log: %w", err)
	}
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("run log: %w", err)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}
