package admin

import (
	"fmt"
	"sync"
	"time"
)

// logBufferSize bounds the in-memory tail served by /api/logs.
const logBufferSize = 500

type LogEntry struct {
	Time time.Time `json:"time"`
	Line string    `json:"line"`
}

// LogBuffer keeps the most recent log lines in a ring. It is meant to sit
// behind the process's logf so the admin UI can show recent activity
// without tailing files.
type LogBuffer struct {
	// Sink, when set, also receives every formatted line (usually the
	// standard logger).
	Sink func(line string)

	mu      sync.Mutex
	entries []LogEntry
	start   int
	count   int
}

func NewLogBuffer() *LogBuffer {
	return &LogBuffer{entries: make([]LogEntry, logBufferSize)}
}

// Logf matches the logf signature used across the codebase.
func (b *LogBuffer) Logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	b.mu.Lock()
	idx := (b.start + b.count) % len(b.entries)
	if b.count == len(b.entries) {
		b.start = (b.start + 1) % len(b.entries)
		b.count--
	}
	b.entries[idx] = LogEntry{Time: time.Now(), Line: line}
	b.count++
	sink := b.Sink
	b.mu.Unlock()

	if sink != nil {
		sink(line)
	}
}

// Entries returns the buffered lines, oldest first.
func (b *LogBuffer) Entries() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LogEntry, 0, b.count)
	for i := 0; i < b.count; i++ {
		out = append(out, b.entries[(b.start+i)%len(b.entries)])
	}
	return out
}
