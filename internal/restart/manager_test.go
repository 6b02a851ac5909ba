package restart

import (
	"path/filepath"
	"testing"
)

func TestRequestRestartWritesSentinelOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restart-sentinel.json")
	m := NewManager(path)

	first, err := m.RequestRestart(SentinelEntry{Reason: "config update"})
	if err != nil {
		t.Fatalf("RequestRestart: %v", err)
	}
	if !first {
		t.Fatal("first request not reported as first")
	}
	if !m.IsRestartRequested() {
		t.Fatal("requested flag not set")
	}

	again, err := m.RequestRestart(SentinelEntry{Reason: "second"})
	if err != nil {
		t.Fatalf("second RequestRestart: %v", err)
	}
	if again {
		t.Fatal("second request reported as first")
	}
}

func TestConsumeSentinelRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restart-sentinel.json")
	writer := NewManager(path)
	if _, err := writer.RequestRestart(SentinelEntry{Reason: "update"}); err != nil {
		t.Fatalf("RequestRestart: %v", err)
	}

	reader := NewManager(path)
	s, err := reader.ConsumeSentinel()
	if err != nil {
		t.Fatalf("ConsumeSentinel: %v", err)
	}
	if s == nil || s.Payload.Reason != "update" {
		t.Fatalf("sentinel = %+v", s)
	}
	if msg := FormatSentinelMessage(s); msg != "restarted (update)" {
		t.Fatalf("message = %q", msg)
	}

	// Consumed means gone.
	s2, err := reader.ConsumeSentinel()
	if err != nil || s2 != nil {
		t.Fatalf("second consume = %+v, %v", s2, err)
	}
}

func TestConsumeSentinelMissing(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "restart-sentinel.json"))
	s, err := m.ConsumeSentinel()
	if err != nil || s != nil {
		t.Fatalf("missing sentinel = %+v, %v", s, err)
	}
}

func TestResolveSentinelPath(t *testing.T) {
	if got := ResolveSentinelPath("data/state.json"); got != filepath.Join("data", "restart-sentinel.json") {
		t.Fatalf("got %q", got)
	}
	if got := ResolveSentinelPath("state.json"); got != filepath.Join("data", "restart-sentinel.json") {
		t.Fatalf("bare path got %q", got)
	}
}
