package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Driver != "dryrun" || cfg.MaxRepliesPerDay != 10 || cfg.MaxRetries != 3 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if !cfg.AutoReplyEnabled() || !cfg.DailyCheckinEnabled() || !cfg.ReplyGateEnabled() {
		t.Fatal("default feature toggles wrong")
	}
	if cfg.SchedulerEnabled() {
		t.Fatal("scheduler should default to off")
	}
}

func TestLoadParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("want parse error")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	cfg.Username = "tester"
	cfg.ScheduleCron = "0 3 * * *"
	if err := Save(path, cfg.WithDefaults()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Username != "tester" || got.ScheduleCron != "0 3 * * *" {
		t.Fatalf("round trip lost fields: %+v", got)
	}
}

func TestNormalizeInterval(t *testing.T) {
	fallback := []int{60, 180}
	cases := []struct {
		name string
		in   []int
		want []int
	}{
		{"empty", nil, []int{60, 180}},
		{"single", []int{30}, []int{30, 30}},
		{"pair", []int{10, 20}, []int{10, 20}},
		{"swapped", []int{20, 10}, []int{10, 20}},
		{"zero means no pacing", []int{0, 0}, []int{0, 0}},
		{"negative", []int{-1, 20}, []int{60, 180}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeInterval(tc.in, fallback)
			if len(got) != 2 || got[0] != tc.want[0] || got[1] != tc.want[1] {
				t.Fatalf("normalizeInterval(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	if d := ParseDurationOrDefault("300s", time.Minute); d != 5*time.Minute {
		t.Fatalf("got %s", d)
	}
	if d := ParseDurationOrDefault("", time.Minute); d != time.Minute {
		t.Fatalf("empty got %s", d)
	}
	if d := ParseDurationOrDefault("nonsense", time.Minute); d != time.Minute {
		t.Fatalf("garbage got %s", d)
	}
	if d := ParseDurationOrDefault("-5s", time.Minute); d != time.Minute {
		t.Fatalf("negative got %s", d)
	}
}

func TestAIConfigIsEnabled(t *testing.T) {
	on := true
	cases := []struct {
		name string
		cfg  AIConfig
		want bool
	}{
		{"zero value", AIConfig{}, false},
		{"enabled without key", AIConfig{Enabled: &on}, false},
		{"enabled with key", AIConfig{Enabled: &on, APIKey: "sk-x"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.IsEnabled(); got != tc.want {
				t.Fatalf("IsEnabled = %v, want %v", got, tc.want)
			}
		})
	}
}
