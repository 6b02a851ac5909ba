package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"forumpilot/internal/config"
	"forumpilot/internal/driver"
	"forumpilot/internal/reply"
	"forumpilot/internal/runlog"
	"forumpilot/internal/runstate"
	"forumpilot/internal/session"
	"forumpilot/internal/taskrunner"
)

// blockingDriver parks in ListCandidateItems until cancelled, so tests can
// observe a running run.
type blockingDriver struct{}

func (blockingDriver) Authenticate(ctx context.Context, creds driver.Credentials) (*session.Artifact, error) {
	return &session.Artifact{Tokens: map[string]string{"sid": "x"}}, nil
}
func (blockingDriver) ValidateSession(ctx context.Context, art *session.Artifact) bool { return false }
func (blockingDriver) ListCandidateItems(ctx context.Context, source string) ([]driver.Item, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (blockingDriver) SubmitReply(ctx context.Context, item driver.Item, text string) error {
	return nil
}
func (blockingDriver) PerformCheckin(ctx context.Context) error { return nil }
func (blockingDriver) Release()                                 {}

func newTestServer(t *testing.T, d driver.Driver) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	cfg := config.DefaultConfig()
	cfg.Username = "tester"
	cfg.Password = "hunter2"
	cfg.TargetForums = []string{"general"}
	cfg.ReplyInterval = []int{0, 0}
	cfg.RetryDelay = "10ms"
	cfg.MaxRetries = 1
	if err := config.Save(configPath, cfg.WithDefaults()); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	state := runstate.NewManager(filepath.Join(dir, "state.json"))
	runner := &taskrunner.Runner{
		LoadConfig:   func() (config.Config, error) { return config.Load(configPath) },
		State:        state,
		Sessions:     session.NewCache(filepath.Join(dir, "session.json")),
		NewDriver:    func(config.Config) (driver.Driver, error) { return d, nil },
		NewGenerator: func(config.Config) reply.Generator { return reply.NewTemplateGenerator([]string{"ok"}) },
		Logf:         t.Logf,
	}
	s := &Server{
		ConfigPath: configPath,
		Controller: &taskrunner.Controller{Runner: runner, Logf: t.Logf},
		State:      state,
		Runs:       runlog.New(filepath.Join(dir, "runs.jsonl")),
		Logs:       NewLogBuffer(),
		Logf:       t.Logf,
	}
	return s, configPath
}

func doJSON(t *testing.T, h http.Handler, method, path string, body []byte, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func TestStatusAndVersion(t *testing.T) {
	s, _ := newTestServer(t, blockingDriver{})
	h := s.Handler()

	var st statusPayload
	if code := doJSON(t, h, http.MethodGet, "/api/status", nil, &st); code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	if st.Run.Running {
		t.Fatal("idle server reports running")
	}
	if st.Version == "" {
		t.Fatal("version missing from status")
	}

	var ver map[string]string
	if code := doJSON(t, h, http.MethodGet, "/api/version", nil, &ver); code != http.StatusOK {
		t.Fatalf("version code %d", code)
	}
	if ver["name"] != "forumpilot" {
		t.Fatalf("version payload %v", ver)
	}
}

func TestStartConflictStop(t *testing.T) {
	s, _ := newTestServer(t, blockingDriver{})
	h := s.Handler()

	if code := doJSON(t, h, http.MethodPost, "/api/start", nil, nil); code != http.StatusAccepted {
		t.Fatalf("start code %d", code)
	}
	deadline := time.Now().Add(time.Second)
	for !s.Controller.Status().Running && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if code := doJSON(t, h, http.MethodPost, "/api/start", nil, nil); code != http.StatusConflict {
		t.Fatalf("second start code %d, want 409", code)
	}

	var stop map[string]bool
	if code := doJSON(t, h, http.MethodPost, "/api/stop", nil, &stop); code != http.StatusOK || !stop["stopped"] {
		t.Fatalf("stop = %d %v", code, stop)
	}
	s.Controller.Wait()

	st := s.Controller.Status()
	if st.LastVerdict == nil || st.LastVerdict.Outcome != taskrunner.OutcomeCancelled {
		t.Fatalf("last verdict = %+v", st.LastVerdict)
	}
}

func TestStatsAndHistory(t *testing.T) {
	s, _ := newTestServer(t, blockingDriver{})
	h := s.Handler()

	if err := s.State.MarkItemActed("t-1", runstate.ReplyMeta{Title: "hello"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var today runstate.DailyState
	if code := doJSON(t, h, http.MethodGet, "/api/stats", nil, &today); code != http.StatusOK {
		t.Fatalf("stats code %d", code)
	}
	if today.ReplyCount != 1 {
		t.Fatalf("stats = %+v", today)
	}

	var hist []runstate.HistoryEntry
	if code := doJSON(t, h, http.MethodGet, "/api/history?n=5", nil, &hist); code != http.StatusOK {
		t.Fatalf("history code %d", code)
	}
	if hist == nil {
		t.Fatal("history should be an empty array, not null")
	}
}

func TestConfigMaskAndPreserve(t *testing.T) {
	s, configPath := newTestServer(t, blockingDriver{})
	h := s.Handler()

	var got config.Config
	if code := doJSON(t, h, http.MethodGet, "/api/config", nil, &got); code != http.StatusOK {
		t.Fatalf("config get code %d", code)
	}
	if got.Password != passwordMask {
		t.Fatalf("password not masked: %q", got.Password)
	}

	// Round-trip the masked document with one real edit.
	got.MaxRepliesPerDay = 7
	body, _ := json.Marshal(got)
	if code := doJSON(t, h, http.MethodPost, "/api/config", body, nil); code != http.StatusOK {
		t.Fatalf("config post code %d", code)
	}

	saved, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if saved.Password != "hunter2" {
		t.Fatalf("masked password overwrote the real one: %q", saved.Password)
	}
	if saved.MaxRepliesPerDay != 7 {
		t.Fatalf("edit lost: %d", saved.MaxRepliesPerDay)
	}
}

func TestLogsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, blockingDriver{})
	h := s.Handler()

	for i := 0; i < 3; i++ {
		s.Logs.Logf("line %d", i)
	}
	var entries []LogEntry
	if code := doJSON(t, h, http.MethodGet, "/api/logs", nil, &entries); code != http.StatusOK {
		t.Fatalf("logs code %d", code)
	}
	if len(entries) != 3 || entries[2].Line != "line 2" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestLogBufferRing(t *testing.T) {
	b := NewLogBuffer()
	for i := 0; i < logBufferSize+10; i++ {
		b.Logf("line %d", i)
	}
	entries := b.Entries()
	if len(entries) != logBufferSize {
		t.Fatalf("ring size = %d", len(entries))
	}
	if entries[0].Line != fmt.Sprintf("line %d", 10) {
		t.Fatalf("oldest entry = %q", entries[0].Line)
	}
	if entries[len(entries)-1].Line != fmt.Sprintf("line %d", logBufferSize+9) {
		t.Fatalf("newest entry = %q", entries[len(entries)-1].Line)
	}
}

func TestRestartUnavailable(t *testing.T) {
	s, _ := newTestServer(t, blockingDriver{})
	if code := doJSON(t, s.Handler(), http.MethodPost, "/api/restart", nil, nil); code != http.StatusNotImplemented {
		t.Fatalf("restart code %d, want 501", code)
	}
}
