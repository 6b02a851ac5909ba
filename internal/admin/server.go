// Package admin is the local HTTP control surface: status, manual
// start/stop, today's stats, history, logs and config round-tripping. It is
// meant to be bound to localhost or put behind a reverse proxy; it carries
// no authentication of its own.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"forumpilot/internal/appinfo"
	"forumpilot/internal/config"
	"forumpilot/internal/runlock"
	"forumpilot/internal/runlog"
	"forumpilot/internal/runstate"
	"forumpilot/internal/scheduler"
	"forumpilot/internal/taskrunner"
)

// passwordMask replaces secrets in GET /api/config responses. A POST that
// sends the mask back keeps the stored secret unchanged.
const passwordMask = "******"

type Server struct {
	ConfigPath string
	Controller *taskrunner.Controller
	State      *runstate.Manager
	Runs       *runlog.Log
	Logs       *LogBuffer

	// Sched is nil when the scheduler is disabled at startup.
	Sched *scheduler.Runner

	// RequestRestart asks the supervisor for a relaunch (config updates
	// that need a clean process).
	RequestRestart func()

	Logf func(format string, args ...any)
}

func (s *Server) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/config", s.handleConfigGet)
	mux.HandleFunc("POST /api/config", s.handleConfigPost)
	mux.HandleFunc("POST /api/reload", s.handleReload)
	mux.HandleFunc("POST /api/restart", s.handleRestart)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	return noCache(mux)
}

func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusPayload struct {
	Version  string            `json:"version"`
	Run      taskrunner.Status `json:"run"`
	Schedule *scheduler.Status `json:"schedule,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := statusPayload{
		Version: appinfo.Display(),
		Run:     s.Controller.Status(),
	}
	if s.Sched != nil {
		st := s.Sched.Status()
		out.Schedule = &st
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.Controller.StartRunNow(); err != nil {
		if errors.Is(err, runlock.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "a run is already in progress")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logf("admin: manual run started")
	writeJSON(w, http.StatusAccepted, map[string]bool{"started": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.Controller.StopRun()
	if stopped {
		s.logf("admin: stop requested")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.State.GetToday()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", runstate.HistoryLimit)
	hist, err := s.State.GetHistory(n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if hist == nil {
		hist = []runstate.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, hist)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 50)
	recs, err := s.Runs.Tail(n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []runlog.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.Logs == nil {
		writeJSON(w, http.StatusOK, []LogEntry{})
		return
	}
	writeJSON(w, http.StatusOK, s.Logs.Entries())
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.Load(s.ConfigPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cfg.Password != "" {
		cfg.Password = passwordMask
	}
	if cfg.SecurityAnswer != "" {
		cfg.SecurityAnswer = passwordMask
	}
	if cfg.AI.APIKey != "" {
		cfg.AI.APIKey = passwordMask
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleConfigPost(w http.ResponseWriter, r *http.Request) {
	var incoming config.Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config json: "+err.Error())
		return
	}

	current, err := config.Load(s.ConfigPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if incoming.Password == passwordMask {
		incoming.Password = current.Password
	}
	if incoming.SecurityAnswer == passwordMask {
		incoming.SecurityAnswer = current.SecurityAnswer
	}
	if incoming.AI.APIKey == passwordMask {
		incoming.AI.APIKey = current.AI.APIKey
	}

	if err := config.Save(s.ConfigPath, incoming.WithDefaults()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logf("admin: config updated")
	if s.Sched != nil {
		s.Sched.Wake()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.Sched != nil {
		s.Sched.Wake()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reloaded": true})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if s.RequestRestart == nil {
		writeError(w, http.StatusNotImplemented, "restart is not available in this deployment")
		return
	}
	s.logf("admin: restart requested")
	writeJSON(w, http.StatusAccepted, map[string]bool{"restarting": true})
	go s.RequestRestart()
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    appinfo.Name,
		"version": appinfo.Version,
		"display": appinfo.Display(),
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
