package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"forumpilot/internal/admin"
	"forumpilot/internal/appinfo"
	"forumpilot/internal/config"
	"forumpilot/internal/restart"
	"forumpilot/internal/runlock"
	"forumpilot/internal/runlog"
	"forumpilot/internal/runstate"
	"forumpilot/internal/scheduler"
	"forumpilot/internal/session"
	"forumpilot/internal/supervisor"
	"forumpilot/internal/taskrunner"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "run":
		err = runOnce(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "version":
		fmt.Println(appinfo.Display())
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <serve|run|status|version> [flags]\n", appinfo.Name)
}

// deps is the wired object graph shared by serve and run.
type deps struct {
	configPath string
	state      *runstate.Manager
	controller *taskrunner.Controller
	logs       *admin.LogBuffer
	runs       *runlog.Log
	restartMgr *restart.Manager
	closeFns   []func()
}

func (d *deps) close() {
	for _, fn := range d.closeFns {
		fn()
	}
}

func build(configPath string) (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logs := admin.NewLogBuffer()
	logs.Sink = func(line string) { log.Print(line) }

	state := runstate.NewManager(cfg.StatePath)
	runs := runlog.New(cfg.RunsPath)

	var lock runlock.Locker
	if cfg.RedisURL != "" {
		redisLock, err := runlock.NewRedisLocker(cfg.RedisURL, 2*time.Hour)
		if err != nil {
			return nil, err
		}
		lock = redisLock
	} else {
		lock = runlock.NewFileLocker(filepath.Join(filepath.Dir(cfg.StatePath), "run.lock"))
	}

	sessions := session.NewCache(cfg.SessionPath)
	sessions.Logf = logs.Logf

	runner := &taskrunner.Runner{
		LoadConfig: func() (config.Config, error) { return config.Load(configPath) },
		State:      state,
		Sessions:   sessions,
		Lock:       lock,
		Logf:       logs.Logf,
	}
	controller := &taskrunner.Controller{
		Runner: runner,
		Logf:   logs.Logf,
		Record: func(v taskrunner.Verdict) {
			if err := runs.Append(v); err != nil {
				logs.Logf("run log: %v", err)
			}
		},
	}

	d := &deps{
		configPath: configPath,
		state:      state,
		controller: controller,
		logs:       logs,
		runs:       runs,
		restartMgr: restart.NewManager(restart.ResolveSentinelPath(cfg.StatePath)),
	}
	if closer, ok := lock.(interface{ Close() error }); ok {
		d.closeFns = append(d.closeFns, func() { _ = closer.Close() })
	}
	return d, nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.json", "path to config.json")
	listen := fs.String("listen", "", "admin listen address (overrides config)")
	fs.Parse(args)

	// The parent process only supervises; the actual server runs in the
	// supervised child so config-update restarts work.
	if !supervisor.IsSupervisedChild() && !supervisor.SupervisorDisabled() {
		code, err := supervisor.RunForegroundLoop(os.Args[1:])
		if err != nil {
			return err
		}
		os.Exit(code)
	}

	d, err := build(*configPath)
	if err != nil {
		return err
	}
	defer d.close()

	if s, err := d.restartMgr.ConsumeSentinel(); err == nil && s != nil {
		d.logs.Logf("%s %s", appinfo.Display(), restart.FormatSentinelMessage(s))
	} else {
		d.logs.Logf("%s starting", appinfo.Display())
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	addr := cfg.AdminListen
	if *listen != "" {
		addr = *listen
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched, err := scheduler.Start(ctx, scheduler.Options{
		LoadConfig: func() (config.Config, error) { return config.Load(*configPath) },
		StartRun:   d.controller.StartRunNow,
		Logf:       d.logs.Logf,
	})
	if err != nil {
		return err
	}

	restartCh := make(chan struct{}, 1)
	srv := &admin.Server{
		ConfigPath: *configPath,
		Controller: d.controller,
		State:      d.state,
		Runs:       d.runs,
		Logs:       d.logs,
		Sched:      sched,
		Logf:       d.logs.Logf,
		RequestRestart: func() {
			if first, err := d.restartMgr.RequestRestart(restart.SentinelEntry{
				App:     appinfo.Name,
				Version: appinfo.Version,
				Reason:  "admin restart",
			}); err != nil {
				d.logs.Logf("restart: %v", err)
				return
			} else if first {
				select {
				case restartCh <- struct{}{}:
				default:
				}
			}
		},
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	httpServer := &http.Server{Handler: srv.Handler()}
	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.Serve(ln) }()
	d.logs.Logf("admin: listening on %s", ln.Addr())

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	restarting := false
	select {
	case sig := <-sigCh:
		d.logs.Logf("shutting down on %s", sig)
	case <-restartCh:
		restarting = true
		d.logs.Logf("shutting down for restart")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	d.controller.StopRun()
	cancel()
	<-sched.Done()
	d.controller.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	if restarting {
		d.close()
		os.Exit(restart.ExitCodeRestartRequested)
	}
	return nil
}

func runOnce(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.json", "path to config.json")
	fs.Parse(args)

	d, err := build(*configPath)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	v := d.controller.Runner.Run(ctx)
	if err := d.runs.Append(v); err != nil {
		d.logs.Logf("run log: %v", err)
	}
	d.logs.Logf("run finished: outcome=%s attempts=%d replies=%d checkin=%v",
		v.Outcome, v.Attempts, v.Replies, v.Checkin)
	if v.Outcome != taskrunner.OutcomeSuccess {
		return fmt.Errorf("run %s: %s", v.Outcome, v.Reason)
	}
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "config.json", "path to config.json")
	historyN := fs.Int("n", 7, "history entries to show")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	state := runstate.NewManager(cfg.StatePath)
	today, err := state.GetToday()
	if err != nil {
		return err
	}
	history, err := state.GetHistory(*historyN)
	if err != nil {
		return err
	}

	out := struct {
		Version string                  `json:"version"`
		Today   runstate.DailyState     `json:"today"`
		History []runstate.HistoryEntry `json:"history"`
	}{appinfo.Display(), today, history}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
