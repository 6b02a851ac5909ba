// Package supervisor keeps the serve process alive across requested
// restarts. The parent respawns the child whenever it exits with
// restart.ExitCodeRestartRequested; any other exit is final.
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"forumpilot/internal/restart"
)

const (
	// EnvSupervised marks the child process environment so it does not
	// try to supervise itself recursively.
	EnvSupervised = "FORUMPILOT_SUPERVISED"

	// EnvSupervisorPID is informational only (helps debugging).
	EnvSupervisorPID = "FORUMPILOT_SUPERVISOR_PID"

	// EnvDisableSupervisor disables auto-supervision, for deployments
	// where the container runtime owns restarts.
	EnvDisableSupervisor = "FORUMPILOT_NO_SUPERVISOR"
)

func IsSupervisedChild() bool {
	return strings.TrimSpace(os.Getenv(EnvSupervised)) != ""
}

func SupervisorDisabled() bool {
	v := strings.TrimSpace(os.Getenv(EnvDisableSupervisor))
	if v == "" {
		return false
	}
	switch strings.ToLower(v) {
	case "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

// RunForegroundLoop spawns the child with the given args and restarts it on
// the restart exit code. Signals are forwarded to the child; if it ignores
// them for too long it is killed.
func RunForegroundLoop(args []string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 1, err
	}
	cwd, _ := os.Getwd()

	childEnv := append([]string{}, os.Environ()...)
	childEnv = append(childEnv,
		EnvSupervised+"=1",
		EnvSupervisorPID+"="+strconv.Itoa(os.Getpid()),
	)

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, supervisorSignals()...)
	defer signal.Stop(sigCh)

	restarts := 0
	for {
		cmd := exec.Command(exe, args...)
		cmd.Env = childEnv
		cmd.Dir = cwd
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Start(); err != nil {
			return 1, err
		}
		waitCh := make(chan error, 1)
		go func() { waitCh <- cmd.Wait() }()

		shutdown := false
		killCh := (<-chan time.Time)(nil)
		var killTimer *time.Timer

	waitLoop:
		for {
			select {
			case sig := <-sigCh:
				shutdown = true
				if cmd.Process != nil {
					_ = cmd.Process.Signal(sig)
				}
				if killTimer == nil {
					killTimer = time.NewTimer(8 * time.Second)
					killCh = killTimer.C
				}
			case <-killCh:
				if cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
				killCh = nil
			case runErr := <-waitCh:
				if killTimer != nil {
					killTimer.Stop()
				}
				code, err := exitCode(runErr)
				if err != nil {
					return 1, err
				}
				if shutdown || code != restart.ExitCodeRestartRequested {
					return code, nil
				}
				break waitLoop
			}
		}

		restarts++
		if restarts > 25 {
			return 1, fmt.Errorf("too many restarts (%d)", restarts)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 1, err
}
