package taskrunner

import (
	"context"
	"sync"
	"time"

	"forumpilot/internal/runlock"
)

// Controller serializes runs within the process and exposes the start/stop
// surface the scheduler and the admin API share. Cross-process exclusion is
// the Runner's lock; this is the in-process half.
type Controller struct {
	Runner *Runner

	// Record, when set, receives every finished verdict (the run log).
	Record func(Verdict)

	Logf func(format string, args ...any)

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	startedAt time.Time
	doneCh    chan struct{}
	last      *Verdict
}

// Status is the admin snapshot.
type Status struct {
	Running     bool       `json:"running"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	LastVerdict *Verdict   `json:"last_verdict,omitempty"`
}

func (c *Controller) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

// StartRunNow launches a run in the background. Returns
// runlock.ErrAlreadyRunning when one is active.
func (c *Controller) StartRunNow() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return runlock.ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.running = true
	c.cancel = cancel
	c.startedAt = time.Now()
	c.doneCh = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		v := c.Runner.Run(ctx)
		cancel()

		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.last = &v
		c.mu.Unlock()

		c.logf("run: finished outcome=%s attempts=%d replies=%d checkin=%v reason=%q",
			v.Outcome, v.Attempts, v.Replies, v.Checkin, v.Reason)
		if c.Record != nil {
			c.Record(v)
		}
	}()
	return nil
}

// StopRun requests cancellation of the active run. It returns immediately;
// the run winds down cooperatively. Reports whether a run was active.
func (c *Controller) StopRun() bool {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		return false
	}
	c.logf("run: stop requested")
	cancel()
	return true
}

// Wait blocks until the active run (if any) has finished.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.doneCh
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Status{Running: c.running}
	if c.running {
		t := c.startedAt
		out.StartedAt = &t
	}
	if c.last != nil {
		v := *c.last
		out.LastVerdict = &v
	}
	return out
}
