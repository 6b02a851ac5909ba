// Package scheduler fires runs at configured times. It supports a list of
// fixed local times and a cron expression; a well-formed cron expression
// takes precedence. Config is re-read on every tick, so schedule edits
// apply without a restart.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	robcron "github.com/robfig/cron/v3"

	"forumpilot/internal/config"
	"forumpilot/internal/runlock"
)

var cronParser = robcron.NewParser(
	robcron.Minute | robcron.Hour | robcron.Dom | robcron.Month | robcron.Dow | robcron.Descriptor,
)

// minRefireGap prevents a double fire when a tick lands twice inside the
// same scheduled minute.
const minRefireGap = 60 * time.Second

type Options struct {
	LoadConfig func() (config.Config, error)

	// StartRun triggers a run; runlock.ErrAlreadyRunning is expected and
	// logged, any other error is contained here too.
	StartRun func() error

	Logf func(format string, args ...any)

	// Now is overridable for tests.
	Now func() time.Time

	// MaxTimerDelay caps how long the loop sleeps between config re-reads.
	MaxTimerDelay time.Duration
}

type Runner struct {
	loadConfig    func() (config.Config, error)
	startRun      func() error
	logf          func(format string, args ...any)
	now           func() time.Time
	maxTimerDelay time.Duration

	wakeCh chan struct{}
	doneCh chan struct{}
	wakeMu sync.Mutex

	mu          sync.Mutex
	firedAt     map[string]bool // "2006-01-02 15:04" minute keys
	firedDate   string
	lastFire    time.Time
	cronExpr    string
	cronNext    time.Time
	badCronExpr string
	nextFire    time.Time
	enabled     bool
	mode        string
}

// Status is the admin snapshot of the schedule.
type Status struct {
	Enabled  bool       `json:"enabled"`
	Mode     string     `json:"mode,omitempty"` // cron or times
	NextFire *time.Time `json:"next_fire,omitempty"`
	LastFire *time.Time `json:"last_fire,omitempty"`
}

func Start(ctx context.Context, opts Options) (*Runner, error) {
	if opts.LoadConfig == nil {
		return nil, errors.New("scheduler: LoadConfig is required")
	}
	if opts.StartRun == nil {
		return nil, errors.New("scheduler: StartRun is required")
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	maxTimerDelay := opts.MaxTimerDelay
	if maxTimerDelay <= 0 {
		maxTimerDelay = 20 * time.Second
	}

	r := &Runner{
		loadConfig:    opts.LoadConfig,
		startRun:      opts.StartRun,
		logf:          logf,
		now:           now,
		maxTimerDelay: maxTimerDelay,
		wakeCh:        make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
		firedAt:       make(map[string]bool),
	}
	go r.loop(ctx)
	return r, nil
}

func (r *Runner) Done() <-chan struct{} {
	if r == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.doneCh
}

// Wake forces an immediate tick, used after a config change.
func (r *Runner) Wake() {
	if r == nil {
		return
	}
	r.wakeMu.Lock()
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
	r.wakeMu.Unlock()
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Status{Enabled: r.enabled, Mode: r.mode}
	if !r.nextFire.IsZero() {
		t := r.nextFire
		out.NextFire = &t
	}
	if !r.lastFire.IsZero() {
		t := r.lastFire
		out.LastFire = &t
	}
	return out
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.doneCh)

	delay := 0 * time.Second
	for {
		if err := ctx.Err(); err != nil {
			return
		}
		if delay <= 0 {
			delay = 250 * time.Millisecond
		}
		if delay > r.maxTimerDelay {
			delay = r.maxTimerDelay
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.wakeCh:
			timer.Stop()
		case <-timer.C:
		}

		delay = r.tick(r.now())
	}
}

// tick decides whether a run is due at now and returns how long to sleep
// until the next check.
func (r *Runner) tick(now time.Time) time.Duration {
	cfg, err := r.loadConfig()
	if err != nil {
		r.logf("scheduler: config unreadable: %v", err)
		return r.maxTimerDelay
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.enabled = cfg.SchedulerEnabled()
	if !r.enabled {
		r.mode = ""
		r.nextFire = time.Time{}
		return r.maxTimerDelay
	}

	r.pruneFiredKeys(now)

	if sched, ok := r.cronSchedule(cfg); ok {
		r.mode = "cron"
		return r.tickCron(now, sched)
	}
	r.mode = "times"
	return r.tickTimes(now, cfg.ScheduleTimes)
}

// cronSchedule parses the configured expression, remembering malformed ones
// so they are only logged once per distinct value.
func (r *Runner) cronSchedule(cfg config.Config) (robcron.Schedule, bool) {
	expr := strings.TrimSpace(cfg.ScheduleCron)
	if expr == "" {
		r.cronExpr = ""
		r.cronNext = time.Time{}
		return nil, false
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		if expr != r.badCronExpr {
			r.badCronExpr = expr
			r.logf("scheduler: invalid cron expression %q, falling back to schedule_times: %v", expr, err)
		}
		r.cronExpr = ""
		r.cronNext = time.Time{}
		return nil, false
	}
	r.badCronExpr = ""
	if expr != r.cronExpr {
		r.cronExpr = expr
		r.cronNext = time.Time{}
	}
	return sched, true
}

func (r *Runner) tickCron(now time.Time, sched robcron.Schedule) time.Duration {
	if r.cronNext.IsZero() {
		r.cronNext = sched.Next(now)
	}
	if !now.Before(r.cronNext) {
		if now.Sub(r.lastFire) >= minRefireGap {
			r.fire(now)
		}
		r.cronNext = sched.Next(now)
	}
	r.nextFire = r.cronNext
	return r.delayUntil(now, r.cronNext)
}

func (r *Runner) tickTimes(now time.Time, times []string) time.Duration {
	next := time.Time{}
	for _, raw := range times {
		at, ok := parseClock(raw)
		if !ok {
			continue
		}
		scheduled := time.Date(now.Year(), now.Month(), now.Day(), at.hour, at.minute, 0, 0, now.Location())
		key := scheduled.Format("2006-01-02 15:04")

		// Due when we are inside the scheduled minute and have not fired
		// for this exact slot yet.
		if !now.Before(scheduled) && now.Sub(scheduled) < time.Minute && !r.firedAt[key] {
			r.firedAt[key] = true
			if now.Sub(r.lastFire) >= minRefireGap {
				r.fire(now)
			}
			continue
		}
		if scheduled.After(now) && (next.IsZero() || scheduled.Before(next)) {
			next = scheduled
		}
	}
	r.nextFire = next
	if next.IsZero() {
		return r.maxTimerDelay
	}
	return r.delayUntil(now, next)
}

// fire is called with r.mu held.
func (r *Runner) fire(now time.Time) {
	r.lastFire = now
	err := r.startRun()
	switch {
	case err == nil:
		r.logf("scheduler: run triggered at %s", now.Format(time.RFC3339))
	case errors.Is(err, runlock.ErrAlreadyRunning):
		r.logf("scheduler: fire skipped, a run is already in progress")
	default:
		r.logf("scheduler: could not start run: %v", err)
	}
}

func (r *Runner) delayUntil(now, next time.Time) time.Duration {
	if next.IsZero() {
		return r.maxTimerDelay
	}
	d := next.Sub(now)
	if d < 0 {
		d = 0
	}
	if d > r.maxTimerDelay {
		d = r.maxTimerDelay
	}
	return d
}

// pruneFiredKeys drops minute keys from previous days so the map stays
// small on long uptimes.
func (r *Runner) pruneFiredKeys(now time.Time) {
	date := now.Format("2006-01-02")
	if date == r.firedDate {
		return
	}
	r.firedDate = date
	for key := range r.firedAt {
		if !strings.HasPrefix(key, date) {
			delete(r.firedAt, key)
		}
	}
}

type clock struct {
	hour   int
	minute int
}

func parseClock(raw string) (clock, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return clock{}, false
	}
	return clock{hour: t.Hour(), minute: t.Minute()}, true
}
