// Package taskrunner owns the lifecycle of one unattended run: session
// handling, the reply loop, the daily check-in, retries and cancellation.
package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"forumpilot/internal/config"
	"forumpilot/internal/driver"
	"forumpilot/internal/reply"
	"forumpilot/internal/runlock"
	"forumpilot/internal/runstate"
	"forumpilot/internal/session"
)

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Verdict summarizes one finished run for the run log and the admin API.
type Verdict struct {
	Outcome    Outcome   `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	Attempts   int       `json:"attempts"`
	Replies    int       `json:"replies"`
	Checkin    bool      `json:"checkin"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Runner executes runs. All collaborators are injected; LoadConfig is
// called at the start of every attempt so config edits apply without a
// restart.
type Runner struct {
	LoadConfig func() (config.Config, error)
	State      *runstate.Manager
	Sessions   *session.Cache
	Lock       runlock.Locker

	// NewDriver defaults to the registry lookup; tests swap it out.
	NewDriver func(cfg config.Config) (driver.Driver, error)

	// NewGenerator defaults to buildGenerator; tests swap it out.
	NewGenerator func(cfg config.Config) reply.Generator

	Logf func(format string, args ...any)

	// Rand drives the between-reply pacing; nil uses the shared source.
	Rand *rand.Rand
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

func (r *Runner) newDriver(cfg config.Config) (driver.Driver, error) {
	if r.NewDriver != nil {
		return r.NewDriver(cfg)
	}
	name := cfg.Driver
	// Test mode exercises the full flow without touching the real site.
	if cfg.TestModeEnabled() {
		name = "dryrun"
	}
	return driver.New(name, nil)
}

func (r *Runner) newGenerator(cfg config.Config) reply.Generator {
	if r.NewGenerator != nil {
		return r.NewGenerator(cfg)
	}
	return buildGenerator(cfg, r.Logf)
}

// Run executes one complete run and always returns a verdict. It holds the
// cross-process lock for the whole duration when one is configured.
func (r *Runner) Run(ctx context.Context) Verdict {
	started := time.Now()
	verdict := func(o Outcome, reason string, attempts int) Verdict {
		v := Verdict{Outcome: o, Reason: reason, Attempts: attempts, StartedAt: started, FinishedAt: time.Now()}
		if st, err := r.State.GetToday(); err == nil {
			v.Replies = st.ReplyCount
			v.Checkin = st.CheckinDone
		}
		return v
	}

	if r.Lock != nil {
		release, err := r.Lock.Acquire(ctx)
		if err != nil {
			if errors.Is(err, runlock.ErrAlreadyRunning) {
				return verdict(OutcomeFailed, "another run is already in progress", 0)
			}
			return verdict(OutcomeFailed, "run lock: "+err.Error(), 0)
		}
		defer release()
	}

	cfg, err := r.LoadConfig()
	if err != nil {
		return verdict(OutcomeFailed, "load config: "+err.Error(), 0)
	}

	policy := Policy{
		MaxAttempts: cfg.MaxRetries,
		Delay:       config.ParseDurationOrDefault(cfg.RetryDelay, 5*time.Minute),
	}

	attempts, err := execute(ctx, policy, r.logf, func(ctx context.Context, n int) error {
		// Config and state are re-read per attempt: a long retry delay is
		// plenty of time for either to have changed underneath us.
		cfg, cfgErr := r.LoadConfig()
		if cfgErr != nil {
			return cfgErr
		}
		return r.attempt(ctx, cfg, n)
	})

	switch {
	case err == nil:
		return verdict(OutcomeSuccess, "", attempts)
	case classify(err) == classCancelled:
		return verdict(OutcomeCancelled, "stopped", attempts)
	case driver.IsAuthFatal(err):
		return verdict(OutcomeFailed, "authentication failed: "+err.Error(), attempts)
	default:
		return verdict(OutcomeFailed, err.Error(), attempts)
	}
}

// attempt is one full pass: session, replies, check-in. The driver is
// released on every exit path.
func (r *Runner) attempt(ctx context.Context, cfg config.Config, n int) error {
	st, err := r.State.GetToday()
	if err != nil {
		return err
	}
	if r.workComplete(cfg, st) {
		r.logf("run: nothing left to do today (replies=%d checkin=%v)", st.ReplyCount, st.CheckinDone)
		return nil
	}

	d, err := r.newDriver(cfg)
	if err != nil {
		return fmt.Errorf("create driver: %w", err)
	}
	defer d.Release()

	r.logf("run: attempt %d starting (driver=%s)", n, cfg.Driver)

	if err := r.ensureSession(ctx, cfg, d); err != nil {
		return err
	}

	if cfg.AutoReplyEnabled() && st.ReplyCount < cfg.MaxRepliesPerDay {
		if err := r.replyLoop(ctx, cfg, d); err != nil {
			return err
		}
	}

	return r.maybeCheckin(ctx, cfg, d)
}

// workComplete reports whether a trigger can return success without
// touching the driver. A completed check-in alone is enough: once it has
// happened, re-running the orchestrator must stay cheap no matter how many
// replies were posted.
func (r *Runner) workComplete(cfg config.Config, st runstate.DailyState) bool {
	if st.CheckinDone {
		return true
	}
	if !cfg.DailyCheckinEnabled() {
		// Replies are the only remaining duty.
		return !cfg.AutoReplyEnabled() || st.ReplyCount >= cfg.MaxRepliesPerDay
	}
	// The reply gate makes check-in permanently unreachable for the day
	// when replies are off and none were posted before the toggle flipped.
	return cfg.ReplyGateEnabled() && !cfg.AutoReplyEnabled() && st.ReplyCount == 0
}

// driverCallTimeout is the budget for one network-bound driver call.
func driverCallTimeout(cfg config.Config) time.Duration {
	return config.ParseDurationOrDefault(cfg.DriverTimeout, 30*time.Second)
}

// callDriver bounds one driver call with the per-call timeout. Hitting that
// deadline is a retryable failure of the call, not a cancellation of the
// run; only the parent context carries cancellation.
func callDriver(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(cctx)
	if err != nil && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return driver.Transient(fmt.Errorf("driver call timed out after %s", timeout))
	}
	return err
}

// ensureSession reuses the cached artifact when the driver accepts it and
// falls back to a fresh login otherwise. A fatal credential failure
// invalidates the cache so the next run does not retry garbage tokens.
func (r *Runner) ensureSession(ctx context.Context, cfg config.Config, d driver.Driver) error {
	timeout := driverCallTimeout(cfg)

	art, err := r.Sessions.Load()
	if err != nil {
		r.logf("run: session cache unreadable, forcing fresh login: %v", err)
		art = nil
	}
	if art != nil && !art.Expired(time.Now()) {
		vctx, cancel := context.WithTimeout(ctx, timeout)
		ok := d.ValidateSession(vctx, art)
		cancel()
		if ok {
			r.logf("run: reusing cached session")
			return nil
		}
	}
	if art != nil {
		r.logf("run: cached session rejected, logging in fresh")
		_ = r.Sessions.Invalidate()
	}

	var fresh *session.Artifact
	err = callDriver(ctx, timeout, func(ctx context.Context) error {
		var aerr error
		fresh, aerr = d.Authenticate(ctx, driver.Credentials{
			BaseURL:            cfg.BaseURL,
			Username:           cfg.Username,
			Password:           cfg.Password,
			SecurityQuestionID: cfg.SecurityQuestionID,
			SecurityAnswer:     cfg.SecurityAnswer,
		})
		return aerr
	})
	if err != nil {
		if driver.IsAuthFatal(err) {
			_ = r.Sessions.Invalidate()
		}
		return err
	}
	if err := r.Sessions.Save(fresh); err != nil {
		// A run with an unsaved session is still a valid run.
		r.logf("run: could not persist session: %v", err)
	}
	return nil
}

// replyLoop walks the configured sources and replies until the daily quota
// is reached or candidates run out. Duplicates and filtered titles are
// skipped silently; pacing between posted replies is randomized.
func (r *Runner) replyLoop(ctx context.Context, cfg config.Config, d driver.Driver) error {
	gen := r.newGenerator(cfg)
	timeout := driverCallTimeout(cfg)

	for _, source := range cfg.TargetForums {
		source = strings.TrimSpace(source)
		if source == "" {
			continue
		}
		st, err := r.State.GetToday()
		if err != nil {
			return err
		}
		if st.ReplyCount >= cfg.MaxRepliesPerDay {
			return nil
		}

		var items []driver.Item
		err = callDriver(ctx, timeout, func(ctx context.Context) error {
			var lerr error
			items, lerr = d.ListCandidateItems(ctx, source)
			return lerr
		})
		if err != nil {
			return err
		}
		label := source
		if name := cfg.ForumNames[source]; name != "" {
			label = name
		}
		r.logf("run: %s: %d candidate items", label, len(items))

		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			st, err := r.State.GetToday()
			if err != nil {
				return err
			}
			if st.ReplyCount >= cfg.MaxRepliesPerDay {
				r.logf("run: daily reply quota reached (%d)", cfg.MaxRepliesPerDay)
				return nil
			}
			if reply.ShouldSkip(item.Title, cfg.SkipKeywords, cfg.SkipPrefixes) {
				continue
			}
			if st.HasActed(item.ID) {
				continue
			}

			text, err := gen.Generate(ctx, item.Title, item.BodyExcerpt)
			if err != nil {
				return err
			}
			err = callDriver(ctx, timeout, func(ctx context.Context) error {
				return d.SubmitReply(ctx, item, text)
			})
			if err != nil {
				return err
			}
			// Submit succeeded: the ledger entry must land even if this
			// attempt later fails, or a retry would double-post.
			err = r.State.MarkItemActed(item.ID, runstate.ReplyMeta{
				Title:   item.Title,
				URL:     item.URL,
				Content: text,
			})
			if err != nil && !errors.Is(err, runstate.ErrDuplicateItem) {
				return err
			}
			r.logf("run: replied to %q", item.Title)

			if err := waitFor(ctx, r.pacingDelay(cfg)); err != nil {
				return err
			}
		}
	}
	return nil
}

// maybeCheckin performs the daily check-in unless it already happened, the
// feature is off, or the reply-before-check-in gate blocks it.
func (r *Runner) maybeCheckin(ctx context.Context, cfg config.Config, d driver.Driver) error {
	if !cfg.DailyCheckinEnabled() {
		return nil
	}
	st, err := r.State.GetToday()
	if err != nil {
		return err
	}
	if st.CheckinDone {
		return nil
	}
	if cfg.ReplyGateEnabled() && st.ReplyCount == 0 {
		r.logf("run: skipping check-in, no replies posted yet today")
		return nil
	}
	err = callDriver(ctx, driverCallTimeout(cfg), func(ctx context.Context) error {
		return d.PerformCheckin(ctx)
	})
	if err != nil {
		return err
	}
	if err := r.State.MarkCheckinSuccess(); err != nil {
		return err
	}
	r.logf("run: daily check-in done")
	return nil
}

func (r *Runner) pacingDelay(cfg config.Config) time.Duration {
	iv := cfg.ReplyInterval
	if len(iv) < 2 || iv[1] <= 0 {
		return 0
	}
	lo, hi := iv[0], iv[1]
	if lo < 0 {
		lo = 0
	}
	span := hi - lo
	secs := lo
	if span > 0 {
		if r.Rand != nil {
			secs += r.Rand.Intn(span + 1)
		} else {
			secs += rand.Intn(span + 1)
		}
	}
	return time.Duration(secs) * time.Second
}

// buildGenerator wires the configured generator chain: templates always,
// the AI path in front when enabled.
func buildGenerator(cfg config.Config, logf func(string, ...any)) reply.Generator {
	templates := reply.NewTemplateGenerator(cfg.ReplyTemplates)
	if !cfg.AI.IsEnabled() {
		return templates
	}
	client, err := newAIClient(cfg.AI)
	if err != nil {
		if logf != nil {
			logf("run: ai generator unavailable, using templates: %v", err)
		}
		return templates
	}
	return &reply.WithFallback{
		Primary: &reply.LLMGenerator{
			Client:       client,
			SystemPrompt: cfg.AI.SystemPrompt,
			Temperature:  cfg.AI.Temperature,
		},
		Fallback: templates,
		Logf:     logf,
	}
}
