package taskrunner

import (
	"context"
	"errors"
	"time"

	"forumpilot/internal/driver"
)

// Policy is the retry budget for one run: a fixed number of attempts with a
// fixed delay between them. No backoff; the target site does not reward
// hammering, and the delay is long enough for flaky states to clear.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

func (p Policy) withDefaults() Policy {
	out := p
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.Delay <= 0 {
		out.Delay = 5 * time.Minute
	}
	return out
}

type failureClass int

const (
	classRetryable failureClass = iota
	classFatal
	classCancelled
)

// classify decides whether an attempt failure burns the run. Fatal
// credential errors and cancellation stop immediately; everything else is
// retried, because a run that could have succeeded on attempt two is worth
// more than a precise taxonomy of attempt one's failure.
func classify(err error) failureClass {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return classCancelled
	case driver.IsAuthFatal(err):
		return classFatal
	default:
		return classRetryable
	}
}

// execute runs attempt up to the policy's budget. The delay between
// attempts aborts promptly on cancellation.
func execute(ctx context.Context, p Policy, logf func(string, ...any), attempt func(ctx context.Context, n int) error) (attempts int, err error) {
	p = p.withDefaults()
	for n := 1; n <= p.MaxAttempts; n++ {
		err = attempt(ctx, n)
		if err == nil {
			return n, nil
		}
		switch classify(err) {
		case classCancelled:
			return n, err
		case classFatal:
			return n, err
		}
		if n == p.MaxAttempts {
			return n, err
		}
		logf("run: attempt %d/%d failed, retrying in %s: %v", n, p.MaxAttempts, p.Delay, err)
		if werr := waitFor(ctx, p.Delay); werr != nil {
			return n, werr
		}
	}
	return p.MaxAttempts, err
}

// waitFor sleeps for d but returns early with the context error on
// cancellation.
func waitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
