// Package retry provides the one backoff strategy shared by the direct and
// relay submission paths, parameterized by an injected recheck function so
// the two call sites cannot drift apart.
package retry

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// Config defines the backoff schedule.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultConfig returns the standard schedule: retries delayed 1s, 2s, 4s and
// so on, capped at 30s, three retries after the initial attempt.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay returns the pre-delay for the given 1-based attempt number. The
// first attempt has no delay; attempt n>1 waits
// min(InitialDelay * Multiplier^(n-2), MaxDelay).
func (c Config) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-2))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// Runner retries a failed set of items. Before each round, Recheck weeds out
// items whose earlier submission succeeded asynchronously (content-addressed
// writes can be verified this way); items with no recheck answer always
// retry. Submit attempts the remaining items and returns the still-failed
// subset with its errors.
type Runner[T any] struct {
	Config  Config
	Recheck func(ctx context.Context, item T) (satisfied bool, err error)
	Submit  func(ctx context.Context, items []T) (failed []T, errs []error)
	Log     *slog.Logger
}

// Outcome reports what a retry run could not repair. Exhaustion is reported,
// never thrown.
type Outcome[T any] struct {
	Remaining []T
	Satisfied int
	Errors    []error
}

// Run retries items until none remain failed or Config.MaxRetries rounds are
// exhausted. The failed items passed in already consumed their first
// attempt, so round n sleeps Delay(n+1).
func (r *Runner[T]) Run(ctx context.Context, items []T) Outcome[T] {
	out := Outcome[T]{Remaining: items}
	for round := 1; round <= r.Config.MaxRetries && len(out.Remaining) > 0; round++ {
		delay := r.Config.Delay(round + 1)
		if delay > 0 {
			select {
			case <-ctx.Done():
				out.Errors = append(out.Errors, ctx.Err())
				return out
			case <-time.After(delay):
			}
		}

		pending := out.Remaining[:0:0]
		for _, item := range out.Remaining {
			if r.Recheck != nil {
				ok, err := r.Recheck(ctx, item)
				if err == nil && ok {
					out.Satisfied++
					continue
				}
			}
			pending = append(pending, item)
		}
		if len(pending) == 0 {
			out.Remaining = nil
			return out
		}

		if r.Log != nil {
			r.Log.Info("retrying failed operations", "round", round, "count", len(pending), "delay", delay)
		}
		failed, errs := r.Submit(ctx, pending)
		out.Remaining = failed
		out.Errors = append(out.Errors, errs...)
	}
	return out
}
