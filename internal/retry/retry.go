// Package retry runs remote-facing operations under the single retry policy
// of the tool. An operation is retried only when its error is classified
// retryable by the domain taxonomy; everything else fails on the first
// attempt.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/unzipq/unzipq/internal/backoff"
	"github.com/unzipq/unzipq/pkg/domain"
)

// Config controls one retrying execution.
type Config struct {
	// MaxAttempts bounds the total number of executions, first try included.
	// Values below 1 mean a single attempt.
	MaxAttempts int
	Policy      string
	Base        time.Duration
	Max         time.Duration

	// OnRetry, when set, runs before each wait with the 1-based attempt
	// number that just failed, the chosen delay, and the error.
	OnRetry func(attempt int, delay time.Duration, err error)

	// Sleep replaces the wait between attempts. Tests inject a recorder
	// here; the default sleeps on a timer and honors ctx cancellation.
	Sleep func(ctx context.Context, d time.Duration) error

	// Rng feeds the jitter policies. Nil falls back to a fixed-seed source
	// inside the backoff package.
	Rng *rand.Rand
}

// Defaults is the policy used when the configuration does not override it:
// three attempts with full-jitter exponential waits.
func Defaults() Config {
	return Config{
		MaxAttempts: 3,
		Policy:      backoff.PolicyExpFullJitter,
		Base:        time.Second,
		Max:         30 * time.Second,
	}
}

// Do runs op until it succeeds, fails terminally, or the attempt budget is
// spent. A spent budget returns domain.RetriesExhaustedError wrapping the
// last underlying error.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var last error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !domain.IsRetryable(err) {
			return zero, err
		}
		last = err
		if attempt == cfg.MaxAttempts {
			break
		}
		delay := backoff.Compute(cfg.Policy, cfg.Base, cfg.Max, attempt-1, cfg.Rng)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, &domain.RetriesExhaustedError{Attempts: cfg.MaxAttempts, Last: last}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
