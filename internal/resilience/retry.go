package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Permanent marks an error as non-retryable. [Retry] stops immediately when
// the wrapped function returns a Permanent error — schema-validation failures
// fall in this class: repeating the identical request will not fix them.
type Permanent struct {
	Err error
}

// Error implements the error interface.
func (p *Permanent) Error() string { return p.Err.Error() }

// Unwrap returns the underlying error.
func (p *Permanent) Unwrap() error { return p.Err }

// NewPermanent wraps err so that [Retry] gives up on it immediately.
func NewPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// RetryConfig holds tuning knobs for [Retry].
type RetryConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxAttempts is the total number of attempts including the first.
	// Default: 3.
	MaxAttempts int

	// BaseDelay is the delay before the first retry; subsequent delays double.
	// Default: 1s.
	BaseDelay time.Duration

	// MaxDelay caps the per-retry delay. Default: 30s.
	MaxDelay time.Duration
}

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff and
// jitter between attempts. It stops early when fn succeeds, when fn returns a
// [Permanent] error, or when ctx is cancelled. The returned error is the last
// error from fn (unwrapped from Permanent).
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}

	var lastErr error
	delay := cfg.BaseDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var perm *Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		// Full jitter: sleep a random fraction of the current delay window.
		sleep := time.Duration(rand.Int64N(int64(delay))) + delay/2
		slog.Debug("retrying after failure",
			"name", cfg.Name,
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"sleep", sleep,
			"error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w (last error: %v)", cfg.Name, ctx.Err(), lastErr)
		case <-time.After(sleep):
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", cfg.Name, cfg.MaxAttempts, lastErr)
}
