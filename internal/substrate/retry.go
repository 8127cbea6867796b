package substrate

import (
	"context"
	"errors"
	"time"

	"payment-status-orchestrator/internal/models"
)

// Policy describes the retry schedule applied to every external call:
// exponential backoff from Initial, multiplied per attempt, capped at Max,
// up to MaxAttempts total attempts.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Multiplier  float64
	Max         time.Duration
}

// PolicyFrom derives the retry policy from a run's immutable config.
func PolicyFrom(cfg models.RunConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		Initial:     cfg.InitialBackoff,
		Multiplier:  cfg.BackoffMultiplier,
		Max:         cfg.MaxBackoff,
	}
}

// Backoff returns the wait before the given retry. attempt is 1-based: the
// wait after the first failed attempt is Initial.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		wait *= p.Multiplier
	}
	if max := float64(p.Max); p.Max > 0 && wait > max {
		wait = max
	}
	return time.Duration(wait)
}

// permanentError marks a failure that retrying cannot fix (e.g. payment not
// found in the lookup index).
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Retry stops immediately instead of exhausting attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry runs fn under the policy. It returns nil on the first success, the
// unwrapped error for a permanent failure, the last error once attempts are
// exhausted, or ctx.Err() if the surrounding run is shutting down.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff(attempt)):
		}
	}
	return lastErr
}
