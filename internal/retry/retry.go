// Package retry wraps a fallible operation with bounded exponential-backoff
// retry. Only transient failures (timeouts, connection-class errors, or
// anything explicitly marked Transient) are retried; every other error
// propagates immediately.
package retry

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt, so the
	// operation runs at most MaxRetries+1 times.
	MaxRetries int
	// BaseDelay is the delay after the first failure.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
	}
}

// Result reports how an Executor call went.
type Result struct {
	// Attempts is the total number of invocations (1 initial + retries).
	Attempts int
	// Err is the last error (nil on success).
	Err error
	// Duration is the total wall time spent, including backoff sleeps.
	Duration time.Duration
}

// Executor retries operations according to its Config.
type Executor struct {
	cfg Config
}

// NewExecutor creates an Executor, normalizing non-positive config fields to
// the defaults.
func NewExecutor(cfg Config) *Executor {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	return &Executor{cfg: cfg}
}

// Do runs op, retrying transient failures with exponential backoff
// (min(base·2^attempt, max), attempt counting from zero). The context is
// honored both before each attempt and during backoff sleeps.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) Result {
	start := time.Now()
	result := Result{}

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			result.Err = ctx.Err()
			break
		}

		result.Attempts = attempt + 1
		err := op(ctx)
		if err == nil {
			result.Err = nil
			break
		}
		result.Err = err

		if !Retryable(err) || attempt >= e.cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			result.Err = ctx.Err()
			result.Duration = time.Since(start)
			return result
		case <-time.After(e.Backoff(attempt)):
		}
	}

	result.Duration = time.Since(start)
	return result
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, Result) {
	var value T
	result := e.Do(ctx, func(ctx context.Context) error {
		var err error
		value, err = op(ctx)
		return err
	})
	return value, result
}

// Backoff returns the sleep before retry number attempt+1:
// min(BaseDelay·2^attempt, MaxDelay).
func (e *Executor) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := e.cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= e.cfg.MaxDelay {
			return e.cfg.MaxDelay
		}
	}
	if delay > e.cfg.MaxDelay {
		return e.cfg.MaxDelay
	}
	return delay
}

// TransientError marks an error as retryable regardless of its underlying type.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps an error to mark it retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Retryable reports whether err belongs to the transient/timeout/connection
// class of failures. Context cancellation is never retryable: the caller has
// already given up.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
