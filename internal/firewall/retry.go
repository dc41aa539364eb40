package firewall

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	Jitter          bool
	RetryableErrors []error
}

// DefaultRetryConfig retries netlink contention quickly; a grant that takes
// seconds is as bad as one that fails.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// Retry executes a function with exponential backoff retry.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !isRetryable(err, cfg.RetryableErrors) {
			return err
		}

		// Don't sleep after the last attempt
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := calculateDelay(attempt, cfg)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

func calculateDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt))

	if cfg.Jitter {
		// Add up to 25% jitter
		jitter := delay * 0.25 * rand.Float64()
		delay += jitter
	}

	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	return time.Duration(delay)
}

func isRetryable(err error, retryableErrors []error) bool {
	// Caller mistakes never succeed on a second try.
	if errors.Is(err, ErrInvalidAddress) || errors.Is(err, ErrUnsupported) || errors.Is(err, ErrNotReady) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// If no specific errors defined, retry all errors
	if len(retryableErrors) == 0 {
		return true
	}

	for _, retryable := range retryableErrors {
		if errors.Is(err, retryable) {
			return true
		}
	}

	return false
}

// Retrying wraps a Backend so each operation is retried with backoff.
type Retrying struct {
	Backend
	cfg RetryConfig
}

// NewRetrying wraps b.
func NewRetrying(b Backend, cfg RetryConfig) *Retrying {
	return &Retrying{Backend: b, cfg: cfg}
}

func (r *Retrying) Setup(ctx context.Context) error {
	return Retry(ctx, r.cfg, func() error { return r.Backend.Setup(ctx) })
}

func (r *Retrying) Grant(ctx context.Context, addr string, port int) error {
	return Retry(ctx, r.cfg, func() error { return r.Backend.Grant(ctx, addr, port) })
}

func (r *Retrying) Revoke(ctx context.Context, addr string, port int) error {
	return Retry(ctx, r.cfg, func() error { return r.Backend.Revoke(ctx, addr, port) })
}

// Unwrap returns the wrapped backend.
func (r *Retrying) Unwrap() Backend { return r.Backend }
