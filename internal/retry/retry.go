// Package retry bounds retries of run-store writes on transient database
// errors. Stages and notifications are never retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/loykin/piperun/internal/common"
)

// Config holds the backoff policy.
type Config struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Transient lists lower-case error substrings that are worth another try.
	Transient []string
}

// DefaultConfig returns the policy used by the run store.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		Transient: []string{
			"connection refused",
			"connection reset",
			"timeout",
			"temporary failure",
			"deadlock",
			"database is locked",
			"sqlite_busy",
			"broken pipe",
		},
	}
}

// IsTransient reports whether err matches the policy. Context errors never do.
func (c *Config) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range c.Transient {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Delay is the wait before retry number attempt (0-based).
func (c *Config) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return c.InitialDelay
	}
	d := time.Duration(float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempt)))
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// WithRetry runs op until it succeeds, fails with a non-transient error, the
// attempts run out or ctx is done.
func WithRetry(ctx context.Context, cfg *Config, op func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := common.GetLogger().WithComponent("store-retry")

	var last error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			if attempt > 0 {
				logger.Info("store operation succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}
		last = err
		if !cfg.IsTransient(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}
		delay := cfg.Delay(attempt)
		logger.Warn("store operation failed, retrying",
			"error", err,
			"attempt", attempt+1,
			"max_attempts", cfg.MaxRetries+1,
			"retry_delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	logger.Error("store operation failed after all attempts", "error", last, "attempts", cfg.MaxRetries+1)
	return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxRetries+1, last)
}

// Do is WithRetry for operations returning a value, such as sql.Result or
// *sql.Rows.
func Do[T any](ctx context.Context, cfg *Config, op func() (T, error)) (T, error) {
	var out T
	err := WithRetry(ctx, cfg, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
