package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration
type Config struct {
	Enabled            bool          // Enable/disable retry logic
	MaxAttempts        int           // Retries after the first attempt
	InitialDelay       time.Duration // Delay before first retry
	MaxDelay           time.Duration // Upper bound for a single delay
	Multiplier         float64       // Exponential backoff multiplier (typically 2.0)
	Jitter             bool          // Randomize each delay by ±25%
	RetryableErrors    []error       // nil = all errors are retryable
	NonRetryableErrors []error

	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retry executes fn with exponential backoff.
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult executes fn with exponential backoff and returns its result.
func RetryWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T

	if !cfg.Enabled {
		return fn()
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if matchesAny(err, cfg.NonRetryableErrors) {
			return zero, fmt.Errorf("non-retryable error: %w", err)
		}
		if len(cfg.RetryableErrors) > 0 && !matchesAny(err, cfg.RetryableErrors) {
			return zero, fmt.Errorf("error not in retryable list: %w", err)
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := calculateDelay(cfg, attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry cancelled during wait: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}

// calculateDelay returns initialDelay * multiplier^attempt, capped at MaxDelay.
func calculateDelay(cfg Config, attempt int) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(multiplier, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	duration := time.Duration(delay)
	if cfg.Jitter && duration > 0 {
		quarter := int64(duration / 4)
		if quarter > 0 {
			duration = duration - time.Duration(quarter) + time.Duration(rand.Int63n(2*quarter+1))
		}
	}
	return duration
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
