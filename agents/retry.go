package agents

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/coursecraft/coursecraft/internal/metrics"
	"github.com/coursecraft/coursecraft/types"
)

// RetryConfig holds transient-error retry configuration for agent calls.
type RetryConfig struct {
	// MaxRetries is the maximum retry attempts after the first call.
	MaxRetries int `json:"max_retries"`
	// InitialDelay is the first backoff delay.
	InitialDelay time.Duration `json:"initial_delay"`
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration `json:"max_delay"`
	// BackoffFactor is the exponential backoff multiplier.
	BackoffFactor float64 `json:"backoff_factor"`
	// Jitter adds up to 25% random jitter to each delay.
	Jitter bool `json:"jitter"`
}

// DefaultRetryConfig returns sensible retry defaults for LLM calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	d := time.Duration(float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempt-1)))
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	if c.Jitter {
		d += time.Duration(rand.Int63n(int64(d)/4 + 1))
	}
	return d
}

// callWithRetry runs fn with exponential-backoff retry on retryable
// errors. Non-retryable errors and context cancellation return
// immediately. The stage name tags logs and metrics.
func callWithRetry[T any](ctx context.Context, cfg RetryConfig, logger *zap.Logger, collector *metrics.Collector, stage string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := cfg.delay(attempt)
			logger.Debug("retrying agent call",
				zap.String("stage", stage),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			collector.AgentRetried(stage)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !types.IsRetryable(err) {
			return zero, err
		}
		logger.Warn("agent call failed, will retry",
			zap.String("stage", stage),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	return zero, fmt.Errorf("%s failed after %d retries: %w", stage, cfg.MaxRetries, lastErr)
}
