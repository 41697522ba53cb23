package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coursecraft/coursecraft/types"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:    maxRetries,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestCallWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	out, err := callWithRetry(context.Background(), fastRetryConfig(3), zap.NewNop(), nil, "test",
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", types.NewError(types.ErrAgentUpstream, "flaky").WithRetryable(true)
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
}

func TestCallWithRetry_NonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	_, err := callWithRetry(context.Background(), fastRetryConfig(5), zap.NewNop(), nil, "test",
		func(ctx context.Context) (string, error) {
			calls++
			return "", types.NewError(types.ErrAgentUpstream, "bad request").WithRetryable(false)
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCallWithRetry_ExhaustionWrapsLastError(t *testing.T) {
	calls := 0
	_, err := callWithRetry(context.Background(), fastRetryConfig(2), zap.NewNop(), nil, "quiz",
		func(ctx context.Context) (int, error) {
			calls++
			return 0, types.NewError(types.ErrAgentTimeout, "slow").WithRetryable(true)
		})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, types.ErrAgentTimeout, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "quiz failed after 2 retries")
}

func TestCallWithRetry_ContextCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := RetryConfig{MaxRetries: 10, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := callWithRetry(ctx, cfg, zap.NewNop(), nil, "test",
		func(ctx context.Context) (string, error) {
			calls++
			return "", types.NewError(types.ErrAgentUpstream, "flaky").WithRetryable(true)
		})
	require.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, calls, 2)
}
