package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastCfg(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRecoversFromRateLimit(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastCfg(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("search upstream throttled"), 429)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastCfg(3), func(context.Context) error {
		calls++
		return NewTransientError(errors.New("research backend down"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var te *TransientError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, 503, te.StatusCode)
}

func TestDoPermanentErrorNotRetried(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastCfg(3), func(context.Context) error {
		calls++
		return errors.New("invalid api key")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: 50 * time.Millisecond}

	var calls int
	err := Do(ctx, cfg, func(context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return NewTransientError(errors.New("down"), 502)
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 2)
}

var errMalformed = errors.New("synthesis output failed validation")

func TestDoCustomClassifier(t *testing.T) {
	// Schema-invalid model output is worth a fresh sample even though the
	// default classifier calls it permanent.
	cfg := fastCfg(3)
	cfg.ShouldRetry = func(err error) bool {
		return errors.Is(err, errMalformed)
	}

	var calls int
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls == 1 {
			return errMalformed
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoOnRetryCallback(t *testing.T) {
	cfg := fastCfg(3)
	var attempts []int
	cfg.OnRetry = func(attempt int, _ error) {
		attempts = append(attempts, attempt)
	}

	_ = Do(context.Background(), cfg, func(context.Context) error {
		return NewTransientError(errors.New("down"), 500)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoValReturnsValue(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), fastCfg(3), func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", NewTransientError(errors.New("down"), 500)
		}
		return "narrative", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "narrative", val)
	assert.Equal(t, 2, calls)
}

func TestDoValZeroOnFailure(t *testing.T) {
	val, err := DoVal(context.Background(), fastCfg(2), func(context.Context) (int, error) {
		return 42, NewTransientError(errors.New("down"), 500)
	})
	require.Error(t, err)
	assert.Zero(t, val)
}

func TestApplyDefaultsFillsZeroConfig(t *testing.T) {
	cfg := applyDefaults(RetryConfig{})
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.Multiplier)
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     300 * time.Millisecond,
		Multiplier:     2.0,
	}

	assert.Equal(t, 100*time.Millisecond, backoffDelay(0, cfg))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(1, cfg))
	// The third step would be 400ms; the cap holds it at 300ms.
	assert.Equal(t, 300*time.Millisecond, backoffDelay(2, cfg))
	assert.Equal(t, 300*time.Millisecond, backoffDelay(4, cfg))
}

func TestBackoffDelayJitterStaysInRange(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}

	for i := 0; i < 50; i++ {
		d := backoffDelay(0, cfg)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}
