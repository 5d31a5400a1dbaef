package llm

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff_Delay(t *testing.T) {
	tests := []struct {
		name    string
		policy  ExponentialBackoff
		attempt int
		want    time.Duration
	}{
		{name: "first retry", policy: ExponentialBackoff{Base: time.Second, Multiplier: 2}, attempt: 1, want: time.Second},
		{name: "second retry", policy: ExponentialBackoff{Base: time.Second, Multiplier: 2}, attempt: 2, want: 2 * time.Second},
		{name: "third retry", policy: ExponentialBackoff{Base: time.Second, Multiplier: 2}, attempt: 3, want: 4 * time.Second},
		{name: "multiplier three", policy: ExponentialBackoff{Base: 100 * time.Millisecond, Multiplier: 3}, attempt: 3, want: 900 * time.Millisecond},
		{name: "capped", policy: ExponentialBackoff{Base: time.Second, Multiplier: 2, Max: 3 * time.Second}, attempt: 5, want: 3 * time.Second},
		{name: "zero base", policy: ExponentialBackoff{Base: 0, Multiplier: 2}, attempt: 4, want: 0},
		{name: "attempt below one", policy: ExponentialBackoff{Base: time.Second, Multiplier: 2}, attempt: 0, want: time.Second},
		{name: "multiplier below one defaults to two", policy: ExponentialBackoff{Base: time.Second, Multiplier: 0.5}, attempt: 2, want: 2 * time.Second},
		{name: "overflow saturates", policy: ExponentialBackoff{Base: time.Hour, Multiplier: 10}, attempt: 40, want: time.Duration(math.MaxInt64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Delay(tt.attempt))
		})
	}
}

func TestExponentialBackoff_NonDecreasing(t *testing.T) {
	policies := []ExponentialBackoff{
		{Base: time.Millisecond, Multiplier: 1},
		{Base: time.Second, Multiplier: 2},
		{Base: 250 * time.Millisecond, Multiplier: 1.5, Max: 10 * time.Second},
		{Base: time.Minute, Multiplier: 7},
	}
	for _, p := range policies {
		prev := time.Duration(0)
		for attempt := 1; attempt <= 64; attempt++ {
			d := p.Delay(attempt)
			require.GreaterOrEqual(t, d, prev, "policy %+v attempt %d", p, attempt)
			prev = d
		}
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.BackoffBase)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	assert.Zero(t, cfg.MaxBackoff)

	p := cfg.Policy()
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
}

func TestRetryConfig_Normalized(t *testing.T) {
	got := RetryConfig{MaxAttempts: 0, BackoffBase: -time.Second, BackoffMultiplier: 0, MaxBackoff: -1}.normalized()
	assert.Equal(t, RetryConfig{MaxAttempts: 3, BackoffBase: 0, BackoffMultiplier: 2}, got)

	kept := RetryConfig{MaxAttempts: 7, BackoffBase: time.Millisecond, BackoffMultiplier: 1.5, MaxBackoff: time.Second}
	assert.Equal(t, kept, kept.normalized())
}

func TestDefaultSleep(t *testing.T) {
	t.Run("waits", func(t *testing.T) {
		start := time.Now()
		require.NoError(t, DefaultSleep(context.Background(), 20*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("zero duration returns immediately", func(t *testing.T) {
		assert.NoError(t, DefaultSleep(context.Background(), 0))
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		start := time.Now()
		err := DefaultSleep(ctx, time.Hour)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("deadline during sleep", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err := DefaultSleep(ctx, time.Hour)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
