package llm

import (
	"context"
	"math"
	"time"
)

// RetryConfig holds retry configuration for LLM invocations.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per invocation.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// BackoffBase is the delay after the first failed attempt.
	BackoffBase time.Duration `yaml:"backoff_base" json:"backoff_base"`

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier"`

	// MaxBackoff caps the backoff duration. Zero means uncapped.
	MaxBackoff time.Duration `yaml:"max_backoff" json:"max_backoff"`
}

// DefaultRetryConfig returns the default retry settings: three attempts,
// doubling from one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Second,
		BackoffMultiplier: 2.0,
	}
}

// normalized fills zero values with defaults. A zero BackoffBase is kept:
// it is a valid "retry immediately" setting.
func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if c.BackoffBase < 0 {
		c.BackoffBase = 0
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = DefaultRetryConfig().BackoffMultiplier
	}
	if c.MaxBackoff < 0 {
		c.MaxBackoff = 0
	}
	return c
}

// Policy returns the exponential backoff policy described by the config.
func (c RetryConfig) Policy() BackoffPolicy {
	n := c.normalized()
	return ExponentialBackoff{
		Base:       n.BackoffBase,
		Multiplier: n.BackoffMultiplier,
		Max:        n.MaxBackoff,
	}
}

// BackoffPolicy maps a 1-based attempt number to the delay that follows a
// failure of that attempt. Implementations must be pure and non-decreasing.
type BackoffPolicy interface {
	Delay(attempt int) time.Duration
}

// ExponentialBackoff computes Base * Multiplier^(attempt-1), capped at Max
// when Max is positive. No jitter is applied.
type ExponentialBackoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// Delay implements BackoffPolicy.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.Base <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}

	f := float64(b.Base) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && f > float64(b.Max) {
		return b.Max
	}
	if f >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

// SleepFunc suspends the calling goroutine for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// DefaultSleep waits on a timer and returns ctx.Err() if the context ends first.
func DefaultSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
