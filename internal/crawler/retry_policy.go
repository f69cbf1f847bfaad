package crawler

import (
	"time"
)

// RetryPolicy decides whether and when to retry a failed fetch.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// ExponentialRetryPolicy retries transient failures with clamped exponential backoff.
type ExponentialRetryPolicy struct {
	MaxAttempts int
	Multiplier  time.Duration
	Floor       time.Duration
	Ceiling     time.Duration
}

// NewExponentialRetryPolicy builds a policy with 3 attempts and 2s..10s waits.
func NewExponentialRetryPolicy() *ExponentialRetryPolicy {
	return &ExponentialRetryPolicy{
		MaxAttempts: 3,
		Multiplier:  time.Second,
		Floor:       2 * time.Second,
		Ceiling:     10 * time.Second,
	}
}

// ShouldRetry is true while attempts remain and the error is transient.
// attempt counts the attempts already made, starting at 1.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	return IsTransient(err)
}

// Backoff returns Multiplier*2^(attempt-1) clamped to [Floor, Ceiling].
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.Multiplier
	for i := 1; i < attempt && delay < p.Ceiling; i++ {
		delay *= 2
	}
	if delay < p.Floor {
		delay = p.Floor
	}
	if p.Ceiling > 0 && delay > p.Ceiling {
		delay = p.Ceiling
	}
	return delay
}
