// Package ratelimit implements the token bucket that gates every outbound fetch.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/dircrawl/internal/metrics"
)

// Limiter is a single token bucket shared by all fetch paths of one fetcher.
// It is safe for concurrent use.
type Limiter struct {
	bucket *rate.Limiter
}

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the refill rate and, rounded down, the bucket capacity. <= 0 disables limiting.
	RPS float64
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	if cfg.RPS <= 0 {
		return &Limiter{bucket: rate.NewLimiter(rate.Inf, 1)}
	}
	burst := int(cfg.RPS)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(cfg.RPS), burst)}
}

// Wait blocks until a token is available, respecting the context.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}

// Burst reports the bucket capacity.
func (l *Limiter) Burst() int {
	return l.bucket.Burst()
}
