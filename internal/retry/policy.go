// Package retry decides whether and when a failed provider call is retried.
package retry

import (
	"context"
	"time"

	"canvaspreview/internal/domain"
)

// Policy bounds retries of transient failures.
type Policy struct {
	// MaxAttempts counts every call including the first.
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	RetryAfterCap time.Duration
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy mirrors the service defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   4,
		BaseDelay:     time.Second,
		MaxDelay:      16 * time.Second,
		RetryAfterCap: 20 * time.Second,
	}
}

// ShouldRetry reports whether another attempt may follow attempt number
// attempt (1 for the first call).
func ShouldRetry(c *domain.Classification, attempt, maxAttempts int) bool {
	if c == nil || attempt >= maxAttempts {
		return false
	}
	switch c.Kind {
	case domain.ErrorRateLimit, domain.ErrorServiceUnavailable, domain.ErrorNetwork, domain.ErrorTimeout:
		return true
	default:
		return false
	}
}

func (p Policy) ShouldRetry(c *domain.Classification, attempt int) bool {
	return ShouldRetry(c, attempt, p.MaxAttempts)
}

// NextDelay is the larger of the capped retry-after hint and exponential
// backoff base*2^attempt, itself capped at MaxDelay. It never decreases as
// attempt grows.
func (p Policy) NextDelay(c *domain.Classification, attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	if attempt < 0 {
		attempt = 0
	}
	backoff := base
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if p.MaxDelay > 0 && backoff >= p.MaxDelay {
			backoff = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && backoff > p.MaxDelay {
		backoff = p.MaxDelay
	}

	var hint time.Duration
	if c != nil && c.RetryAfter > 0 {
		hint = c.RetryAfter
		if p.RetryAfterCap > 0 && hint > p.RetryAfterCap {
			hint = p.RetryAfterCap
		}
	}
	if hint > backoff {
		return hint
	}
	return backoff
}

// Wait sleeps through the configured Sleep hook.
func (p Policy) Wait(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// SleepContext waits for d unless ctx ends first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
