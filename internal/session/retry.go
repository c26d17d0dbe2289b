package session

import (
	"context"
	"errors"
	"slices"
	"time"
)

// DefaultRetryStatuses are the gateway/server statuses retried by default.
var DefaultRetryStatuses = []int{500, 502, 503, 504}

// ExponentialRetryPolicy retries transient failures with doubling delays.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	statuses    []int
}

// NewExponentialRetryPolicy builds a policy, falling back to defaults for zero values.
func NewExponentialRetryPolicy(cfg RetryConfig) *ExponentialRetryPolicy {
	p := &ExponentialRetryPolicy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.InitialDelay,
		maxDelay:    cfg.MaxDelay,
		statuses:    cfg.Statuses,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 100
	}
	if p.baseDelay <= 0 {
		p.baseDelay = 500 * time.Millisecond
	}
	if p.maxDelay <= 0 {
		p.maxDelay = 10 * time.Second
	}
	if p.statuses == nil {
		p.statuses = DefaultRetryStatuses
	}
	return p
}

// MaxAttempts returns the total attempt budget.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether attempt (1-based) may be followed by another.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	// Client timeouts match context.DeadlineExceeded and stay retryable;
	// the caller checks its own context before asking.
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return p.retryableStatus(se.code)
	}
	return true
}

// Backoff returns the wait before the attempt that follows attempt (1-based).
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.maxDelay {
			return p.maxDelay
		}
	}
	return min(delay, p.maxDelay)
}

func (p *ExponentialRetryPolicy) retryableStatus(code int) bool {
	return slices.Contains(p.statuses, code)
}
