package dispatch

import "time"

// RetryPolicy configures per-candidate retry with exponential backoff.
// Only transient failures are retried; see provider.IsTransient.
type RetryPolicy struct {
	MaxAttempts int           // attempts per candidate, including the first
	BaseDelay   time.Duration // delay before the first retry
	MaxDelay    time.Duration // backoff cap
}

// DefaultRetryPolicy returns the default per-candidate retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// Delay returns the backoff before retrying after attempt n (0-indexed):
// base * 2^n, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
