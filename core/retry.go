package core

import (
	"math"
	"time"
)

// DefaultRetryBase is the first-retry delay used when no policy is configured.
const DefaultRetryBase = 500 * time.Millisecond

// RetryPolicy computes backoff delays for resubmission attempts. The zero
// value is unusable; use DefaultRetryPolicy or set Base explicitly.
type RetryPolicy struct {
	Base time.Duration
}

// DefaultRetryPolicy returns the standard exponential policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: DefaultRetryBase}
}

// Delay returns Base * 2^attempt. Attempt numbers are zero-based: the first
// retry uses attempt 0. Negative attempts are clamped to zero. No ceiling is
// applied short of saturation; callers cap the result if they need one.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if p.Base <= 0 {
		return 0
	}

	shift := uint(attempt)
	if shift > 62 {
		shift = 62
	}
	if p.Base > math.MaxInt64>>shift {
		// Saturate instead of overflowing into a negative duration.
		return time.Duration(math.MaxInt64)
	}
	return p.Base << shift
}
