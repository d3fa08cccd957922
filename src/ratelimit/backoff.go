package ratelimit

import "time"

const (
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// CalculateBackoff returns baseDelay * 2^retryCount, capped at maxDelay.
func CalculateBackoff(retryCount int) time.Duration {
	return Backoff(retryCount, baseDelay, maxDelay)
}

// Backoff is CalculateBackoff with explicit bounds. Negative counts return base.
func Backoff(retryCount int, base, max time.Duration) time.Duration {
	if retryCount < 0 {
		return base
	}
	// 2^30 seconds is far beyond any cap
	if retryCount > 30 {
		return max
	}
	d := base * time.Duration(1<<retryCount)
	if d > max || d <= 0 {
		return max
	}
	return d
}
