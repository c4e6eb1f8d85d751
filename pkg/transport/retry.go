package transport

import (
	"net/http"
	"time"
)

// DefaultRetries is the number of retries used when Options.MaxRetries is unset.
const DefaultRetries = 5

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait before the next one. It has no side effects.
type RetryPolicy struct {
	// Unit is the backoff time unit. The delay before retry n (0-based) is
	// 2^(n+1) units.
	// Default: 1s
	Unit time.Duration
}

// ShouldRetry reports whether the attempt should be retried and the delay to
// apply first. status is the HTTP status of the received response, or 0 when
// no response was received.
func (p RetryPolicy) ShouldRetry(method string, status int, alwaysRetry bool, attempt, maxRetries int) (bool, time.Duration) {
	if attempt >= maxRetries {
		return false, 0
	}
	if !alwaysRetry && method != http.MethodGet && (status < 500 || status >= 600) {
		return false, 0
	}
	return true, p.Delay(attempt)
}

// Delay returns the backoff applied after the given attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	unit := p.Unit
	if unit <= 0 {
		unit = time.Second
	}
	return unit * time.Duration(int64(1)<<uint(attempt+1))
}
