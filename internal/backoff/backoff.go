// Package backoff computes retry delays. Strategies are stateless and safe
// for concurrent use.
package backoff

import (
	"math"
	"time"
)

// Exponential doubles the delay each attempt, capped at Max.
// Delay(n) = min(Initial * 2^n, Max) for n >= 0.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns the wait before retry attempt n (0-indexed: attempt 0 is
// the first retry after the initial failure).
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt)))
	if d <= 0 || (e.Max > 0 && d > e.Max) {
		return e.Max
	}
	return d
}
