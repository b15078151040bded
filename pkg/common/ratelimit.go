// Package common provides small shared utilities used across services.
package common

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RequestLimiter throttles outbound calls to a remote dependency. Limits can
// be adjusted at runtime, e.g. when the backend signals it is under pressure.
type RequestLimiter struct {
	limiter *rate.Limiter
	mu      sync.RWMutex
}

// NewRequestLimiter creates a RequestLimiter allowing rps requests per second
// with the given burst size.
func NewRequestLimiter(rps float64, burst int) *RequestLimiter {
	return &RequestLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until the limiter allows another request or the context is
// canceled.
func (rl *RequestLimiter) Wait(ctx context.Context) error {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.limiter.Wait(ctx)
}

// UpdateLimits adjusts the requests per second and burst size at runtime.
func (rl *RequestLimiter) UpdateLimits(rps float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limiter.SetLimit(rate.Limit(rps))
	rl.limiter.SetBurst(burst)
}
