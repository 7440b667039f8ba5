package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// API represents the different request budgets we track against the provider
type API string

const (
	// APIEODHD is the general EODHD request budget
	APIEODHD API = "eodhd"
	// APIFundamentals is the budget for fundamentals calls, which EODHD bills
	// at a higher weight than plain price requests
	APIFundamentals API = "eodhd_fundamentals"
)

// Limit describes a token bucket. A non-positive RPS means unlimited.
type Limit struct {
	RPS   float64
	Burst int
}

// Limiter manages rate limits for different APIs
type Limiter struct {
	limiters map[API]*rate.Limiter
	mu       sync.RWMutex
}

// New returns a Limiter with one token bucket per configured API
func New(limits map[API]Limit) *Limiter {
	l := &Limiter{
		limiters: make(map[API]*rate.Limiter, len(limits)),
	}
	for api, lim := range limits {
		l.Set(api, lim)
	}
	return l
}

// Unlimited returns a Limiter that never blocks; used by tests
func Unlimited() *Limiter {
	return New(map[API]Limit{
		APIEODHD:        {},
		APIFundamentals: {},
	})
}

// Set replaces the bucket for api
func (l *Limiter) Set(api API, lim Limit) {
	burst := lim.Burst
	if burst < 1 {
		burst = 1
	}

	limit := rate.Inf
	if lim.RPS > 0 {
		limit = rate.Limit(lim.RPS)
	}

	l.mu.Lock()
	l.limiters[api] = rate.NewLimiter(limit, burst)
	l.mu.Unlock()
}

// Wait blocks until the rate limiter permits an event for the given API
// It returns an error if the context is canceled before the event can proceed
func (l *Limiter) Wait(ctx context.Context, api API) error {
	l.mu.RLock()
	limiter, exists := l.limiters[api]
	l.mu.RUnlock()

	if !exists {
		// If no limiter exists for this API, allow the request without limiting
		return nil
	}

	return limiter.Wait(ctx)
}

// Allow reports whether an event for the given API may happen now
func (l *Limiter) Allow(api API) bool {
	l.mu.RLock()
	limiter, exists := l.limiters[api]
	l.mu.RUnlock()

	if !exists {
		return true
	}

	return limiter.Allow()
}
