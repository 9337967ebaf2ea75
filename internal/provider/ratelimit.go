package provider

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Default outbound pacing per provider (requests per second). Telegram allows
// roughly 30 messages per second per bot; Pushover has no per-second limit
// but asks clients not to flood it.
var defaultRateLimits = map[Name]rate.Limit{
	NamePushover: 5,
	NameTelegram: 25,
}

// RateLimiterMap holds one rate.Limiter per provider, created once at startup.
type RateLimiterMap struct {
	mu       sync.RWMutex
	limiters map[Name]*rate.Limiter
}

// NewRateLimiterMap creates all provider rate limiters.
func NewRateLimiterMap() *RateLimiterMap {
	m := &RateLimiterMap{
		limiters: make(map[Name]*rate.Limiter, len(defaultRateLimits)),
	}
	for name, limit := range defaultRateLimits {
		m.limiters[name] = rate.NewLimiter(limit, int(limit))
	}
	return m
}

// Set overrides the limit for a provider. A non-positive limit removes pacing.
func (m *RateLimiterMap) Set(name Name, limit rate.Limit, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		delete(m.limiters, name)
		return
	}
	if burst < 1 {
		burst = 1
	}
	m.limiters[name] = rate.NewLimiter(limit, burst)
}

// Wait blocks until the rate limiter for the given provider allows a request,
// or the context is canceled.
func (m *RateLimiterMap) Wait(ctx context.Context, name Name) error {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}
