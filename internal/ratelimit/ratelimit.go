// Package ratelimit provides a token bucket pacer shared by the
// upstream API fetchers and the webhook sender.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter implements a token bucket rate limiter.
// It is safe for concurrent use.
//
// Waiters never sleep while holding the mutex: each Wait call reserves
// its token under the lock by driving the balance negative, then sleeps
// outside the lock until its reservation matures. Because reservations
// are taken in call order, waiters are served in the order they
// enqueued and parallel workers cannot starve each other.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// New creates a rate limiter allowing ratePerSec requests per second
// with a single-token burst. A rate of zero or less disables the
// limiter entirely; Wait and Allow then never block.
func New(ratePerSec float64) *Limiter {
	if ratePerSec <= 0 {
		return &Limiter{}
	}
	return &Limiter{
		tokens:     1,
		maxTokens:  1,
		refillRate: ratePerSec,
		lastRefill: time.Now(),
	}
}

// Enabled reports whether the limiter actually paces requests.
func (l *Limiter) Enabled() bool {
	return l.refillRate > 0
}

// refill adds tokens based on elapsed time since last refill.
// Must be called with mu held.
func (l *Limiter) refill() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()

	l.tokens += elapsed * l.refillRate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastRefill = now
}

// Allow checks if a request is allowed right now.
// Returns true if allowed (token consumed), false otherwise.
// This method is non-blocking.
func (l *Limiter) Allow() bool {
	if !l.Enabled() {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()

	if l.tokens >= 1 {
		l.tokens--
		return true
	}

	return false
}

// Wait blocks until a token is available or the context is canceled.
// Returns nil if a token was acquired, or ctx.Err() if canceled.
//
// The reservation is taken before sleeping, so a canceled waiter has
// already consumed its slot; with the default single-token burst this
// only delays the next waiter by at most one refill period.
func (l *Limiter) Wait(ctx context.Context) error {
	if !l.Enabled() {
		return ctx.Err()
	}

	l.mu.Lock()
	l.refill()
	l.tokens--
	debt := -l.tokens
	l.mu.Unlock()

	if debt <= 0 {
		return ctx.Err()
	}

	waitTime := time.Duration(debt / l.refillRate * float64(time.Second))

	// Sleep outside the lock
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(waitTime):
		return nil
	}
}

// Available returns the current number of available tokens.
// This is useful for monitoring and tests.
func (l *Limiter) Available() float64 {
	if !l.Enabled() {
		return 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	return l.tokens
}

// Reset restores the limiter to full capacity.
// Useful for testing or when rate limit conditions change.
func (l *Limiter) Reset() {
	if !l.Enabled() {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens = l.maxTokens
	l.lastRefill = time.Now()
}
