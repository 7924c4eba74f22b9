package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	minFloor   = 1 * time.Second
	maxMinimum = 60 * time.Second
	maxMaximum = 120 * time.Second
)

// SimpleRateLimiter spaces consecutive actions at least minDelay apart and
// adds a random jitter below maxDelay-minDelay on top of each wait.
type SimpleRateLimiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	minDelay time.Duration
	maxDelay time.Duration
	jitter   bool
}

func NewSimpleRateLimiter(minDelay, maxDelay time.Duration) *SimpleRateLimiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &SimpleRateLimiter{
		limiter:  rate.NewLimiter(every(minDelay), 1),
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   true,
	}
}

func every(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// Wait blocks until the caller's slot comes up. The slot is reserved before
// sleeping so concurrent callers queue up behind each other; a cancelled wait
// gives its slot back.
func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	reservation := r.limiter.Reserve()
	delay := reservation.Delay() + r.calculateJitter()
	r.mu.Unlock()

	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		reservation.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Delays returns the current bounds.
func (r *SimpleRateLimiter) Delays() (time.Duration, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minDelay, r.maxDelay
}

// setDelaysLocked moves the bounds and retunes the underlying limiter.
// r.mu must be held.
func (r *SimpleRateLimiter) setDelaysLocked(minDelay, maxDelay time.Duration) {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	r.minDelay = minDelay
	r.maxDelay = maxDelay
	r.limiter.SetLimit(every(minDelay))
}

func (r *SimpleRateLimiter) calculateJitter() time.Duration {
	if !r.jitter || r.maxDelay <= r.minDelay {
		return 0
	}
	return time.Duration(rand.Int63n(int64(r.maxDelay - r.minDelay)))
}

// AdaptiveRateLimiter slows down after repeated blocks and speeds back up
// after a run of clean extractions.
type AdaptiveRateLimiter struct {
	*SimpleRateLimiter
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
}

func NewAdaptiveRateLimiter(minDelay, maxDelay time.Duration) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		SimpleRateLimiter: NewSimpleRateLimiter(minDelay, maxDelay),
		maxErrorCount:     3,
		backoffFactor:     1.5,
	}
}

func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		newMin := time.Duration(float64(a.minDelay) * 0.9)
		if newMin < minFloor {
			newMin = minFloor
		}
		if newMin < a.minDelay {
			a.setDelaysLocked(newMin, a.maxDelay)
		}
		a.successCount = 0
	}
}

// RecordError counts a blocked visit. Every maxErrorCount consecutive blocks
// the delays grow by backoffFactor, up to a ceiling. It reports whether the
// delays changed.
func (a *AdaptiveRateLimiter) RecordError() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount < a.maxErrorCount {
		return false
	}
	a.errorCount = 0

	newMin := time.Duration(float64(a.minDelay) * a.backoffFactor)
	newMax := time.Duration(float64(a.maxDelay) * a.backoffFactor)
	if newMin > maxMinimum {
		newMin = maxMinimum
	}
	if newMax > maxMaximum {
		newMax = maxMaximum
	}

	if newMin == a.minDelay && newMax == a.maxDelay {
		return false
	}
	a.setDelaysLocked(newMin, newMax)
	return true
}
