package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
}

// Feedback is implemented by limiters that adapt to fetch outcomes.
type Feedback interface {
	RecordSuccess()
	RecordError()
}

// JitterLimiter spaces actions by a random delay between minDelay and
// maxDelay and caps the sustained rate with a token bucket.
type JitterLimiter struct {
	bucket     *rate.Limiter
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
}

// NewJitterLimiter creates a limiter. perMinute <= 0 disables the bucket.
func NewJitterLimiter(minDelay, maxDelay time.Duration, perMinute int) *JitterLimiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	bucket := rate.NewLimiter(rate.Inf, 1)
	if perMinute > 0 {
		bucket = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
	return &JitterLimiter{
		bucket:   bucket,
		minDelay: minDelay,
		maxDelay: maxDelay,
	}
}

func (r *JitterLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	delay := r.calculateDelay()
	waitTime := time.Duration(0)
	if !r.lastAction.IsZero() {
		if elapsed := time.Since(r.lastAction); elapsed < delay {
			waitTime = delay - elapsed
		}
	}
	r.lastAction = time.Now().Add(waitTime)
	r.mu.Unlock()

	if waitTime <= 0 {
		return nil
	}

	timer := time.NewTimer(waitTime)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *JitterLimiter) Delays() (time.Duration, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minDelay, r.maxDelay
}

func (r *JitterLimiter) calculateDelay() time.Duration {
	if r.maxDelay <= r.minDelay {
		return r.minDelay
	}
	delta := r.maxDelay - r.minDelay
	return r.minDelay + time.Duration(rand.Int64N(int64(delta)))
}

// AdaptiveLimiter slows down after repeated fetch errors and speeds up again
// after a run of successes, never below the configured delays.
type AdaptiveLimiter struct {
	*JitterLimiter
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
	minFloor      time.Duration
	maxFloor      time.Duration
}

func NewAdaptiveLimiter(minDelay, maxDelay time.Duration, perMinute int) *AdaptiveLimiter {
	base := NewJitterLimiter(minDelay, maxDelay, perMinute)
	return &AdaptiveLimiter{
		JitterLimiter: base,
		maxErrorCount: 3,
		backoffFactor: 1.5,
		minFloor:      base.minDelay,
		maxFloor:      base.maxDelay,
	}
}

func (a *AdaptiveLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		a.minDelay = max(time.Duration(float64(a.minDelay)*0.9), a.minFloor)
		a.maxDelay = max(time.Duration(float64(a.maxDelay)*0.9), a.maxFloor, a.minDelay)
		a.successCount = 0
	}
}

func (a *AdaptiveLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		newMin := time.Duration(float64(a.minDelay) * a.backoffFactor)
		newMax := time.Duration(float64(a.maxDelay) * a.backoffFactor)

		if newMin > 60*time.Second {
			newMin = 60 * time.Second
		}
		if newMax > 120*time.Second {
			newMax = 120 * time.Second
		}

		a.minDelay = newMin
		a.maxDelay = newMax
		a.errorCount = 0
	}
}

// Unlimited never waits.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error {
	return ctx.Err()
}
