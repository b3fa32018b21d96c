package bucket

import (
	"context"
	"math"
	"time"

	tfcontext "github.com/vnykmshr/tokenflow/pkg/common/context"
)

// TryAcquire reports whether a token was consumed now.
func (tb *TokenBucket) TryAcquire() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(tb.clock.Now())
	if tb.available >= 1 {
		tb.available--
		return true
	}
	return false
}

// AcquireBlocking waits until a token is consumed.
func (tb *TokenBucket) AcquireBlocking(ctx context.Context) error {
	return tb.acquire(ctx, tb.blocking)
}

// AcquireSuspending waits until a token is consumed.
func (tb *TokenBucket) AcquireSuspending(ctx context.Context) error {
	return tb.acquire(ctx, tb.suspending)
}

// Acquire waits for a token using the given discipline.
func (tb *TokenBucket) Acquire(ctx context.Context, d Discipline) error {
	return tb.acquire(ctx, tb.Waiter(d))
}

// Waiter returns the waiter the bucket uses for discipline d.
func (tb *TokenBucket) Waiter(d Discipline) Waiter {
	if d == Suspending {
		return tb.suspending
	}
	return tb.blocking
}

// acquire polls TryAcquire until it succeeds. Each iteration re-runs the full
// refill-and-consume step; nothing is assumed across a wait.
func (tb *TokenBucket) acquire(ctx context.Context, w Waiter) error {
	ctx = tfcontext.OrBackground(ctx)
	for {
		if tfcontext.IsCanceled(ctx) {
			return ctx.Err()
		}
		if tb.TryAcquire() {
			return nil
		}
		if err := w.Wait(ctx, tb.pollInterval); err != nil {
			return err
		}
	}
}

// AvailableTokens returns the number of tokens currently available.
// It stores the refilled amount so later calls start from it.
func (tb *TokenBucket) AvailableTokens() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(tb.clock.Now())
	return tb.available
}

// RefillRate returns the number of tokens added per second.
func (tb *TokenBucket) RefillRate() float64 {
	return tb.refillRate
}

// Capacity returns the maximum number of tokens.
func (tb *TokenBucket) Capacity() float64 {
	return tb.capacity
}

// PollInterval returns the wait between polls.
func (tb *TokenBucket) PollInterval() time.Duration {
	return tb.pollInterval
}

// ToConfig returns the static parameters of the bucket.
func (tb *TokenBucket) ToConfig() Config {
	return Config{
		RefillRate:   tb.refillRate,
		Capacity:     tb.capacity,
		PollInterval: tb.pollSeconds,
	}
}

// refill adds tokens for the time elapsed since the last refill.
// Must be called with tb.mu held.
func (tb *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastRefill)
	if elapsed < 0 {
		// Clock went backwards: add nothing, restart accounting from now.
		elapsed = 0
	}

	tb.available = math.Min(tb.capacity, tb.available+elapsed.Seconds()*tb.refillRate)
	tb.lastRefill = now
}
