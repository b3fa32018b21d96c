/*
Package ratelimit groups the token bucket rate limiters.

  - bucket: lazily refilled token bucket with try, blocking and suspending acquisition
  - retry: a bucket wrapped with exponential backoff and bounded retries

Try acquisition never waits. Blocking acquisition sleeps the goroutine between
polls and observes cancellation only between polls; suspending acquisition
parks on a timer and wakes as soon as the context ends:

	tb, _ := bucket.New(10, 5, 0.01) // 10 tokens/sec, burst of 5
	if tb.TryAcquire() {
		// process request
	}

	rl, _ := retry.New(10, 5, 0.01, retry.DefaultPolicy())
	if ok, err := rl.Acquire(ctx, retry.Blocking); err == nil && ok {
		// process request
	}

All limiters are safe for concurrent use.
*/
package ratelimit
