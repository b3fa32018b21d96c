/*
Package bucket provides an in-memory token bucket rate limiter with burst capacity.

The bucket holds up to Capacity tokens and gains RefillRate tokens per second.
Each admitted call consumes one token. Refill is lazy: it is computed from the
elapsed monotonic time whenever the bucket is touched, so there is no
background goroutine and every operation is O(1) under a single mutex.

Three acquisition disciplines share that one refill-and-consume step:

	tb, err := bucket.New(1.0, 2.0, 0.05) // 1 token/s, burst 2, poll every 50ms
	if err != nil {
		return err
	}

	tb.TryAcquire()                 // immediate, never waits
	tb.AcquireBlocking(ctx)         // sleeps between polls, ctx checked between polls
	tb.AcquireSuspending(ctx)       // parks on a timer, wakes early on ctx.Done()

Blocking and suspending acquisition have no attempt limit; they end when a
token is consumed (nil) or when the caller's context ends (ctx.Err()). An
abandoned wait never consumes a token. Waiters are not queued: whichever
goroutine polls first after a token appears takes it.

Only the static parameters are serializable (Config). FromConfig always
returns a full bucket; the live token count is never persisted.

Use NewWithMetrics to report acquisitions to Prometheus.
*/
package bucket
