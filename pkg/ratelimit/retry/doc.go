/*
Package retry wraps a token bucket with exponential backoff.

A Limiter owns one bucket.TokenBucket. Acquire makes an immediate attempt and,
while the Policy allows, waits and tries again with a doubling delay:

	l, err := retry.New(10, 20, 0.05, retry.DefaultPolicy())
	if err != nil {
		return err
	}

	ok, err := l.Acquire(ctx, retry.Suspending)
	switch {
	case err != nil:
		// ctx ended while waiting
	case !ok:
		// still no token after MaxAttempts retries
	}

With DefaultPolicy the waits are 100ms, 200ms, 400ms, 800ms, 1.6s, after
which Acquire reports a denial. Delays never exceed Policy.MaxDelay. Every
call gets its own schedule, so concurrent callers do not influence each
other's delays.

When Policy.LogEvents is set each retry is reported to the Observer passed
with WithObserver. NewLogObserver writes logf entries and NewMetricsObserver
feeds the retry counters of a metrics.Registry.

Config is the flat, serializable form of a Limiter (bucket parameters plus
policy, delays in milliseconds).
*/
package retry
