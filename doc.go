/*
Package tokenflow provides token bucket rate limiting with optional
exponential backoff.

Rate Limiting (pkg/ratelimit):
  - bucket: Token bucket with burst capacity and three acquisition disciplines
  - retry: Bucket plus bounded exponential backoff

Configuration (pkg/config):
  - YAML/JSON documents describing named limiters
  - Redis-backed parameter store

Observability (pkg/metrics):
  - Prometheus counters and histograms for acquisitions and retries

Example usage:

	import (
		"github.com/vnykmshr/tokenflow/pkg/ratelimit/retry"
	)

	limiter, _ := retry.New(10, 20, 0.05, retry.DefaultPolicy()) // 10 RPS, burst 20

	if ok, err := limiter.Acquire(ctx, retry.Suspending); err == nil && ok {
		handle(request)
	}
*/
package tokenflow
