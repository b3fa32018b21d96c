// Package metrics provides Prometheus instrumentation for tokenflow components.
//
// # Overview
//
// The registry covers two components:
//   - Token buckets (requests, allowed, denied, wait times, available tokens)
//   - Retrying limiters (retry attempts and backoff delays)
//
// # Quick Start
//
//	registry := prometheus.NewRegistry()
//	tb, _ := bucket.New(5, 10, 0.05)
//	limiter := bucket.NewWithMetrics(tb, "llm_calls", metrics.Config{
//		Enabled:  true,
//		Registry: registry,
//	})
//
// Then expose metrics via HTTP:
//
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// # Available Metrics
//
//   - tokenflow_ratelimit_requests_total
//   - tokenflow_ratelimit_allowed_total
//   - tokenflow_ratelimit_denied_total
//   - tokenflow_ratelimit_wait_duration_seconds
//   - tokenflow_ratelimit_tokens_available
//   - tokenflow_retry_attempts_total
//   - tokenflow_retry_backoff_seconds
//
// Every metric carries the limiter_type ("token_bucket" or "retrying") and
// limiter_name labels. Config.Namespace replaces the "tokenflow" prefix and
// Config.Labels are attached as constant labels.
package metrics
