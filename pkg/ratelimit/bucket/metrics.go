package bucket

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/tokenflow/pkg/metrics"
)

// MetricsLimiter wraps a Limiter with Prometheus metrics collection.
type MetricsLimiter struct {
	limiter  Limiter
	name     string
	registry atomic.Pointer[metrics.Registry]
	enabled  atomic.Bool
}

var (
	_ Limiter                = (*MetricsLimiter)(nil)
	_ metrics.Instrumentable = (*MetricsLimiter)(nil)
)

// NewWithMetrics wraps limiter with metrics reported under name.
// If metricsConfig is disabled the limiter is returned unchanged.
// A nil metricsConfig.Registry reports to metrics.Default().
func NewWithMetrics(limiter Limiter, name string, metricsConfig metrics.Config) Limiter {
	if !metricsConfig.Enabled {
		return limiter
	}

	ml := &MetricsLimiter{limiter: limiter, name: name}
	ml.registry.Store(registryFor(metricsConfig))
	ml.enabled.Store(true)
	return ml
}

func registryFor(config metrics.Config) *metrics.Registry {
	if config.Registry == nil {
		return metrics.Default()
	}
	return metrics.NewRegistryWithConfig(config)
}

// TryAcquire reports whether a token was consumed now.
func (ml *MetricsLimiter) TryAcquire() bool {
	allowed := ml.limiter.TryAcquire()
	ml.record(allowed, 0, false)
	return allowed
}

// AcquireBlocking waits until a token is consumed.
func (ml *MetricsLimiter) AcquireBlocking(ctx context.Context) error {
	start := time.Now()
	err := ml.limiter.AcquireBlocking(ctx)
	ml.record(err == nil, time.Since(start), true)
	return err
}

// AcquireSuspending waits until a token is consumed.
func (ml *MetricsLimiter) AcquireSuspending(ctx context.Context) error {
	start := time.Now()
	err := ml.limiter.AcquireSuspending(ctx)
	ml.record(err == nil, time.Since(start), true)
	return err
}

// AvailableTokens returns the number of tokens currently available.
func (ml *MetricsLimiter) AvailableTokens() float64 {
	tokens := ml.limiter.AvailableTokens()

	if ml.enabled.Load() {
		ml.registry.Load().RateLimitTokens.WithLabelValues(metrics.LimiterTypeTokenBucket, ml.name).Set(tokens)
	}

	return tokens
}

// ToConfig returns the static parameters of the wrapped limiter.
func (ml *MetricsLimiter) ToConfig() Config {
	return ml.limiter.ToConfig()
}

// Unwrap returns the wrapped limiter.
func (ml *MetricsLimiter) Unwrap() Limiter {
	return ml.limiter
}

// record is called after the wrapped limiter released its lock.
func (ml *MetricsLimiter) record(allowed bool, waited time.Duration, waiting bool) {
	if !ml.enabled.Load() {
		return
	}
	reg := ml.registry.Load()

	reg.RateLimitRequests.WithLabelValues(metrics.LimiterTypeTokenBucket, ml.name).Inc()
	if allowed {
		reg.RateLimitAllowed.WithLabelValues(metrics.LimiterTypeTokenBucket, ml.name).Inc()
	} else {
		reg.RateLimitDenied.WithLabelValues(metrics.LimiterTypeTokenBucket, ml.name).Inc()
	}
	if waiting {
		reg.RateLimitWaitTime.WithLabelValues(metrics.LimiterTypeTokenBucket, ml.name).Observe(waited.Seconds())
	}

	// Update current token count
	reg.RateLimitTokens.WithLabelValues(metrics.LimiterTypeTokenBucket, ml.name).Set(ml.limiter.AvailableTokens())
}

// EnableMetrics enables metrics collection.
func (ml *MetricsLimiter) EnableMetrics(config metrics.Config) error {
	if config.Registry != nil {
		ml.registry.Store(metrics.NewRegistryWithConfig(config))
	}
	ml.enabled.Store(config.Enabled)
	return nil
}

// DisableMetrics disables metrics collection.
func (ml *MetricsLimiter) DisableMetrics() {
	ml.enabled.Store(false)
}

// MetricsEnabled returns true if metrics are currently enabled.
func (ml *MetricsLimiter) MetricsEnabled() bool {
	return ml.enabled.Load()
}
