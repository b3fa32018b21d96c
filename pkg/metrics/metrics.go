package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Label values for the limiter_type label.
const (
	LimiterTypeTokenBucket = "token_bucket"
	LimiterTypeRetrying    = "retrying"
)

// Registry holds all metric instances for tokenflow components.
type Registry struct {
	// Token bucket metrics
	RateLimitRequests *prometheus.CounterVec
	RateLimitAllowed  *prometheus.CounterVec
	RateLimitDenied   *prometheus.CounterVec
	RateLimitWaitTime *prometheus.HistogramVec
	RateLimitTokens   *prometheus.GaugeVec

	// Retry metrics
	RetryAttempts *prometheus.CounterVec
	RetryBackoff  *prometheus.HistogramVec
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer
// under the default namespace.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithConfig(Config{Enabled: true, Registry: reg})
}

// NewRegistryWithConfig creates a metrics registry honoring the namespace and
// constant labels of config. A nil config.Registry means prometheus.DefaultRegisterer.
//
// Collectors already registered with the same registerer are reused, so any
// number of limiters may share one Prometheus registry. It panics only when
// an existing collector has the same name but an incompatible definition.
func NewRegistryWithConfig(config Config) *Registry {
	reg := config.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	namespace := config.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := registerer{reg: reg}
	labels := []string{"limiter_type", "limiter_name"}

	return &Registry{
		RateLimitRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "ratelimit",
				Name:        "requests_total",
				Help:        "Total number of token acquisition attempts",
				ConstLabels: config.Labels,
			},
			labels,
		),

		RateLimitAllowed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "ratelimit",
				Name:        "allowed_total",
				Help:        "Total number of admitted acquisitions",
				ConstLabels: config.Labels,
			},
			labels,
		),

		RateLimitDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "ratelimit",
				Name:        "denied_total",
				Help:        "Total number of denied or abandoned acquisitions",
				ConstLabels: config.Labels,
			},
			labels,
		),

		RateLimitWaitTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "ratelimit",
				Name:        "wait_duration_seconds",
				Help:        "Time spent waiting for a token",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: config.Labels,
			},
			labels,
		),

		RateLimitTokens: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "ratelimit",
				Name:        "tokens_available",
				Help:        "Number of tokens currently available",
				ConstLabels: config.Labels,
			},
			labels,
		),

		RetryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "retry",
				Name:        "attempts_total",
				Help:        "Total number of backoff retries after a denied attempt",
				ConstLabels: config.Labels,
			},
			labels,
		),

		RetryBackoff: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "retry",
				Name:        "backoff_seconds",
				Help:        "Backoff delay slept before a retry",
				Buckets:     prometheus.ExponentialBuckets(0.01, 2, 14),
				ConstLabels: config.Labels,
			},
			labels,
		),
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry registered with
// prometheus.DefaultRegisterer. It is created on first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
	})
	return defaultRegistry
}

// registerer registers vectors with reg, reusing an equal collector that is
// already registered.
type registerer struct {
	reg prometheus.Registerer
}

func (f registerer) NewCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return register(f.reg, prometheus.NewCounterVec(opts, labels))
}

func (f registerer) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	return register(f.reg, prometheus.NewGaugeVec(opts, labels))
}

func (f registerer) NewHistogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	return register(f.reg, prometheus.NewHistogramVec(opts, labels))
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}
