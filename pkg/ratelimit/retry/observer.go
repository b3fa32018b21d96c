package retry

import (
	"time"

	"github.com/ssgreg/logf"

	"github.com/vnykmshr/tokenflow/pkg/metrics"
)

// Observer receives retry events from a Limiter whose policy has LogEvents set.
// attempt is 1 for the first retry. OnRetry is called before the wait starts
// and never while the bucket is locked; it must not block for long.
type Observer interface {
	OnRetry(attempt int, delay time.Duration)
}

// ObserverFunc adapts an ordinary function to the Observer interface.
type ObserverFunc func(attempt int, delay time.Duration)

// OnRetry calls f(attempt, delay).
func (f ObserverFunc) OnRetry(attempt int, delay time.Duration) {
	f(attempt, delay)
}

type multiObserver []Observer

func (m multiObserver) OnRetry(attempt int, delay time.Duration) {
	for _, o := range m {
		o.OnRetry(attempt, delay)
	}
}

// Observers fans every event out to all non-nil observers in order.
func Observers(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	if len(m) == 1 {
		return m[0]
	}
	return m
}

// LogObserver writes one structured log entry per retry.
type LogObserver struct {
	logger *logf.Logger
}

// NewLogObserver returns an Observer logging at info level to logger,
// tagging entries with the limiter name.
func NewLogObserver(logger *logf.Logger, name string) *LogObserver {
	return &LogObserver{logger: logger.With(logf.String("limiter", name))}
}

// OnRetry implements Observer.
func (o *LogObserver) OnRetry(attempt int, delay time.Duration) {
	o.logger.Info("token not available, retrying after delay",
		logf.Int("attempt", attempt),
		logf.Duration("delay", delay),
	)
}

// MetricsObserver counts retries and records backoff delays in Prometheus.
type MetricsObserver struct {
	registry *metrics.Registry
	name     string
}

// NewMetricsObserver returns an Observer reporting to registry under name.
// A nil registry reports to metrics.Default().
func NewMetricsObserver(registry *metrics.Registry, name string) *MetricsObserver {
	if registry == nil {
		registry = metrics.Default()
	}
	return &MetricsObserver{registry: registry, name: name}
}

// OnRetry implements Observer.
func (o *MetricsObserver) OnRetry(_ int, delay time.Duration) {
	o.registry.RetryAttempts.WithLabelValues(metrics.LimiterTypeRetrying, o.name).Inc()
	o.registry.RetryBackoff.WithLabelValues(metrics.LimiterTypeRetrying, o.name).Observe(delay.Seconds())
}
