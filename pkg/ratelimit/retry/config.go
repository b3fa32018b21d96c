package retry

import (
	"math"
	"time"

	"github.com/vnykmshr/tokenflow/pkg/common/errors"
	"github.com/vnykmshr/tokenflow/pkg/ratelimit/bucket"
)

// maxMillis is the largest millisecond count representable as a time.Duration.
const maxMillis = uint64(math.MaxInt64 / int64(time.Millisecond))

// Config is the serializable projection of a Limiter: the bucket parameters
// plus the backoff policy. Live token state is never part of it.
type Config struct {
	bucket.Config `mapstructure:",squash" yaml:",inline"`

	UseBackoff     bool   `mapstructure:"use_backoff" yaml:"use_backoff" json:"use_backoff"`
	InitialDelayMs uint64 `mapstructure:"initial_delay_ms" yaml:"initial_delay_ms" json:"initial_delay_ms"`
	MaxDelayMs     uint64 `mapstructure:"max_delay_ms" yaml:"max_delay_ms" json:"max_delay_ms"`
	MaxAttempts    uint32 `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	LogEvents      bool   `mapstructure:"log_events" yaml:"log_events" json:"log_events"`
}

// DefaultConfig returns a Config carrying DefaultPolicy. The bucket
// parameters are left zero and must be filled in.
func DefaultConfig() Config {
	return ConfigFor(bucket.Config{}, DefaultPolicy())
}

// ConfigFor combines bucket parameters and a policy into a Config.
// The conversion is exact for any policy that passes Validate; otherwise
// delays are truncated to whole milliseconds and MaxAttempts to 32 bits.
func ConfigFor(bc bucket.Config, p Policy) Config {
	return Config{
		Config:         bc,
		UseBackoff:     p.UseBackoff,
		InitialDelayMs: uint64(p.InitialDelay / time.Millisecond),
		MaxDelayMs:     uint64(p.MaxDelay / time.Millisecond),
		MaxAttempts:    uint32(p.MaxAttempts),
		LogEvents:      p.LogEvents,
	}
}

// Policy returns the backoff policy described by the config.
func (c Config) Policy() Policy {
	return Policy{
		UseBackoff:   c.UseBackoff,
		InitialDelay: time.Duration(c.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(c.MaxDelayMs) * time.Millisecond,
		MaxAttempts:  int(c.MaxAttempts),
		LogEvents:    c.LogEvents,
	}
}

// Validate checks both the bucket parameters and the policy.
func (c Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.InitialDelayMs > maxMillis {
		return errors.NewValidationError(module, "initial_delay_ms", c.InitialDelayMs, "out of range")
	}
	if c.MaxDelayMs > maxMillis {
		return errors.NewValidationError(module, "max_delay_ms", c.MaxDelayMs, "out of range")
	}
	return c.Policy().Validate()
}

// FromConfig builds a Limiter with a fresh, full bucket from cfg.
func FromConfig(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return New(cfg.RefillRate, cfg.Capacity, cfg.PollInterval, cfg.Policy(), opts...)
}

// ToConfig returns the serializable parameters of the Limiter.
func (l *Limiter) ToConfig() Config {
	return ConfigFor(l.bucket.ToConfig(), l.policy)
}
