package bucket

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vnykmshr/tokenflow/pkg/common/errors"
	"github.com/vnykmshr/tokenflow/pkg/common/validation"
)

const module = "bucket"

// Limiter is the set of operations shared by *TokenBucket and its decorators.
type Limiter interface {
	// TryAcquire consumes one token if one is available. It never blocks.
	TryAcquire() bool

	// AcquireBlocking polls until a token is consumed, sleeping the calling
	// goroutine between polls. The context is only consulted between polls.
	// It returns nil once a token is consumed and the context error if the
	// caller gave up first.
	AcquireBlocking(ctx context.Context) error

	// AcquireSuspending polls until a token is consumed, parking the calling
	// goroutine on a timer between polls. Cancellation wakes it immediately.
	AcquireSuspending(ctx context.Context) error

	// AvailableTokens refills the bucket and returns the tokens available now.
	AvailableTokens() float64

	// ToConfig returns the static parameters of the bucket.
	ToConfig() Config
}

// Discipline selects how a caller waits between polls.
type Discipline int

const (
	// Blocking sleeps the calling goroutine; cancellation is observed between polls.
	Blocking Discipline = iota

	// Suspending parks the calling goroutine on a timer and wakes on cancellation.
	Suspending
)

// String returns the lower-case name of the discipline.
func (d Discipline) String() string {
	switch d {
	case Blocking:
		return "blocking"
	case Suspending:
		return "suspending"
	default:
		return fmt.Sprintf("Discipline(%d)", int(d))
	}
}

// ParseDiscipline parses "blocking" or "suspending" (case-insensitive).
func ParseDiscipline(s string) (Discipline, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "blocking":
		return Blocking, nil
	case "suspending":
		return Suspending, nil
	}
	return 0, errors.NewValidationError(module, "discipline", s, "unknown discipline").
		WithHint(`use "blocking" or "suspending"`)
}

// Clock provides the current time. It can be mocked for testing.
// Implementations should return times carrying a monotonic reading.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Config is the serializable projection of a TokenBucket. It carries only the
// static parameters; a bucket built from it always starts full.
type Config struct {
	// RefillRate is the number of tokens added per second.
	RefillRate float64 `mapstructure:"refill_rate" yaml:"refill_rate" json:"refill_rate"`

	// Capacity is the maximum number of tokens the bucket holds (burst ceiling).
	Capacity float64 `mapstructure:"capacity" yaml:"capacity" json:"capacity"`

	// PollInterval is the number of seconds blocking and suspending
	// acquisition wait between polls.
	PollInterval float64 `mapstructure:"poll_interval" yaml:"poll_interval" json:"poll_interval"`
}

// Validate checks the parameters and returns a *errors.ValidationError for
// the first invalid one.
func (c Config) Validate() error {
	if err := validation.ValidatePositiveFloat(module, "refill_rate", c.RefillRate); err != nil {
		return err
	}
	if err := validation.ValidateAtLeast(module, "capacity", c.Capacity, 1); err != nil {
		return err
	}
	if err := validation.ValidatePositiveFloat(module, "poll_interval", c.PollInterval); err != nil {
		return err
	}
	if secondsToDuration(c.PollInterval) <= 0 {
		return errors.NewValidationError(module, "poll_interval", c.PollInterval, "below timer resolution").
			WithHint("poll interval must be at least one nanosecond")
	}
	return nil
}

// Option configures a TokenBucket.
type Option func(*TokenBucket)

// WithClock sets the time source. Defaults to SystemClock.
func WithClock(clock Clock) Option {
	return func(tb *TokenBucket) {
		if clock != nil {
			tb.clock = clock
		}
	}
}

// WithBlockingWaiter replaces the waiter used by AcquireBlocking.
func WithBlockingWaiter(w Waiter) Option {
	return func(tb *TokenBucket) {
		if w != nil {
			tb.blocking = w
		}
	}
}

// WithSuspendingWaiter replaces the waiter used by AcquireSuspending.
func WithSuspendingWaiter(w Waiter) Option {
	return func(tb *TokenBucket) {
		if w != nil {
			tb.suspending = w
		}
	}
}

// TokenBucket is an in-memory, concurrency-safe token bucket with lazy refill.
//
// The bucket starts full. Every acquisition first adds elapsed×rate tokens
// (capped at capacity) and then takes one token if at least one is available.
// There is no background goroutine; refill is paid for by the caller.
//
// A TokenBucket must not be copied after first use. Share it by pointer.
type TokenBucket struct {
	refillRate   float64
	capacity     float64
	pollSeconds  float64
	pollInterval time.Duration

	clock      Clock
	blocking   Waiter
	suspending Waiter

	mu         sync.Mutex
	available  float64
	lastRefill time.Time
}

var _ Limiter = (*TokenBucket)(nil)

// New creates a token bucket adding refillRate tokens per second up to
// capacity, polling every pollInterval seconds while waiting.
// It returns a *errors.ValidationError if any parameter is invalid.
func New(refillRate, capacity, pollInterval float64, opts ...Option) (*TokenBucket, error) {
	return FromConfig(Config{
		RefillRate:   refillRate,
		Capacity:     capacity,
		PollInterval: pollInterval,
	}, opts...)
}

// FromConfig creates a fresh, full token bucket from its serialized parameters.
func FromConfig(config Config, opts ...Option) (*TokenBucket, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	tb := &TokenBucket{
		refillRate:   config.RefillRate,
		capacity:     config.Capacity,
		pollSeconds:  config.PollInterval,
		pollInterval: secondsToDuration(config.PollInterval),
		clock:        SystemClock{},
		blocking:     BlockingWaiter{},
		suspending:   SuspendingWaiter{},
	}
	for _, opt := range opts {
		opt(tb)
	}

	tb.available = tb.capacity
	tb.lastRefill = tb.clock.Now()
	return tb, nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
