package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vnykmshr/tokenflow/pkg/common/validation"
)

const module = "retry"

// Policy controls how a Limiter retries denied acquisitions.
// It is immutable once handed to a Limiter.
type Policy struct {
	// UseBackoff enables retrying. When false a Limiter makes exactly one attempt.
	UseBackoff bool

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps every wait.
	MaxDelay time.Duration

	// MaxAttempts is the number of retries allowed after the first attempt.
	MaxAttempts int

	// LogEvents reports every retry to the Limiter's Observer.
	LogEvents bool
}

// DefaultPolicy returns the default backoff policy: up to 5 retries starting
// at 100ms and doubling up to 60s, without event reporting.
func DefaultPolicy() Policy {
	return Policy{
		UseBackoff:   true,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     60 * time.Second,
		MaxAttempts:  5,
		LogEvents:    false,
	}
}

// Validate reports the first invalid field as a *errors.ValidationError.
// Delays must be whole milliseconds and MaxAttempts must fit in a uint32,
// so that every valid policy converts to a Config and back unchanged.
func (p Policy) Validate() error {
	if err := validation.ValidatePositiveDuration(module, "initial_delay", p.InitialDelay); err != nil {
		return err
	}
	if err := validation.ValidatePositiveDuration(module, "max_delay", p.MaxDelay); err != nil {
		return err
	}
	if err := validation.ValidateDurationOrder(module, "initial_delay", "max_delay", p.InitialDelay, p.MaxDelay); err != nil {
		return err
	}
	if err := validation.ValidateDurationUnit(module, "initial_delay", p.InitialDelay, time.Millisecond); err != nil {
		return err
	}
	if err := validation.ValidateDurationUnit(module, "max_delay", p.MaxDelay, time.Millisecond); err != nil {
		return err
	}
	if err := validation.ValidateRange(module, "max_attempts", int64(p.MaxAttempts), 0, math.MaxUint32); err != nil {
		return err
	}
	if p.UseBackoff {
		if err := validation.ValidatePositive(module, "max_attempts", p.MaxAttempts); err != nil {
			return err
		}
	}
	return nil
}

// Delay returns the wait before retry number attempt (0-based):
// min(MaxDelay, InitialDelay * 2^attempt).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.InitialDelay
	for i := 0; i < attempt; i++ {
		if float64(delay) >= float64(p.MaxDelay)/2 {
			return p.MaxDelay
		}
		delay *= 2
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// NewBackOff returns a fresh backoff schedule for one acquisition. It yields
// Delay(0), Delay(1), ... Delay(MaxAttempts-1) and then backoff.Stop.
func (p Policy) NewBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialDelay
	eb.MaxInterval = p.MaxDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0

	var bf backoff.BackOff = eb
	if p.MaxAttempts > 0 {
		bf = backoff.WithMaxRetries(eb, uint64(p.MaxAttempts))
	}
	bf.Reset()
	return bf
}
