package retry

import (
	"context"

	"github.com/cenkalti/backoff/v4"

	tfcontext "github.com/vnykmshr/tokenflow/pkg/common/context"
	"github.com/vnykmshr/tokenflow/pkg/ratelimit/bucket"
)

// Discipline selects how Acquire waits between attempts.
type Discipline = bucket.Discipline

// Wait disciplines, shared with the bucket package.
const (
	Blocking   = bucket.Blocking
	Suspending = bucket.Suspending
)

// Option configures a Limiter.
type Option func(*options)

type options struct {
	observer   Observer
	bucketOpts []bucket.Option
}

// WithObserver sets the Observer notified of retries when Policy.LogEvents is true.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		opts.observer = o
	}
}

// WithBucketOptions passes options to the token bucket the Limiter creates.
func WithBucketOptions(bucketOpts ...bucket.Option) Option {
	return func(opts *options) {
		opts.bucketOpts = append(opts.bucketOpts, bucketOpts...)
	}
}

// Limiter owns a token bucket and retries denied acquisitions with
// exponential backoff. It is safe for concurrent use; each Acquire call
// keeps its own attempt counter and backoff schedule.
type Limiter struct {
	bucket   *bucket.TokenBucket
	policy   Policy
	observer Observer
}

// New validates policy and the bucket parameters and returns a Limiter with a
// fresh, full bucket. Errors are *errors.ValidationError values.
func New(refillRate, capacity, pollInterval float64, policy Policy, opts ...Option) (*Limiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	tb, err := bucket.New(refillRate, capacity, pollInterval, o.bucketOpts...)
	if err != nil {
		return nil, err
	}

	return &Limiter{
		bucket:   tb,
		policy:   policy,
		observer: o.observer,
	}, nil
}

// Acquire tries to take a token, retrying with backoff while the policy allows.
//
// It returns (true, nil) when a token was consumed and (false, nil) when the
// bucket denied every attempt. Denial is a normal outcome. A non-nil error is
// only ever the context's error; an abandoned call consumes no token.
func (l *Limiter) Acquire(ctx context.Context, d Discipline) (bool, error) {
	ctx = tfcontext.OrBackground(ctx)
	waiter := l.bucket.Waiter(d)

	var schedule backoff.BackOff
	for attempt := 1; ; attempt++ {
		if tfcontext.IsCanceled(ctx) {
			return false, ctx.Err()
		}
		if l.bucket.TryAcquire() {
			return true, nil
		}
		if !l.policy.UseBackoff {
			return false, nil
		}

		if schedule == nil {
			schedule = l.policy.NewBackOff()
		}
		delay := schedule.NextBackOff()
		if delay == backoff.Stop {
			return false, nil
		}

		if l.policy.LogEvents && l.observer != nil {
			l.observer.OnRetry(attempt, delay)
		}
		if err := waiter.Wait(ctx, delay); err != nil {
			return false, err
		}
	}
}

// TryAcquire makes a single attempt without retrying.
func (l *Limiter) TryAcquire() bool {
	return l.bucket.TryAcquire()
}

// Bucket returns the bucket owned by the Limiter. It is shared, not copied.
func (l *Limiter) Bucket() *bucket.TokenBucket {
	return l.bucket
}

// Policy returns the backoff policy.
func (l *Limiter) Policy() Policy {
	return l.policy
}
