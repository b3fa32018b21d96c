package bucket

import (
	"context"
	"time"
)

// Waiter pauses the caller between acquisition polls.
// A non-nil error aborts the acquisition without consuming a token.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
}

// WaiterFunc adapts an ordinary function to the Waiter interface.
type WaiterFunc func(ctx context.Context, d time.Duration) error

// Wait calls f(ctx, d).
func (f WaiterFunc) Wait(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// BlockingWaiter sleeps for the full duration. The sleep cannot be
// interrupted; the context is checked afterwards so cancellation takes
// effect at the next poll boundary.
type BlockingWaiter struct{}

// Wait implements Waiter.
func (BlockingWaiter) Wait(ctx context.Context, d time.Duration) error {
	time.Sleep(d)
	return ctx.Err()
}

// SuspendingWaiter parks the goroutine on a timer and returns early when
// the context is done.
type SuspendingWaiter struct{}

// Wait implements Waiter.
func (SuspendingWaiter) Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
