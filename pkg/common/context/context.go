// Package context holds small helpers around the standard context package
// shared by the limiter wait loops.
package context

import (
	"context"
)

// IsCanceled returns true if the context has been canceled or its deadline
// has passed. It never blocks.
func IsCanceled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// IsTimedOut returns true if the context was canceled due to a timeout
func IsTimedOut(ctx context.Context) bool {
	return ctx.Err() == context.DeadlineExceeded
}

// OrBackground returns ctx, or context.Background() when ctx is nil.
func OrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
