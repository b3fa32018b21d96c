package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/ssgreg/logf"
)

// MockClock implements Clock interface for testing with controllable time.
// This is used across the limiter tests to avoid actual time delays.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a new MockClock starting at the given time.
// If zero time is provided, uses current time.
func NewMockClock(start time.Time) *MockClock {
	if start.IsZero() {
		start = time.Now()
	}
	return &MockClock{now: start}
}

// Now returns the current mock time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock clock forward by the given duration.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock clock to a specific time.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// RecordingWaiter is a waiter that never sleeps. It records every requested
// delay and, when Clock is set, advances it by that delay so refill arithmetic
// sees the time pass.
type RecordingWaiter struct {
	Clock *MockClock

	// OnWait, when set, runs after the delay is recorded and before the clock
	// advances. Returning a non-nil error aborts the wait with that error.
	OnWait func(call int, d time.Duration) error

	mu     sync.Mutex
	delays []time.Duration
}

// Wait records d and returns ctx.Err() if the context is already done.
func (w *RecordingWaiter) Wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.delays = append(w.delays, d)
	call := len(w.delays)
	w.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if w.OnWait != nil {
		if err := w.OnWait(call, d); err != nil {
			return err
		}
	}
	if w.Clock != nil {
		w.Clock.Advance(d)
	}
	return nil
}

// Delays returns a copy of the recorded delays.
func (w *RecordingWaiter) Delays() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.delays...)
}

// Calls returns the number of Wait invocations.
func (w *RecordingWaiter) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.delays)
}

// LogRecorder is a logf.EntryWriter that keeps every entry for inspection.
type LogRecorder struct {
	mu      sync.RWMutex
	entries []logf.Entry
}

// NewRecordingLogger returns a debug-level logf.Logger backed by a LogRecorder.
func NewRecordingLogger() (*logf.Logger, *LogRecorder) {
	rec := &LogRecorder{}
	return logf.NewLogger(logf.LevelDebug, rec), rec
}

// WriteEntry implements logf.EntryWriter.
//
//nolint:gocritic
func (r *LogRecorder) WriteEntry(e logf.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// Entries returns all recorded entries.
func (r *LogRecorder) Entries() []logf.Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]logf.Entry(nil), r.entries...)
}

// FindField returns the field with the given key from an entry.
func FindField(e logf.Entry, key string) (logf.Field, bool) {
	for _, f := range append(append([]logf.Field{}, e.Fields...), e.DerivedFields...) {
		if f.Key == key {
			return f, true
		}
	}
	return logf.Field{}, false
}
