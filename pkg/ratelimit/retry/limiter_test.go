package retry

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/vnykmshr/tokenflow/internal/testutil"
	"github.com/vnykmshr/tokenflow/pkg/common/errors"
	"github.com/vnykmshr/tokenflow/pkg/metrics"
	"github.com/vnykmshr/tokenflow/pkg/ratelimit/bucket"
)

var capped = Policy{
	UseBackoff:   true,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     800 * time.Millisecond,
	MaxAttempts:  5,
}

// newTestLimiter builds a limiter whose waits are recorded instead of slept.
// The waiter advances the mock clock only when advance is true.
func newTestLimiter(t *testing.T, rate, capacity float64, policy Policy, advance bool, opts ...Option) (*Limiter, *testutil.MockClock, *testutil.RecordingWaiter) {
	t.Helper()
	clock := testutil.NewMockClock(time.Time{})
	waiter := &testutil.RecordingWaiter{}
	if advance {
		waiter.Clock = clock
	}

	opts = append(opts, WithBucketOptions(
		bucket.WithClock(clock),
		bucket.WithBlockingWaiter(waiter),
		bucket.WithSuspendingWaiter(waiter),
	))
	l, err := New(rate, capacity, 0.01, policy, opts...)
	testutil.AssertNoError(t, err)
	return l, clock, waiter
}

func drain(l *Limiter) {
	for l.TryAcquire() {
	}
}

func assertDelays(t *testing.T, got []time.Duration, want ...time.Duration) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d waits %v, want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("wait %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		capacity float64
		poll     float64
		policy   Policy
	}{
		{"zero rate", 0, 5, 0.1, DefaultPolicy()},
		{"capacity below one", 1, 0.5, 0.1, DefaultPolicy()},
		{"zero poll", 1, 5, 0, DefaultPolicy()},
		{"zero initial delay", 1, 5, 0.1, Policy{UseBackoff: true, MaxDelay: time.Second, MaxAttempts: 1}},
		{"zero attempts", 1, 5, 0.1, Policy{UseBackoff: true, InitialDelay: time.Second, MaxDelay: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.rate, tt.capacity, tt.poll, tt.policy)
			if !errors.IsValidationError(err) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if l != nil {
				t.Error("expected nil limiter on error")
			}
		})
	}
}

func TestAcquire_Immediate(t *testing.T) {
	for _, d := range []Discipline{Blocking, Suspending} {
		t.Run(d.String(), func(t *testing.T) {
			l, _, waiter := newTestLimiter(t, 1, 2, capped, false)

			ok, err := l.Acquire(context.Background(), d)
			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, ok, true)
			testutil.AssertEqual(t, waiter.Calls(), 0)
			testutil.AssertInDelta(t, l.Bucket().AvailableTokens(), 1, testutil.FloatTolerance)
		})
	}
}

func TestAcquire_Exhausted(t *testing.T) {
	policy := capped
	policy.MaxAttempts = 3

	for _, d := range []Discipline{Blocking, Suspending} {
		t.Run(d.String(), func(t *testing.T) {
			l, _, waiter := newTestLimiter(t, 1, 1, policy, false)
			drain(l)

			ok, err := l.Acquire(context.Background(), d)
			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, ok, false)
			assertDelays(t, waiter.Delays(),
				100*time.Millisecond, 200*time.Millisecond, 400*time.Millisecond)
		})
	}
}

func TestAcquire_FullSchedule(t *testing.T) {
	l, _, waiter := newTestLimiter(t, 1, 1, capped, false)
	drain(l)

	ok, err := l.Acquire(context.Background(), Blocking)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, false)
	assertDelays(t, waiter.Delays(),
		100*time.Millisecond, 200*time.Millisecond, 400*time.Millisecond,
		800*time.Millisecond, 800*time.Millisecond)
}

func TestAcquire_ScheduleRestartsPerCall(t *testing.T) {
	policy := capped
	policy.MaxAttempts = 2
	l, _, waiter := newTestLimiter(t, 1, 1, policy, false)
	drain(l)

	for i := 0; i < 2; i++ {
		ok, err := l.Acquire(context.Background(), Suspending)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, ok, false)
	}
	assertDelays(t, waiter.Delays(),
		100*time.Millisecond, 200*time.Millisecond,
		100*time.Millisecond, 200*time.Millisecond)
}

func TestAcquire_SucceedsAfterBackoff(t *testing.T) {
	// Two tokens per second: 100ms + 200ms + 400ms of waiting refills 1.4 tokens.
	l, _, waiter := newTestLimiter(t, 2, 2, capped, true)
	drain(l)

	ok, err := l.Acquire(context.Background(), Blocking)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, true)
	assertDelays(t, waiter.Delays(),
		100*time.Millisecond, 200*time.Millisecond, 400*time.Millisecond)
	testutil.AssertInDelta(t, l.Bucket().AvailableTokens(), 0.4, 1e-6)
}

func TestAcquire_WithoutBackoff(t *testing.T) {
	policy := capped
	policy.UseBackoff = false
	policy.MaxAttempts = 0

	var events int
	policy.LogEvents = true
	obs := ObserverFunc(func(int, time.Duration) { events++ })

	l, _, waiter := newTestLimiter(t, 1, 1, policy, false, WithObserver(obs))

	ok, err := l.Acquire(context.Background(), Blocking)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, true)

	ok, err = l.Acquire(context.Background(), Suspending)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, false)
	testutil.AssertEqual(t, waiter.Calls(), 0)
	testutil.AssertEqual(t, events, 0)
}

func TestAcquire_Observer(t *testing.T) {
	type event struct {
		attempt int
		delay   time.Duration
	}

	tests := []struct {
		name      string
		logEvents bool
		want      []event
	}{
		{"reporting enabled", true, []event{
			{1, 100 * time.Millisecond},
			{2, 200 * time.Millisecond},
			{3, 400 * time.Millisecond},
		}},
		{"reporting disabled", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := capped
			policy.MaxAttempts = 3
			policy.LogEvents = tt.logEvents

			var got []event
			obs := ObserverFunc(func(attempt int, delay time.Duration) {
				got = append(got, event{attempt, delay})
			})
			l, _, _ := newTestLimiter(t, 1, 1, policy, false, WithObserver(obs))
			drain(l)

			ok, err := l.Acquire(context.Background(), Blocking)
			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, ok, false)
			testutil.AssertEqual(t, len(got), len(tt.want))
			for i := range tt.want {
				testutil.AssertEqual(t, got[i], tt.want[i])
			}
		})
	}
}

func TestAcquire_ObserverCanUseBucket(t *testing.T) {
	policy := capped
	policy.MaxAttempts = 1
	policy.LogEvents = true

	var l *Limiter
	obs := ObserverFunc(func(int, time.Duration) {
		// Would deadlock if called with the bucket locked.
		_ = l.Bucket().AvailableTokens()
	})
	l, _, _ = newTestLimiter(t, 1, 1, policy, false, WithObserver(obs))
	drain(l)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = l.Acquire(context.Background(), Blocking)
	}()

	select {
	case <-done:
	case <-time.After(testutil.TestTimeout):
		t.Fatal("observer deadlocked on the bucket")
	}
}

func TestAcquire_CanceledBeforeStart(t *testing.T) {
	for _, d := range []Discipline{Blocking, Suspending} {
		t.Run(d.String(), func(t *testing.T) {
			l, _, waiter := newTestLimiter(t, 1, 3, capped, false)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			ok, err := l.Acquire(ctx, d)
			testutil.AssertEqual(t, ok, false)
			if !stderrors.Is(err, context.Canceled) {
				t.Fatalf("expected context.Canceled, got %v", err)
			}
			testutil.AssertEqual(t, waiter.Calls(), 0)
			testutil.AssertInDelta(t, l.Bucket().AvailableTokens(), 3, testutil.FloatTolerance)
		})
	}
}

func TestAcquire_CanceledDuringWait(t *testing.T) {
	l, clock, waiter := newTestLimiter(t, 1, 1, capped, false)
	drain(l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	waiter.OnWait = func(call int, _ time.Duration) error {
		if call == 2 {
			cancel()
			// Enough time for a token, which the abandoned call must not take.
			clock.Advance(5 * time.Second)
			return ctx.Err()
		}
		return nil
	}

	ok, err := l.Acquire(ctx, Suspending)
	testutil.AssertEqual(t, ok, false)
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	testutil.AssertEqual(t, waiter.Calls(), 2)
	testutil.AssertInDelta(t, l.Bucket().AvailableTokens(), 1, testutil.FloatTolerance)
}

func TestAcquire_SuspendingDeadline(t *testing.T) {
	policy := Policy{UseBackoff: true, InitialDelay: 10 * time.Second, MaxDelay: time.Minute, MaxAttempts: 3}
	l, err := New(0.001, 1, 0.01, policy)
	testutil.AssertNoError(t, err)
	drain(l)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	ok, err := l.Acquire(ctx, Suspending)
	testutil.AssertEqual(t, ok, false)
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("suspended wait was not interrupted, took %v", elapsed)
	}
}

func TestAcquire_RealTime(t *testing.T) {
	// 100 tokens per second: the 10ms first retry is enough.
	policy := Policy{UseBackoff: true, InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, MaxAttempts: 10}
	l, err := New(100, 1, 0.001, policy)
	testutil.AssertNoError(t, err)
	drain(l)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	for _, d := range []Discipline{Blocking, Suspending} {
		ok, err := l.Acquire(ctx, d)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, ok, true)
	}
}

func TestAcquire_Concurrent(t *testing.T) {
	policy := capped
	policy.MaxAttempts = 2
	l, _, _ := newTestLimiter(t, 1, 10, policy, false)

	const callers = 50
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := Blocking
			if i%2 == 1 {
				d = Suspending
			}
			ok, err := l.Acquire(context.Background(), d)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	// The mock clock never moves, so only the initial burst is admitted.
	testutil.AssertEqual(t, admitted, 10)
}

func TestLogObserver(t *testing.T) {
	logger, rec := testutil.NewRecordingLogger()
	policy := capped
	policy.MaxAttempts = 2
	policy.LogEvents = true

	l, _, _ := newTestLimiter(t, 1, 1, policy, false, WithObserver(NewLogObserver(logger, "api")))
	drain(l)

	ok, err := l.Acquire(context.Background(), Blocking)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, false)

	entries := rec.Entries()
	testutil.AssertEqual(t, len(entries), 2)
	for i, e := range entries {
		f, found := testutil.FindField(e, "attempt")
		if !found {
			t.Fatal("attempt field not logged")
		}
		testutil.AssertEqual(t, f.Int, int64(i+1))

		f, found = testutil.FindField(e, "delay")
		if !found {
			t.Fatal("delay field not logged")
		}
		testutil.AssertEqual(t, time.Duration(f.Int), capped.Delay(i))

		f, found = testutil.FindField(e, "limiter")
		if !found {
			t.Fatal("limiter field not logged")
		}
		testutil.AssertEqual(t, string(f.Bytes), "api")
	}
}

func TestMetricsObserver(t *testing.T) {
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	logger, rec := testutil.NewRecordingLogger()

	policy := capped
	policy.MaxAttempts = 3
	policy.LogEvents = true
	obs := Observers(NewMetricsObserver(reg, "api"), nil, NewLogObserver(logger, "api"))

	l, _, _ := newTestLimiter(t, 1, 1, policy, false, WithObserver(obs))
	drain(l)

	ok, err := l.Acquire(context.Background(), Suspending)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, false)

	retries := promtestutil.ToFloat64(reg.RetryAttempts.WithLabelValues(metrics.LimiterTypeRetrying, "api"))
	testutil.AssertInDelta(t, retries, 3, 0)
	testutil.AssertEqual(t, promtestutil.CollectAndCount(reg.RetryBackoff), 1)

	hist, err := reg.RetryBackoff.GetMetricWithLabelValues(metrics.LimiterTypeRetrying, "api")
	testutil.AssertNoError(t, err)
	var m dto.Metric
	testutil.AssertNoError(t, hist.(prometheus.Metric).Write(&m))
	testutil.AssertEqual(t, m.GetHistogram().GetSampleCount(), uint64(3))
	testutil.AssertInDelta(t, m.GetHistogram().GetSampleSum(), 0.7, 1e-9)
	testutil.AssertEqual(t, len(rec.Entries()), 3)
}

func TestConfig_RoundTrip(t *testing.T) {
	l, err := New(2, 5, 0.1, capped)
	testutil.AssertNoError(t, err)
	drain(l)

	cfg := l.ToConfig()
	testutil.AssertEqual(t, cfg.RefillRate, 2.0)
	testutil.AssertEqual(t, cfg.Capacity, 5.0)
	testutil.AssertEqual(t, cfg.PollInterval, 0.1)
	testutil.AssertEqual(t, cfg.UseBackoff, true)
	testutil.AssertEqual(t, cfg.InitialDelayMs, uint64(100))
	testutil.AssertEqual(t, cfg.MaxDelayMs, uint64(800))
	testutil.AssertEqual(t, cfg.MaxAttempts, uint32(5))
	testutil.AssertEqual(t, cfg.LogEvents, false)

	restored, err := FromConfig(cfg)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, restored.ToConfig(), cfg)
	testutil.AssertEqual(t, restored.Policy(), capped)

	// Live tokens are not part of the config: a restored limiter starts full.
	testutil.AssertInDelta(t, restored.Bucket().AvailableTokens(), 5, testutil.FloatTolerance)
}

func TestConfig_RoundTripBoundaries(t *testing.T) {
	longest := time.Duration(maxMillis) * time.Millisecond

	tests := []struct {
		name   string
		policy Policy
	}{
		{"largest attempt count", Policy{UseBackoff: true, InitialDelay: time.Millisecond, MaxDelay: 1500 * time.Millisecond, MaxAttempts: math.MaxUint32}},
		{"longest delays", Policy{UseBackoff: true, InitialDelay: longest, MaxDelay: longest, MaxAttempts: 1}},
		{"backoff disabled", Policy{UseBackoff: false, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 0, LogEvents: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(1, 2, 0.01, tt.policy)
			testutil.AssertNoError(t, err)

			restored, err := FromConfig(l.ToConfig())
			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, restored.Policy(), tt.policy)
			testutil.AssertEqual(t, restored.ToConfig(), l.ToConfig())
		})
	}
}

func TestNew_RejectsUnrepresentablePolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		field  string
	}{
		{"sub-millisecond delays", Policy{UseBackoff: true, InitialDelay: 500 * time.Microsecond, MaxDelay: 1500 * time.Microsecond, MaxAttempts: 3}, "initial_delay"},
		{"fractional max delay", Policy{UseBackoff: true, InitialDelay: time.Millisecond, MaxDelay: 1500 * time.Microsecond, MaxAttempts: 3}, "max_delay"},
		{"attempts beyond uint32", Policy{UseBackoff: true, InitialDelay: time.Millisecond, MaxDelay: time.Second, MaxAttempts: math.MaxUint32 + 1}, "max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(1, 2, 0.01, tt.policy)
			var verr *errors.ValidationError
			if !stderrors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			testutil.AssertEqual(t, verr.Field, tt.field)
			if l != nil {
				t.Error("expected nil limiter on error")
			}
		})
	}
}

func TestConfig_JSON(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RefillRate = 10
	cfg.Capacity = 20
	cfg.PollInterval = 0.05

	data, err := json.Marshal(cfg)
	testutil.AssertNoError(t, err)

	var fields map[string]interface{}
	testutil.AssertNoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{
		"refill_rate", "capacity", "poll_interval",
		"use_backoff", "initial_delay_ms", "max_delay_ms", "max_attempts", "log_events",
	} {
		if _, ok := fields[key]; !ok {
			t.Errorf("key %q missing from %s", key, data)
		}
	}
	testutil.AssertEqual(t, len(fields), 8)

	var decoded Config
	testutil.AssertNoError(t, json.Unmarshal(data, &decoded))
	testutil.AssertEqual(t, decoded, cfg)
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()
	valid.RefillRate = 1
	valid.Capacity = 1
	valid.PollInterval = 0.1
	testutil.AssertNoError(t, valid.Validate())

	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"missing bucket parameters", func(c *Config) { c.RefillRate = 0 }, "refill_rate"},
		{"zero initial delay", func(c *Config) { c.InitialDelayMs = 0 }, "initial_delay"},
		{"initial above max", func(c *Config) { c.InitialDelayMs = c.MaxDelayMs + 1 }, "initial_delay"},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }, "max_attempts"},
		{"initial delay overflow", func(c *Config) { c.InitialDelayMs = maxMillis + 1 }, "initial_delay_ms"},
		{"max delay overflow", func(c *Config) { c.MaxDelayMs = ^uint64(0) }, "max_delay_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.modify(&cfg)

			err := cfg.Validate()
			var verr *errors.ValidationError
			if !stderrors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			testutil.AssertEqual(t, verr.Field, tt.field)

			_, err = FromConfig(cfg)
			testutil.AssertError(t, err)
		})
	}
}

func TestConfig_ZeroAttemptsWithoutBackoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RefillRate = 1
	cfg.Capacity = 1
	cfg.PollInterval = 0.1
	cfg.UseBackoff = false
	cfg.MaxAttempts = 0

	l, err := FromConfig(cfg)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, l.ToConfig(), cfg)
}
