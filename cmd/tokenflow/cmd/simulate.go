package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"github.com/ssgreg/logf"

	tfcontext "github.com/vnykmshr/tokenflow/pkg/common/context"
	"github.com/vnykmshr/tokenflow/pkg/common/errors"
	"github.com/vnykmshr/tokenflow/pkg/config"
	"github.com/vnykmshr/tokenflow/pkg/metrics"
	"github.com/vnykmshr/tokenflow/pkg/ratelimit/bucket"
	"github.com/vnykmshr/tokenflow/pkg/ratelimit/retry"
)

// Simulation modes.
const (
	modeRetry = "retry" // retry.Limiter.Acquire with the configured backoff
	modeTry   = "try"   // a single TryAcquire per request
	modeWait  = "wait"  // bucket acquisition that waits until admitted
)

type simulateOptions struct {
	limiter     string
	mode        string
	discipline  string
	requests    int
	concurrency int
	timeout     time.Duration
	metrics     bool
}

type simulationResult struct {
	Admitted  int64
	Denied    int64
	Abandoned int64
	Elapsed   time.Duration
}

type acquireFunc func(ctx context.Context) (bool, error)

func newSimulateCommand(root *rootOptions) *cobra.Command {
	opts := &simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate FILE",
		Short: "Drive a configured limiter with concurrent requests",
		Long: `Build one limiter from FILE and issue --requests acquisitions from
--concurrency goroutines, then report how many were admitted, denied or
abandoned because --timeout expired.

Modes:
  retry  acquire with the limiter's backoff policy (default)
  try    one immediate attempt per request
  wait   wait on the bucket until admitted or the timeout expires`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, root, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.limiter, "limiter", "", "limiter name (optional when the file defines one limiter)")
	flags.StringVar(&opts.mode, "mode", modeRetry, "acquisition mode: retry, try or wait")
	flags.StringVar(&opts.discipline, "discipline", bucket.Suspending.String(), "wait discipline: blocking or suspending")
	flags.IntVar(&opts.requests, "requests", 100, "total number of acquisitions")
	flags.IntVar(&opts.concurrency, "concurrency", 10, "number of concurrent callers")
	flags.DurationVar(&opts.timeout, "timeout", 0, "abandon outstanding acquisitions after this long (0 = never)")
	flags.BoolVar(&opts.metrics, "metrics", false, "print Prometheus metrics after the run")
	return cmd
}

func (o *simulateOptions) validate() error {
	switch o.mode {
	case modeRetry, modeTry, modeWait:
	default:
		return errors.NewValidationError("cli", "mode", o.mode, "unknown mode").
			WithHint("use retry, try or wait")
	}
	if o.requests <= 0 {
		return errors.NewValidationError("cli", "requests", o.requests, "must be positive")
	}
	if o.concurrency <= 0 {
		return errors.NewValidationError("cli", "concurrency", o.concurrency, "must be positive")
	}
	return nil
}

func runSimulate(cmd *cobra.Command, root *rootOptions, opts *simulateOptions, path string) error {
	if err := opts.validate(); err != nil {
		return err
	}
	discipline, err := bucket.ParseDiscipline(opts.discipline)
	if err != nil {
		return err
	}

	doc, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	name, cfg, err := pickLimiter(doc, opts.limiter)
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cmd.ErrOrStderr(), root)
	if err != nil {
		return err
	}
	defer closeLog()

	promReg := prometheus.NewRegistry()
	acquire, err := newAcquirer(opts.mode, name, cfg, discipline, logger, promReg)
	if err != nil {
		return err
	}

	ctx := tfcontext.OrBackground(cmd.Context())
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	logger.Info("simulation started",
		logf.String("limiter", name),
		logf.String("mode", opts.mode),
		logf.String("discipline", discipline.String()),
		logf.Int("requests", opts.requests),
		logf.Int("concurrency", opts.concurrency),
	)

	res := simulate(ctx, acquire, opts.requests, opts.concurrency)

	logger.Info("simulation finished",
		logf.Int64("admitted", res.Admitted),
		logf.Int64("denied", res.Denied),
		logf.Int64("abandoned", res.Abandoned),
		logf.Duration("elapsed", res.Elapsed),
	)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "limiter %s: %d admitted, %d denied, %d abandoned in %v\n",
		name, res.Admitted, res.Denied, res.Abandoned, res.Elapsed.Round(time.Millisecond))

	if opts.metrics {
		return writeMetrics(out, promReg)
	}
	return nil
}

func pickLimiter(doc *config.Document, name string) (string, retry.Config, error) {
	if name == "" {
		names := doc.Names()
		if len(names) != 1 {
			return "", retry.Config{}, errors.NewValidationError("cli", "limiter", "", "required").
				WithHint(fmt.Sprintf("choose one of %s", strings.Join(names, ", ")))
		}
		name = names[0]
	}

	name = strings.ToLower(name)
	cfg, ok := doc.Limiters[name]
	if !ok {
		return "", retry.Config{}, fmt.Errorf("limiter %q: %w", name, errors.ErrNotFound)
	}
	return name, cfg, nil
}

// newAcquirer builds the limiter for cfg and returns the per-request call for mode.
func newAcquirer(mode, name string, cfg retry.Config, d bucket.Discipline, logger *logf.Logger, reg prometheus.Registerer) (acquireFunc, error) {
	if mode == modeRetry {
		observer := retry.Observers(
			retry.NewLogObserver(logger, name),
			retry.NewMetricsObserver(metrics.NewRegistry(reg), name),
		)
		l, err := retry.FromConfig(cfg, retry.WithObserver(observer))
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (bool, error) {
			return l.Acquire(ctx, d)
		}, nil
	}

	tb, err := bucket.FromConfig(cfg.Config)
	if err != nil {
		return nil, err
	}
	limiter := bucket.NewWithMetrics(tb, name, metrics.Config{
		Enabled:   true,
		Registry:  reg,
		Namespace: metrics.DefaultNamespace,
	})

	if mode == modeTry {
		return func(context.Context) (bool, error) {
			return limiter.TryAcquire(), nil
		}, nil
	}
	return func(ctx context.Context) (bool, error) {
		var err error
		if d == bucket.Suspending {
			err = limiter.AcquireSuspending(ctx)
		} else {
			err = limiter.AcquireBlocking(ctx)
		}
		return err == nil, err
	}, nil
}

// simulate issues requests acquisitions from concurrency goroutines.
func simulate(ctx context.Context, acquire acquireFunc, requests, concurrency int) simulationResult {
	var (
		wg                          sync.WaitGroup
		issued                      atomic.Int64
		admitted, denied, abandoned atomic.Int64
	)

	start := time.Now()
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for issued.Add(1) <= int64(requests) {
				ok, err := acquire(ctx)
				switch {
				case err != nil:
					abandoned.Add(1)
				case ok:
					admitted.Add(1)
				default:
					denied.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	return simulationResult{
		Admitted:  admitted.Load(),
		Denied:    denied.Load(),
		Abandoned: abandoned.Load(),
		Elapsed:   time.Since(start),
	}
}

func writeMetrics(w io.Writer, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
