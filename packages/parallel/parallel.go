package parallel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Options configure a Run.
type Options struct {
	// MaxConcurrency bounds the number of running iterations. Values <= 0 or
	// above the iteration count mean one worker per iteration.
	MaxConcurrency int
	FailFast       bool
	// Rate limits iteration starts per second. Zero means unlimited.
	Rate  float64
	Burst int

	Logger *slog.Logger
}

// Outcome is the result of one iteration.
type Outcome[T any] struct {
	Index    int
	Value    T
	Err      error
	Duration time.Duration
	// Cancelled is set for iterations that never started, or that were
	// interrupted by a fail-fast cancellation.
	Cancelled bool
}

// Aggregate collects the outcomes of a Run in iteration order.
type Aggregate[T any] struct {
	Results []Outcome[T]
	// Completed counts iterations that ran to the end, failed ones included.
	Completed int
	Failed    int
	Cancelled int
	// FirstError is the first failure observed, by completion time.
	FirstError error
	Latency    LatencySummary
	Elapsed    time.Duration
}

// Succeeded returns the number of iterations that completed without error.
func (a *Aggregate[T]) Succeeded() int { return a.Completed - a.Failed }

// OK reports whether every iteration completed without error.
func (a *Aggregate[T]) OK() bool {
	return a.Failed == 0 && a.Cancelled == 0
}

// PanicError is recorded for an iteration whose function panicked.
type PanicError struct {
	Index int
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("iteration %d panicked: %v", e.Index, e.Value)
}

// Func runs one iteration.
type Func[I, T any] func(ctx context.Context, index int, item I) (T, error)

var errFailFast = errors.New("fail-fast: iteration failed")

// Run calls fn once per item and waits for every started iteration to
// return.
func Run[I, T any](ctx context.Context, items []I, fn Func[I, T], opts Options) *Aggregate[T] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "parallel")

	n := len(items)
	agg := &Aggregate[T]{Results: make([]Outcome[T], n)}
	for i := range agg.Results {
		agg.Results[i] = Outcome[T]{Index: i, Cancelled: true}
	}
	if n == 0 {
		return agg
	}

	limit := opts.MaxConcurrency
	if limit <= 0 || limit > n {
		limit = n
	}

	var limiter *rate.Limiter
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var (
		mu      sync.Mutex
		tripped bool
	)
	latency := newLatency()
	start := time.Now()

	logger.Debug("fan-out started", "iterations", n, "max_concurrency", limit, "fail_fast", opts.FailFast, "rate", opts.Rate)

	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		if limiter != nil {
			if err := limiter.Wait(gctx); err != nil {
				break
			}
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			began := time.Now()
			value, err := call(gctx, i, item, fn)
			elapsed := time.Since(began)

			mu.Lock()
			defer mu.Unlock()

			out := Outcome[T]{Index: i, Value: value, Err: err, Duration: elapsed}
			if err != nil && tripped && errors.Is(err, context.Canceled) {
				out.Cancelled = true
				agg.Results[i] = out
				return nil
			}
			agg.Results[i] = out
			agg.Completed++
			latency.record(elapsed)
			if err == nil {
				return nil
			}

			agg.Failed++
			if agg.FirstError == nil {
				agg.FirstError = err
			}
			logger.Debug("iteration failed", "iteration", i, "error", err)
			if opts.FailFast && !tripped {
				tripped = true
				return errFailFast
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range agg.Results {
		if r.Cancelled {
			agg.Cancelled++
		}
	}
	agg.Latency = latency.summary()
	agg.Elapsed = time.Since(start)

	logger.Debug("fan-out finished",
		"completed", agg.Completed, "failed", agg.Failed, "cancelled", agg.Cancelled,
		"p95", agg.Latency.P95, "elapsed", agg.Elapsed)
	return agg
}

func call[I, T any](ctx context.Context, i int, item I, fn Func[I, T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Index: i, Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx, i, item)
}
