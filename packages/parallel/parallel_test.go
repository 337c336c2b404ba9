package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexes(n int) []int {
	items := make([]int, n)
	for i := range items {
		items[i] = i
	}
	return items
}

func TestRun_BoundedConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	fn := func(_ context.Context, i int, item int) (int, error) {
		cur := running.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return item * 2, nil
	}

	agg := Run(context.Background(), indexes(50), fn, Options{MaxConcurrency: 5})

	assert.LessOrEqual(t, peak.Load(), int32(5))
	require.Len(t, agg.Results, 50)
	for i, r := range agg.Results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, i*2, r.Value)
		assert.NoError(t, r.Err)
		assert.False(t, r.Cancelled)
	}
	assert.Equal(t, 50, agg.Completed)
	assert.Equal(t, 50, agg.Succeeded())
	assert.True(t, agg.OK())
	assert.Equal(t, int64(50), agg.Latency.Count)
	assert.GreaterOrEqual(t, agg.Latency.P99, agg.Latency.P50)
}

func TestRun_ResultsInIndexOrder(t *testing.T) {
	fn := func(_ context.Context, i int, item string) (string, error) {
		time.Sleep(time.Duration(5-i) * 3 * time.Millisecond)
		return item + "!", nil
	}
	agg := Run(context.Background(), []string{"a", "b", "c", "d", "e"}, fn, Options{})
	var got []string
	for _, r := range agg.Results {
		got = append(got, r.Value)
	}
	assert.Equal(t, []string{"a!", "b!", "c!", "d!", "e!"}, got)
}

func TestRun_FailuresWithoutFailFast(t *testing.T) {
	fn := func(_ context.Context, i int, _ int) (int, error) {
		if i == 3 || i == 7 {
			return 0, fmt.Errorf("boom %d", i)
		}
		return i, nil
	}
	agg := Run(context.Background(), indexes(10), fn, Options{MaxConcurrency: 3})

	assert.Equal(t, 10, agg.Completed)
	assert.Equal(t, 2, agg.Failed)
	assert.Equal(t, 0, agg.Cancelled)
	assert.Equal(t, 8, agg.Succeeded())
	assert.False(t, agg.OK())
	require.Error(t, agg.FirstError)
	assert.EqualError(t, agg.Results[3].Err, "boom 3")
	assert.EqualError(t, agg.Results[7].Err, "boom 7")
}

func TestRun_FailFastStopsScheduling(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	fn := func(_ context.Context, i int, _ int) (int, error) {
		calls.Add(1)
		if i == 2 {
			return 0, boom
		}
		return i, nil
	}
	agg := Run(context.Background(), indexes(20), fn, Options{MaxConcurrency: 1, FailFast: true})

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, agg.Completed)
	assert.Equal(t, 1, agg.Failed)
	assert.Equal(t, 17, agg.Cancelled)
	assert.ErrorIs(t, agg.FirstError, boom)
	for _, r := range agg.Results[3:] {
		assert.True(t, r.Cancelled)
	}
}

func TestRun_FailFastCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	boom := errors.New("boom")
	fn := func(ctx context.Context, i int, _ int) (int, error) {
		switch i {
		case 0:
			<-started
			return 0, boom
		case 1:
			close(started)
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return i, nil
	}
	agg := Run(context.Background(), indexes(10), fn, Options{MaxConcurrency: 2, FailFast: true})

	assert.ErrorIs(t, agg.FirstError, boom)
	assert.Equal(t, 1, agg.Failed)
	assert.Equal(t, 1, agg.Completed)
	assert.True(t, agg.Results[1].Cancelled)
	assert.Equal(t, 9, agg.Cancelled)
}

func TestRun_RecoversPanics(t *testing.T) {
	fn := func(_ context.Context, i int, _ int) (int, error) {
		if i == 1 {
			panic("kaboom")
		}
		return i, nil
	}
	agg := Run(context.Background(), indexes(3), fn, Options{})

	var pe *PanicError
	require.True(t, errors.As(agg.Results[1].Err, &pe))
	assert.Equal(t, 1, pe.Index)
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.Equal(t, 1, agg.Failed)
}

func TestRun_RateLimit(t *testing.T) {
	fn := func(_ context.Context, i int, _ int) (int, error) { return i, nil }

	start := time.Now()
	agg := Run(context.Background(), indexes(5), fn, Options{Rate: 50, Burst: 1})

	assert.True(t, agg.OK())
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestRun_CancelledParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	fn := func(_ context.Context, i int, _ int) (int, error) {
		calls.Add(1)
		return i, nil
	}
	agg := Run(ctx, indexes(4), fn, Options{})
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 4, agg.Cancelled)
	assert.False(t, agg.OK())
}

func TestRun_Empty(t *testing.T) {
	agg := Run(context.Background(), []int(nil), func(context.Context, int, int) (int, error) {
		return 0, nil
	}, Options{FailFast: true})
	assert.Empty(t, agg.Results)
	assert.True(t, agg.OK())
	assert.Zero(t, agg.Latency)
}

func TestLatencySummary(t *testing.T) {
	l := newLatency()
	for _, ms := range []int{10, 20, 30, 40, 100} {
		l.record(time.Duration(ms) * time.Millisecond)
	}
	l.record(0)
	l.record(2 * time.Minute)

	s := l.summary()
	assert.Equal(t, int64(7), s.Count)
	assert.Equal(t, time.Microsecond, s.Min)
	assert.InDelta(t, float64(60*time.Second), float64(s.Max), float64(100*time.Millisecond))
	assert.InDelta(t, float64(30*time.Millisecond), float64(s.P50), float64(time.Millisecond))
}
