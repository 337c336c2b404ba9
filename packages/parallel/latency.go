package parallel

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Histogram range: 1us to 60s, 3 significant digits.
const (
	minLatencyUs = 1
	maxLatencyUs = 60_000_000
)

// LatencySummary describes iteration durations.
type LatencySummary struct {
	Count int64
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
}

// latency is not safe for concurrent use; Run guards it with its mutex.
type latency struct {
	h *hdrhistogram.Histogram
}

func newLatency() *latency {
	return &latency{h: hdrhistogram.New(minLatencyUs, maxLatencyUs, 3)}
}

func (l *latency) record(d time.Duration) {
	us := d.Microseconds()
	if us < minLatencyUs {
		us = minLatencyUs
	}
	if us > maxLatencyUs {
		us = maxLatencyUs
	}
	_ = l.h.RecordValue(us)
}

func (l *latency) summary() LatencySummary {
	if l.h.TotalCount() == 0 {
		return LatencySummary{}
	}
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return LatencySummary{
		Count: l.h.TotalCount(),
		Min:   us(l.h.Min()),
		Max:   us(l.h.Max()),
		Mean:  time.Duration(l.h.Mean() * float64(time.Microsecond)),
		P50:   us(l.h.ValueAtQuantile(50)),
		P95:   us(l.h.ValueAtQuantile(95)),
		P99:   us(l.h.ValueAtQuantile(99)),
	}
}
