package testing

import (
	"sync"
	"time"

	"github.com/xtxerr/netmon/internal/storage/types"
)

// =============================================================================
// Clock
// =============================================================================

// Clock is a manually advanced clock. Its Now method can be passed to the
// WithClock options of the packages under test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a Clock set to t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// =============================================================================
// Fixtures
// =============================================================================

// Day returns midnight UTC of the given date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Samples builds n samples for target spaced by step, starting at start.
// Every lossEvery-th sample is lost; zero means none. Latencies count up
// from 10ms.
func Samples(target, network string, start time.Time, step time.Duration, n, lossEvery int) []types.Sample {
	out := make([]types.Sample, 0, n)
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * step)
		if lossEvery > 0 && (i+1)%lossEvery == 0 {
			out = append(out, types.NewLoss(ts, target, network))
			continue
		}
		out = append(out, types.NewSuccess(ts, target, network, float64(10+i)))
	}
	return out
}

// Window builds a MetricsWindow closing at ts with the given averages.
func Window(target, network string, ts time.Time, avg, jitter, loss float64) types.MetricsWindow {
	return types.MetricsWindow{
		Timestamp:         ts,
		Target:            target,
		Network:           network,
		PacketLossPercent: loss,
		AverageLatency:    types.Float(avg),
		MinLatency:        types.Float(avg / 2),
		MaxLatency:        types.Float(avg * 2),
		Jitter:            jitter,
		SampleCount:       60,
	}
}
