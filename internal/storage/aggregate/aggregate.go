// Package aggregate turns raw probe samples into windowed quality metrics
// and re-aggregates stored windows into daily summaries.
package aggregate

import (
	"math"
	"time"

	"github.com/xtxerr/netmon/internal/storage/types"
)

// Compute calculates the quality statistics of a set of samples.
//
// Latency statistics cover successful samples only. The returned window
// carries the target and network of the first sample and the timestamp of
// the last one; callers that close windows on a boundary overwrite it.
// Returns false when samples is empty.
func Compute(samples []types.Sample) (types.MetricsWindow, bool) {
	if len(samples) == 0 {
		return types.MetricsWindow{}, false
	}

	w := types.MetricsWindow{
		Timestamp:   samples[len(samples)-1].Timestamp,
		Target:      samples[0].Target,
		Network:     samples[0].Network,
		SampleCount: len(samples),
	}

	var (
		lost     int
		count    int
		sum      float64
		lo       = math.MaxFloat64
		hi       = -math.MaxFloat64
		prev     float64
		diffSum  float64
		havePrev bool
	)

	for i := range samples {
		latency, ok := samples[i].Latency()
		if !ok {
			lost++
			continue
		}

		count++
		sum += latency
		if latency < lo {
			lo = latency
		}
		if latency > hi {
			hi = latency
		}

		if havePrev {
			diffSum += math.Abs(latency - prev)
		}
		prev = latency
		havePrev = true
	}

	w.PacketLossPercent = 100 * float64(lost) / float64(len(samples))

	if count == 0 {
		return w, true
	}

	avg := sum / float64(count)
	w.AverageLatency = types.Float(avg)
	w.MinLatency = types.Float(lo)
	w.MaxLatency = types.Float(hi)

	if count >= 2 {
		w.Jitter = diffSum / float64(count-1)

		var sq float64
		for i := range samples {
			if latency, ok := samples[i].Latency(); ok {
				d := latency - avg
				sq += d * d
			}
		}
		w.StdDeviation = math.Sqrt(sq / float64(count))
	}

	return w, true
}

// Aggregator accumulates the samples of one target into time windows.
//
// Windows are aligned to wall-clock multiples of the window size counted
// from the Unix epoch. A change of network closes the open window early.
// An Aggregator is not safe for concurrent use; it belongs to the goroutine
// that probes its target.
type Aggregator struct {
	target string
	size   time.Duration

	open    bool
	start   time.Time
	end     time.Time
	network string
	samples []types.Sample

	// closedUntil is the close instant of the last window. Windows never
	// reopen before it.
	closedUntil time.Time

	emitted int64
}

// New creates an Aggregator for target with the given window size.
func New(target string, size time.Duration) *Aggregator {
	if size <= 0 {
		size = time.Minute
	}
	return &Aggregator{
		target: target,
		size:   size,
	}
}

// Add records a sample and returns any windows that closed because of it.
func (a *Aggregator) Add(s types.Sample) []types.MetricsWindow {
	var out []types.MetricsWindow

	if a.open && !s.Timestamp.Before(a.end) {
		out = a.closeAt(a.end, out)
	}

	// A network change closes the window early. The closed window keeps
	// a.network, the network its samples were recorded under, so it lands
	// in the same directory as their raw rows; s opens the next window.
	if a.open && s.Network != a.network {
		if len(a.samples) > 0 {
			at := s.Timestamp
			if at.Before(a.start) {
				at = a.start
			}
			out = a.closeAt(at, out)
		} else {
			a.network = s.Network
		}
	}

	if !a.open {
		a.openFor(s.Timestamp, s.Network)
	}

	a.samples = append(a.samples, s)
	return out
}

// Tick closes the open window if now has reached its end.
func (a *Aggregator) Tick(now time.Time) []types.MetricsWindow {
	if !a.open || now.Before(a.end) {
		return nil
	}
	return a.closeAt(a.end, nil)
}

// Flush closes whatever window is open, at now or at the window end if
// that comes first.
func (a *Aggregator) Flush(now time.Time) []types.MetricsWindow {
	if !a.open {
		return nil
	}
	at := a.end
	if now.Before(at) {
		at = now
	}
	return a.closeAt(at, nil)
}

// NextBoundary returns the first window boundary strictly after t.
func (a *Aggregator) NextBoundary(t time.Time) time.Time {
	return NextBoundary(t, a.size)
}

// Pending returns the number of samples in the open window.
func (a *Aggregator) Pending() int {
	return len(a.samples)
}

// Network returns the network of the open window.
func (a *Aggregator) Network() string {
	return a.network
}

// Emitted returns the number of windows emitted so far.
func (a *Aggregator) Emitted() int64 {
	return a.emitted
}

// Size returns the window size.
func (a *Aggregator) Size() time.Duration {
	return a.size
}

func (a *Aggregator) openFor(ts time.Time, network string) {
	start := Boundary(ts, a.size)
	if start.Before(a.closedUntil) {
		start = a.closedUntil
	}
	a.start = start
	a.end = NextBoundary(start, a.size)
	a.network = network
	a.samples = a.samples[:0]
	a.open = true
}

func (a *Aggregator) closeAt(at time.Time, out []types.MetricsWindow) []types.MetricsWindow {
	w, ok := Compute(a.samples)
	if ok {
		w.Timestamp = at
		w.Target = a.target
		w.Network = a.network
		out = append(out, w)
		a.emitted++
	}

	a.open = false
	a.closedUntil = at
	a.samples = a.samples[:0]
	return out
}

// Boundary returns the window start at or before t.
func Boundary(t time.Time, size time.Duration) time.Time {
	ns := t.UnixNano()
	step := int64(size)
	floor := ns - ns%step
	if ns < 0 && ns%step != 0 {
		floor -= step
	}
	return time.Unix(0, floor).In(t.Location())
}

// NextBoundary returns the first window boundary strictly after t.
func NextBoundary(t time.Time, size time.Duration) time.Time {
	return Boundary(t, size).Add(size)
}
