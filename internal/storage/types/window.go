package types

import "time"

// MetricsWindow holds the quality statistics of one target over one
// aggregation window. It is immutable once emitted.
type MetricsWindow struct {
	// Timestamp is the instant the window closed.
	Timestamp time.Time `json:"timestamp"`

	Network string `json:"network"`
	Target  string `json:"target"`

	// PacketLossPercent is 100 * lost / total.
	PacketLossPercent float64 `json:"packet_loss_percent"`

	// Latency statistics over successful samples only. Nil when every
	// sample in the window was lost.
	AverageLatency *float64 `json:"average_latency"`
	MinLatency     *float64 `json:"min_latency"`
	MaxLatency     *float64 `json:"max_latency"`

	// Jitter is the mean absolute difference between consecutive
	// successful latencies, 0 with fewer than two successes.
	Jitter float64 `json:"jitter"`

	// StdDeviation is the population standard deviation of successful
	// latencies, 0 with fewer than two successes.
	StdDeviation float64 `json:"std_deviation"`

	// SampleCount is the number of samples that made up the window.
	// It is not persisted and is zero for windows read from storage.
	SampleCount int `json:"sample_count,omitempty"`
}

// Time returns the window close timestamp. It orders windows in buffers.
func (w MetricsWindow) Time() time.Time {
	return w.Timestamp
}

// HasLatency returns true if the window saw at least one reply.
func (w MetricsWindow) HasLatency() bool {
	return w.AverageLatency != nil
}

// Float returns a pointer to a copy of v.
func Float(v float64) *float64 {
	return &v
}
