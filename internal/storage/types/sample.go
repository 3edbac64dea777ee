package types

import (
	"encoding/json"
	"time"
)

// Sample represents a single probe attempt.
// This is the primary data unit flowing from the prober to the sinks.
type Sample struct {
	// Timestamp is when the probe was sent, with sub-second precision.
	Timestamp time.Time

	// Target is the probed host as configured.
	Target string

	// Network is the sanitized name of the local network at probe time.
	Network string

	// LatencyMs is the round trip time in milliseconds. Zero when Lost.
	LatencyMs float64

	// Lost is true for timeouts and every kind of transport failure.
	Lost bool
}

// NewSuccess builds a Sample for a reply that arrived.
func NewSuccess(ts time.Time, target, network string, latencyMs float64) Sample {
	return Sample{Timestamp: ts, Target: target, Network: network, LatencyMs: latencyMs}
}

// NewLoss builds a Sample for a probe that got no reply.
func NewLoss(ts time.Time, target, network string) Sample {
	return Sample{Timestamp: ts, Target: target, Network: network, Lost: true}
}

// Time returns the sample timestamp. It orders samples in buffers.
func (s Sample) Time() time.Time {
	return s.Timestamp
}

// Latency returns the latency and whether the sample was a success.
func (s Sample) Latency() (float64, bool) {
	if s.Lost {
		return 0, false
	}
	return s.LatencyMs, true
}

// MarshalJSON renders lost samples with a null latency.
func (s Sample) MarshalJSON() ([]byte, error) {
	var latency *float64
	if !s.Lost {
		v := s.LatencyMs
		latency = &v
	}
	return json.Marshal(struct {
		Timestamp time.Time `json:"timestamp"`
		Target    string    `json:"target"`
		Network   string    `json:"network"`
		LatencyMs *float64  `json:"latency_ms"`
	}{s.Timestamp, s.Target, s.Network, latency})
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (s *Sample) UnmarshalJSON(data []byte) error {
	var v struct {
		Timestamp time.Time `json:"timestamp"`
		Target    string    `json:"target"`
		Network   string    `json:"network"`
		LatencyMs *float64  `json:"latency_ms"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Sample{Timestamp: v.Timestamp, Target: v.Target, Network: v.Network}
	if v.LatencyMs == nil {
		s.Lost = true
	} else {
		s.LatencyMs = *v.LatencyMs
	}
	return nil
}
