// Package monitor holds the live state of every probed target.
//
// A Monitor is the sink of the prober. For each target it owns the window
// aggregator and the in-memory sample and window buffers, and it appends
// every sample and window to storage. Storage failures are logged and
// counted; the data still reaches memory.
package monitor

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/xtxerr/netmon/config"
	"github.com/xtxerr/netmon/internal/constants"
	"github.com/xtxerr/netmon/internal/errors"
	"github.com/xtxerr/netmon/internal/logging"
	"github.com/xtxerr/netmon/internal/storage/aggregate"
	"github.com/xtxerr/netmon/internal/storage/buffer"
	"github.com/xtxerr/netmon/internal/storage/types"
	"github.com/xtxerr/netmon/internal/telemetry"
)

var log = logging.Component("monitor")

// Writer persists samples and windows.
type Writer interface {
	AppendSample(s types.Sample) error
	AppendWindow(w types.MetricsWindow) error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds monitor configuration.
type Config struct {
	// Window is the aggregation window size.
	Window time.Duration

	// MaxAge bounds the age of buffered samples and windows.
	MaxAge time.Duration

	// MaxSamples and MaxWindows bound the buffers per target.
	MaxSamples int
	MaxWindows int
}

// DefaultConfig returns the default monitor configuration for a probe
// interval.
func DefaultConfig(interval time.Duration) Config {
	maxAge := time.Duration(config.DefaultLoadDays) * 24 * time.Hour
	return Config{
		Window:     config.DefaultAggregationWindow,
		MaxAge:     maxAge,
		MaxSamples: SamplesFor(maxAge, interval),
		MaxWindows: config.DefaultMaxWindows,
	}
}

// SamplesFor returns the number of samples a target produces over d at the
// given interval, capped at config.MaxSamplesPerTarget.
func SamplesFor(d, interval time.Duration) int {
	if interval <= 0 {
		interval = config.DefaultProbeInterval
	}
	n := int(d / interval)
	if n > config.MaxSamplesPerTarget {
		n = config.MaxSamplesPerTarget
	}
	if n < 1 {
		n = 1
	}
	return n
}

// =============================================================================
// Monitor
// =============================================================================

// TargetState is the in-memory state of one target.
type TargetState struct {
	Target  string
	Method  string
	Samples *buffer.Ring[types.Sample]
	Windows *buffer.Ring[types.MetricsWindow]

	// agg is only touched by the target's prober worker and by Close.
	agg *aggregate.Aggregator
}

// Monitor fans prober output out to the aggregators, buffers and storage.
type Monitor struct {
	cfg     Config
	writer  Writer
	metrics *telemetry.Metrics
	now     func() time.Time

	// states is built in New and never modified afterwards.
	states  map[string]*TargetState
	targets []string

	samplesSeen    atomic.Int64
	windowsEmitted atomic.Int64
	storageErrors  atomic.Int64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithMetrics records probe and storage telemetry.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(mon *Monitor) { mon.metrics = m }
}

// WithClock replaces the clock used for flushing and live stats.
func WithClock(now func() time.Time) Option {
	return func(mon *Monitor) { mon.now = now }
}

// WithMethods records the probe method of each target for display.
func WithMethods(methods map[string]string) Option {
	return func(mon *Monitor) {
		for target, method := range methods {
			if st, ok := mon.states[target]; ok {
				st.Method = method
			}
		}
	}
}

// New creates a Monitor for the given targets. A nil writer keeps data in
// memory only.
func New(targets []string, w Writer, cfg Config, opts ...Option) *Monitor {
	if cfg.Window <= 0 {
		cfg.Window = config.DefaultAggregationWindow
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Duration(config.DefaultLoadDays) * 24 * time.Hour
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = SamplesFor(cfg.MaxAge, config.DefaultProbeInterval)
	}
	if cfg.MaxWindows <= 0 {
		cfg.MaxWindows = config.DefaultMaxWindows
	}

	m := &Monitor{
		cfg:     cfg,
		writer:  w,
		now:     time.Now,
		states:  make(map[string]*TargetState, len(targets)),
		targets: make([]string, 0, len(targets)),
	}

	for _, t := range targets {
		if _, dup := m.states[t]; dup {
			continue
		}
		m.states[t] = &TargetState{
			Target:  t,
			Method:  constants.ProbeICMP,
			Samples: buffer.New[types.Sample](cfg.MaxSamples, cfg.MaxAge),
			Windows: buffer.New[types.MetricsWindow](cfg.MaxWindows, cfg.MaxAge),
			agg:     aggregate.New(t, cfg.Window),
		}
		m.targets = append(m.targets, t)
	}

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the monitor configuration.
func (m *Monitor) Config() Config {
	return m.cfg
}

// Targets returns the monitored targets in configuration order.
func (m *Monitor) Targets() []string {
	out := make([]string, len(m.targets))
	copy(out, m.targets)
	return out
}

// State returns the state of target.
func (m *Monitor) State(target string) (*TargetState, error) {
	st, ok := m.states[target]
	if !ok {
		return nil, errors.ErrTargetNotFound
	}
	return st, nil
}

// Has reports whether target is monitored.
func (m *Monitor) Has(target string) bool {
	_, ok := m.states[target]
	return ok
}

// =============================================================================
// Sink
// =============================================================================

// Sample records one probe result.
func (m *Monitor) Sample(ctx context.Context, s types.Sample) {
	st, ok := m.states[s.Target]
	if !ok {
		log.Warn("sample for unknown target dropped", "target", s.Target)
		return
	}
	if s.Network == "" {
		s.Network = constants.UnknownNetwork
	}

	m.samplesSeen.Add(1)
	m.metrics.ObserveProbe(s.Target, s.LatencyMs, !s.Lost)

	if m.writer != nil {
		if err := m.writer.AppendSample(s); err != nil {
			m.storageFailed(ctx, constants.ExportRaw, s.Target, s.Network, err)
		}
	}
	st.Samples.Push(s)

	for _, w := range st.agg.Add(s) {
		m.emit(ctx, st, w)
	}
}

// Tick closes the window of target if its boundary has passed and drops
// buffered entries older than MaxAge. The buffers only age out relative to
// their newest entry on push, so a target whose samples stopped arriving
// still expires by wall clock here.
func (m *Monitor) Tick(ctx context.Context, target string, now time.Time) {
	st, ok := m.states[target]
	if !ok {
		return
	}
	for _, w := range st.agg.Tick(now) {
		m.emit(ctx, st, w)
	}

	cutoff := now.Add(-m.cfg.MaxAge)
	if n := st.Samples.EvictOlderThan(cutoff) + st.Windows.EvictOlderThan(cutoff); n > 0 {
		log.Debug("expired buffered entries", "target", target, "count", n)
	}
}

// Close flushes every open window. It must only be called once all
// producers have stopped.
func (m *Monitor) Close(ctx context.Context) {
	now := m.now()
	var flushed int
	for _, t := range m.targets {
		st := m.states[t]
		for _, w := range st.agg.Flush(now) {
			m.emit(ctx, st, w)
			flushed++
		}
	}
	log.Info("monitor flushed", "windows", flushed)
}

// emit persists and buffers one closed window.
func (m *Monitor) emit(ctx context.Context, st *TargetState, w types.MetricsWindow) {
	m.windowsEmitted.Add(1)
	m.metrics.WindowEmitted()

	if m.writer != nil {
		if err := m.writer.AppendWindow(w); err != nil {
			m.storageFailed(ctx, constants.ExportMetrics, w.Target, w.Network, err)
		}
	}
	st.Windows.Push(w)
}

func (m *Monitor) storageFailed(ctx context.Context, kind, target, network string, err error) {
	m.storageErrors.Add(1)
	m.metrics.StorageWriteError(kind)

	ctx = logging.ContextWithTarget(ctx, target)
	ctx = logging.ContextWithNetwork(ctx, network)
	logging.WithContext(ctx).Error("storage append failed",
		"component", "monitor",
		"kind", kind,
		"error", err)
}

// =============================================================================
// Queries
// =============================================================================

// Snapshot is the current view of one target.
type Snapshot struct {
	Target       string               `json:"target"`
	Method       string               `json:"method"`
	LatestSample *types.Sample        `json:"latest_sample"`
	LatestWindow *types.MetricsWindow `json:"latest_window"`
	Live         LiveStats            `json:"live"`
}

// LiveStats summarizes the samples of the most recent window period.
type LiveStats struct {
	Since             time.Time `json:"since"`
	PacketLossPercent float64   `json:"packet_loss_percent"`
	AverageLatency    *float64  `json:"average_latency"`
	Jitter            *float64  `json:"jitter"`
	SampleCount       int       `json:"sample_count"`
}

// Snapshot returns the latest sample and window of target plus live
// statistics over the last window period.
func (m *Monitor) Snapshot(target string) (Snapshot, error) {
	st, err := m.State(target)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Target: target, Method: st.Method}
	if s, ok := st.Samples.PeekNewest(); ok {
		snap.LatestSample = &s
	}
	if w, ok := st.Windows.PeekNewest(); ok {
		snap.LatestWindow = &w
	}

	since := m.now().Add(-m.cfg.Window)
	snap.Live = Live(st.Samples.QueryRange(since, time.Time{}))
	snap.Live.Since = since
	return snap, nil
}

// Live computes live statistics over samples. With no samples the loss is
// 100% and the latency figures are nil.
func Live(samples []types.Sample) LiveStats {
	w, ok := aggregate.Compute(samples)
	if !ok {
		return LiveStats{PacketLossPercent: 100}
	}

	live := LiveStats{
		PacketLossPercent: round2(w.PacketLossPercent),
		SampleCount:       len(samples),
	}
	if w.AverageLatency != nil {
		live.AverageLatency = types.Float(round2(*w.AverageLatency))
		live.Jitter = types.Float(round2(w.Jitter))
	}
	return live
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// SamplesSince returns the buffered samples of target at or after since,
// optionally restricted to one network.
func (m *Monitor) SamplesSince(target, network string, since time.Time) ([]types.Sample, error) {
	st, err := m.State(target)
	if err != nil {
		return nil, err
	}
	return st.Samples.Query(func(s types.Sample) bool {
		return !s.Timestamp.Before(since) && (network == "" || s.Network == network)
	}, 0), nil
}

// WindowsSince returns the buffered windows of target at or after since,
// optionally restricted to one network.
func (m *Monitor) WindowsSince(target, network string, since time.Time) ([]types.MetricsWindow, error) {
	st, err := m.State(target)
	if err != nil {
		return nil, err
	}
	return st.Windows.Query(func(w types.MetricsWindow) bool {
		return !w.Timestamp.Before(since) && (network == "" || w.Network == network)
	}, 0), nil
}

// Horizon returns the oldest buffered sample and window timestamps of
// target. Zero times mean the buffer is empty.
func (m *Monitor) Horizon(target string) (samples, windows time.Time, err error) {
	st, err := m.State(target)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	samples, _ = st.Samples.TimeRange()
	windows, _ = st.Windows.TimeRange()
	return samples, windows, nil
}

// Networks returns the distinct networks seen in memory, sorted.
func (m *Monitor) Networks() []string {
	seen := make(map[string]struct{})
	for _, st := range m.states {
		for _, w := range st.Windows.Snapshot() {
			seen[w.Network] = struct{}{}
		}
		if s, ok := st.Samples.PeekNewest(); ok {
			seen[s.Network] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Statistics
// =============================================================================

// Stats holds monitor statistics.
type Stats struct {
	Targets        int                    `json:"targets"`
	SamplesSeen    int64                  `json:"samples_seen"`
	WindowsEmitted int64                  `json:"windows_emitted"`
	StorageErrors  int64                  `json:"storage_errors"`
	Buffers        map[string]BufferStats `json:"buffers"`
}

// BufferStats holds the buffer usage of one target.
type BufferStats struct {
	Samples buffer.BufferStats `json:"samples"`
	Windows buffer.BufferStats `json:"windows"`
}

// Stats returns monitor statistics.
func (m *Monitor) Stats() Stats {
	s := Stats{
		Targets:        len(m.targets),
		SamplesSeen:    m.samplesSeen.Load(),
		WindowsEmitted: m.windowsEmitted.Load(),
		StorageErrors:  m.storageErrors.Load(),
		Buffers:        make(map[string]BufferStats, len(m.states)),
	}
	for t, st := range m.states {
		s.Buffers[t] = BufferStats{
			Samples: st.Samples.Stats(),
			Windows: st.Windows.Stats(),
		}
	}
	return s
}
