// Package prober measures targets at a fixed cadence.
//
// Every target gets its own worker goroutine with its own ticker, so a slow
// or unreachable target never delays another. Each tick produces exactly
// one Sample, handed synchronously to the Sink before the next tick.
//
// Key features:
//   - Jitter on the first probe to prevent thundering herd
//   - Window ticks aligned to wall-clock boundaries
//   - Panic recovery around every probe
//   - Graceful shutdown with drain timeout
package prober

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/netmon/config"
	"github.com/xtxerr/netmon/internal/errors"
	"github.com/xtxerr/netmon/internal/logging"
	"github.com/xtxerr/netmon/internal/storage/aggregate"
	"github.com/xtxerr/netmon/internal/storage/types"
)

var log = logging.Component("prober")

// =============================================================================
// Interfaces
// =============================================================================

// NetworkSource reports the current network name.
type NetworkSource interface {
	Current(ctx context.Context) string
}

// Sink consumes the output of the workers.
//
// Sample and Tick for one target are only ever called from that target's
// worker. Close is called once, after every worker has returned.
type Sink interface {
	Sample(ctx context.Context, s types.Sample)
	Tick(ctx context.Context, target string, now time.Time)
	Close(ctx context.Context)
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds prober configuration.
type Config struct {
	// Window is the aggregation window size. Workers tick at its boundaries.
	Window time.Duration

	// Jitter delays each worker's first probe by a random fraction of its
	// interval.
	Jitter bool

	// DrainTimeout is how long to wait for in-flight probes during shutdown.
	DrainTimeout time.Duration
}

// DefaultConfig returns default prober configuration.
func DefaultConfig() Config {
	return Config{
		Window:       config.DefaultAggregationWindow,
		Jitter:       true,
		DrainTimeout: config.DefaultDrainTimeout,
	}
}

// =============================================================================
// Prober
// =============================================================================

// Prober runs one worker per target.
type Prober struct {
	targets []Target
	probe   Probe
	network NetworkSource
	sink    Sink
	cfg     Config
	now     func() time.Time

	stats map[string]*targetStats

	cancel    context.CancelFunc
	group     *errgroup.Group
	running   atomic.Bool
	closeOnce sync.Once

	// Worker tracking for graceful drain
	activeProbes atomic.Int32
}

// Option configures a Prober.
type Option func(*Prober)

// WithClock replaces the clock used for sample timestamps and window ticks.
func WithClock(now func() time.Time) Option {
	return func(p *Prober) { p.now = now }
}

// New creates a Prober. Targets must have a positive interval and timeout.
func New(targets []Target, probe Probe, network NetworkSource, sink Sink, cfg Config, opts ...Option) *Prober {
	if cfg.Window <= 0 {
		cfg.Window = config.DefaultAggregationWindow
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = config.DefaultDrainTimeout
	}

	capped := make([]Target, len(targets))
	for i, t := range targets {
		if budget := ProbeBudget(t); t.Interval > 0 && t.Timeout > budget {
			log.Warn("probe timeout capped to fit the interval",
				"target", t.Host,
				"interval", t.Interval,
				"timeout", t.Timeout,
				"capped", budget)
			t.Timeout = budget
		}
		capped[i] = t
	}

	p := &Prober{
		targets: capped,
		probe:   probe,
		network: network,
		sink:    sink,
		cfg:     cfg,
		now:     time.Now,
		stats:   make(map[string]*targetStats, len(targets)),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, t := range capped {
		p.stats[t.Host] = &targetStats{target: t}
	}
	return p
}

// ProbeBudget returns the longest timeout a probe of t may use without the
// ticker dropping the next tick. A tenth of the interval is kept for handing
// the sample to the sink.
func ProbeBudget(t Target) time.Duration {
	return t.Interval - t.Interval/10
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start launches one worker per target.
func (p *Prober) Start(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}

	ctx, p.cancel = context.WithCancel(ctx)

	for _, t := range p.targets {
		if t.Interval <= 0 || t.Timeout <= 0 {
			p.cancel()
			p.running.Store(false)
			return fmt.Errorf("target %s: %w", t.Host, errors.ErrInvalidInterval)
		}
	}

	p.group = &errgroup.Group{}
	for _, t := range p.targets {
		st := p.stats[t.Host]
		p.group.Go(func() error {
			p.worker(ctx, t, st)
			return nil
		})
	}

	log.Info("prober started", "targets", len(p.targets), "window", p.cfg.Window)
	return nil
}

// Stop stops the prober gracefully, waiting for in-flight probes.
// Uses the configured drain timeout.
func (p *Prober) Stop() {
	_ = p.StopWithContext(context.Background())
}

// StopWithContext stops all workers, waits for in-flight probes and sink
// calls, then closes the sink so open windows are flushed. The drain
// timeout from config is still respected as a maximum. When the drain
// times out the sink is not closed, since workers may still be using it.
func (p *Prober) StopWithContext(ctx context.Context) error {
	if !p.running.CompareAndSwap(true, false) {
		return errors.ErrNotRunning
	}

	log.Info("prober stopping")
	p.cancel()

	drainCtx, cancel := context.WithTimeout(ctx, p.cfg.DrainTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-drainCtx.Done():
		log.Warn("prober drain timeout", "active_probes", p.activeProbes.Load())
		return errors.Wrap(errors.ErrTimeout, "drain")
	}

	p.closeOnce.Do(func() {
		p.sink.Close(ctx)
	})

	log.Info("prober stopped gracefully")
	return nil
}

// Running returns true between Start and Stop.
func (p *Prober) Running() bool {
	return p.running.Load()
}

// Targets returns the probed targets.
func (p *Prober) Targets() []Target {
	out := make([]Target, len(p.targets))
	copy(out, p.targets)
	return out
}

// =============================================================================
// Worker
// =============================================================================

func (p *Prober) worker(ctx context.Context, t Target, st *targetStats) {
	if p.cfg.Jitter {
		delay := time.Duration(rand.Int63n(int64(t.Interval)))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	now := p.now()
	window := time.NewTimer(aggregate.NextBoundary(now, p.cfg.Window).Sub(now))
	defer window.Stop()

	log.Debug("worker started", "target", t.Host, "interval", t.Interval)

	p.probeOnce(ctx, t, st)

	for {
		// Shutdown wins over a tick that became ready at the same time.
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			p.probeOnce(ctx, t, st)

		case <-window.C:
			now := p.now()
			p.sink.Tick(ctx, t.Host, now)
			window.Reset(aggregate.NextBoundary(now, p.cfg.Window).Sub(now))
		}
	}
}

// probeOnce measures t and hands exactly one Sample to the sink.
func (p *Prober) probeOnce(ctx context.Context, t Target, st *targetStats) {
	ts := p.now()
	network := p.network.Current(ctx)

	result := p.executeWithRecovery(ctx, t)

	var sample types.Sample
	if result.OK {
		sample = types.NewSuccess(ts, t.Host, network, result.LatencyMs)
	} else {
		sample = types.NewLoss(ts, t.Host, network)
		log.Debug("probe lost", "target", t.Host, "error", result.Err)
	}

	st.record(sample)
	p.sink.Sample(ctx, sample)
}

// executeWithRecovery runs one probe with a timeout and panic recovery.
// The probe is not cut short by shutdown; the drain waits for it instead.
func (p *Prober) executeWithRecovery(ctx context.Context, t Target) (result Result) {
	p.activeProbes.Add(1)

	defer func() {
		p.activeProbes.Add(-1)

		if r := recover(); r != nil {
			log.Error("panic in probe execution",
				"target", t.Host,
				"panic", r)
			result = Failure(fmt.Errorf("panic: %v", r))
		}
	}()

	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.Timeout)
	defer cancel()

	result = p.probe.Probe(probeCtx, t)
	if result.OK && probeCtx.Err() != nil {
		// A reply that arrives after the deadline is a loss.
		result = Failure(errors.ErrTimeout)
	}
	return result
}

// =============================================================================
// Statistics
// =============================================================================

type targetStats struct {
	target Target

	probes atomic.Int64
	losses atomic.Int64

	mu          sync.Mutex
	lastSample  time.Time
	lastLatency *float64
}

func (s *targetStats) record(sample types.Sample) {
	s.probes.Add(1)
	if sample.Lost {
		s.losses.Add(1)
	}

	s.mu.Lock()
	s.lastSample = sample.Timestamp
	if v, ok := sample.Latency(); ok {
		s.lastLatency = &v
	} else {
		s.lastLatency = nil
	}
	s.mu.Unlock()
}

// TargetStats holds per-target statistics.
type TargetStats struct {
	Target        string    `json:"target"`
	Method        string    `json:"method"`
	ProbesSent    int64     `json:"probes_sent"`
	Losses        int64     `json:"losses"`
	LastSample    time.Time `json:"last_sample"`
	LastLatencyMs *float64  `json:"last_latency_ms"`
}

// Stats returns per-target statistics in target order.
func (p *Prober) Stats() []TargetStats {
	out := make([]TargetStats, 0, len(p.targets))
	for _, t := range p.targets {
		s := p.stats[t.Host]
		s.mu.Lock()
		ts := TargetStats{
			Target:        t.Host,
			Method:        t.Method,
			ProbesSent:    s.probes.Load(),
			Losses:        s.losses.Load(),
			LastSample:    s.lastSample,
			LastLatencyMs: s.lastLatency,
		}
		s.mu.Unlock()
		out = append(out, ts)
	}
	return out
}

// ActiveProbeCount returns the number of probes currently running.
func (p *Prober) ActiveProbeCount() int {
	return int(p.activeProbes.Load())
}
