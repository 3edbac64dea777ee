// Package history warms the in-memory buffers from the log tree at startup.
//
// For each target the most recent days are read newest day first until
// the per-target caps are reached, then pushed into the buffers oldest
// first so they stay time-ordered. Rows from every network are merged by
// timestamp. Memory use is bounded by the caps regardless of how much
// history is on disk.
package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/netmon/config"
	"github.com/xtxerr/netmon/internal/errors"
	"github.com/xtxerr/netmon/internal/logging"
	"github.com/xtxerr/netmon/internal/monitor"
	"github.com/xtxerr/netmon/internal/storage/layout"
	"github.com/xtxerr/netmon/internal/storage/types"
	"github.com/xtxerr/netmon/internal/telemetry"
)

var log = logging.Component("history")

// Source reads persisted rows.
type Source interface {
	Networks() ([]string, error)
	ReadSamples(network, target string, date time.Time) ([]types.Sample, error)
	ReadWindows(network, target string, date time.Time) ([]types.MetricsWindow, error)
}

// Destination holds the buffers to fill.
type Destination interface {
	Targets() []string
	State(target string) (*monitor.TargetState, error)
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds loader configuration.
type Config struct {
	// Days is how far back to load, measured from now.
	Days int

	// MaxSamples and MaxWindows cap the rows loaded per target.
	MaxSamples int
	MaxWindows int

	// Concurrency is the number of targets loaded at once.
	Concurrency int
}

// DefaultConfig returns default loader configuration.
func DefaultConfig() Config {
	return Config{
		Days:        config.DefaultLoadDays,
		MaxSamples:  config.MaxSamplesPerTarget,
		MaxWindows:  config.DefaultMaxWindows,
		Concurrency: config.DefaultHistoryConcurrency,
	}
}

// Result summarizes one load.
type Result struct {
	Targets        int           `json:"targets"`
	SamplesLoaded  int           `json:"samples_loaded"`
	WindowsLoaded  int           `json:"windows_loaded"`
	SamplesSkipped int           `json:"samples_skipped"`
	WindowsSkipped int           `json:"windows_skipped"`
	FilesRead      int           `json:"files_read"`
	Errors         []error       `json:"-"`
	Duration       time.Duration `json:"duration"`
}

// =============================================================================
// Loader
// =============================================================================

// Loader fills monitor buffers from storage.
type Loader struct {
	src     Source
	cfg     Config
	now     func() time.Time
	metrics *telemetry.Metrics
}

// Option configures a Loader.
type Option func(*Loader)

// WithClock replaces the clock that anchors the load horizon.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

// WithMetrics counts loaded rows.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// New creates a Loader.
func New(src Source, cfg Config, opts ...Option) *Loader {
	def := DefaultConfig()
	if cfg.Days <= 0 {
		cfg.Days = def.Days
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = def.MaxSamples
	}
	if cfg.MaxWindows <= 0 {
		cfg.MaxWindows = def.MaxWindows
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}

	l := &Loader{src: src, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads recent history of every target of dst into its buffers.
// Corrupt or unreadable files are logged and skipped; their errors are
// collected in the result. Load only fails when ctx is cancelled.
func (l *Loader) Load(ctx context.Context, dst Destination) (Result, error) {
	start := time.Now()

	networks, err := l.src.Networks()
	if err != nil {
		return Result{}, errors.Wrap(err, "list networks")
	}

	targets := dst.Targets()
	res := Result{Targets: len(targets)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)

	for _, target := range targets {
		st, err := dst.State(target)
		if err != nil {
			continue
		}
		g.Go(func() error {
			tr, err := l.loadTarget(gctx, st, networks)

			mu.Lock()
			res.SamplesLoaded += tr.SamplesLoaded
			res.WindowsLoaded += tr.WindowsLoaded
			res.SamplesSkipped += tr.SamplesSkipped
			res.WindowsSkipped += tr.WindowsSkipped
			res.FilesRead += tr.FilesRead
			res.Errors = append(res.Errors, tr.Errors...)
			mu.Unlock()

			return err
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}

	res.Duration = time.Since(start)
	l.metrics.HistoryLoaded("raw", res.SamplesLoaded)
	l.metrics.HistoryLoaded("metrics", res.WindowsLoaded)

	log.Info("history loaded",
		"targets", res.Targets,
		"networks", len(networks),
		"samples", res.SamplesLoaded,
		"windows", res.WindowsLoaded,
		"skipped_samples", res.SamplesSkipped,
		"skipped_windows", res.WindowsSkipped,
		"files", res.FilesRead,
		"errors", len(res.Errors),
		"duration", res.Duration)

	return res, nil
}

// loadTarget fills the buffers of one target. It is the only writer of
// those buffers while it runs.
func (l *Loader) loadTarget(ctx context.Context, st *monitor.TargetState, networks []string) (Result, error) {
	var res Result

	now := l.now()
	horizon := now.Add(-time.Duration(l.cfg.Days) * 24 * time.Hour)
	days := daysNewestFirst(horizon, now)

	samples := newCollector[types.Sample](l.cfg.MaxSamples, horizon)
	windows := newCollector[types.MetricsWindow](l.cfg.MaxWindows, horizon)

	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if samples.full() && windows.full() {
			break
		}

		var daySamples []types.Sample
		var dayWindows []types.MetricsWindow

		for _, network := range networks {
			if !samples.full() {
				rows, err := l.src.ReadSamples(network, st.Target, day)
				if err != nil {
					res.Errors = append(res.Errors, err)
					log.Warn("skipping unreadable raw file",
						"target", st.Target, "network", network,
						"date", layout.FormatDate(day), "error", err)
				}
				if len(rows) > 0 {
					res.FilesRead++
					daySamples = append(daySamples, rows...)
				}
			}

			if !windows.full() {
				rows, err := l.src.ReadWindows(network, st.Target, day)
				if err != nil {
					res.Errors = append(res.Errors, err)
					log.Warn("skipping unreadable metrics file",
						"target", st.Target, "network", network,
						"date", layout.FormatDate(day), "error", err)
				}
				if len(rows) > 0 {
					res.FilesRead++
					dayWindows = append(dayWindows, rows...)
				}
			}
		}

		samples.addDay(daySamples)
		windows.addDay(dayWindows)
	}

	for _, s := range samples.oldestFirst() {
		if st.Samples.Push(s) {
			res.SamplesLoaded++
		} else {
			res.SamplesSkipped++
		}
	}
	for _, w := range windows.oldestFirst() {
		if st.Windows.Push(w) {
			res.WindowsLoaded++
		} else {
			res.WindowsSkipped++
		}
	}
	res.SamplesSkipped += samples.skipped
	res.WindowsSkipped += windows.skipped

	log.Debug("target history loaded",
		"target", st.Target,
		"samples", res.SamplesLoaded,
		"windows", res.WindowsLoaded)

	return res, nil
}

// daysNewestFirst returns the UTC dates from now back to horizon.
func daysNewestFirst(horizon, now time.Time) []time.Time {
	first := layout.Date(horizon)
	var days []time.Time
	for d := layout.Date(now); !d.Before(first); d = d.AddDate(0, 0, -1) {
		days = append(days, d)
	}
	return days
}

// =============================================================================
// Collector
// =============================================================================

type timed interface {
	Time() time.Time
}

// collector gathers rows day by day, newest day first, up to a cap.
type collector[T timed] struct {
	limit   int
	horizon time.Time
	days    [][]T
	count   int
	skipped int
}

func newCollector[T timed](limit int, horizon time.Time) *collector[T] {
	return &collector[T]{limit: limit, horizon: horizon}
}

func (c *collector[T]) full() bool {
	return c.count >= c.limit
}

// addDay keeps the newest rows of one day that are inside the horizon and
// fit under the cap. Everything else is counted as skipped.
func (c *collector[T]) addDay(rows []T) {
	if len(rows) == 0 {
		return
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Time().Before(rows[j].Time())
	})

	first := sort.Search(len(rows), func(i int) bool {
		return !rows[i].Time().Before(c.horizon)
	})
	c.skipped += first
	rows = rows[first:]

	if room := c.limit - c.count; len(rows) > room {
		c.skipped += len(rows) - room
		rows = rows[len(rows)-room:]
	}
	if len(rows) == 0 {
		return
	}

	c.days = append(c.days, rows)
	c.count += len(rows)
}

// oldestFirst returns the collected rows in time order.
func (c *collector[T]) oldestFirst() []T {
	out := make([]T, 0, c.count)
	for i := len(c.days) - 1; i >= 0; i-- {
		out = append(out, c.days[i]...)
	}
	return out
}
