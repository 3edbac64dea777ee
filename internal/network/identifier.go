// Package network identifies the local network the host is attached to.
//
// The identity is the sanitized SSID of the active wireless connection, or
// "unknown" when there is none or detection fails. Measurements are
// partitioned by it on disk.
package network

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/netmon/config"
	"github.com/xtxerr/netmon/internal/constants"
	"github.com/xtxerr/netmon/internal/logging"
)

var log = logging.Component("network")

// Identifier caches the current network name and refreshes it at a bounded
// cadence. Concurrent refreshes collapse into one detection.
type Identifier struct {
	detector      Detector
	refresh       time.Duration
	detectTimeout time.Duration
	now           func() time.Time
	onError       func(error)

	group singleflight.Group

	mu        sync.RWMutex
	current   string
	lastCheck time.Time
	detected  bool

	detections atomic.Int64
	failures   atomic.Int64
}

// Option configures an Identifier.
type Option func(*Identifier)

// WithClock replaces the clock used for the refresh cadence.
func WithClock(now func() time.Time) Option {
	return func(i *Identifier) { i.now = now }
}

// WithDetectTimeout bounds a single detection.
func WithDetectTimeout(d time.Duration) Option {
	return func(i *Identifier) { i.detectTimeout = d }
}

// WithErrorHook is called for every failed detection.
func WithErrorHook(fn func(error)) Option {
	return func(i *Identifier) { i.onError = fn }
}

// NewIdentifier creates an Identifier that re-detects at most once per
// refresh interval.
func NewIdentifier(d Detector, refresh time.Duration, opts ...Option) *Identifier {
	if refresh <= 0 {
		refresh = config.DefaultNetworkRefresh
	}
	i := &Identifier{
		detector:      d,
		refresh:       refresh,
		detectTimeout: config.DefaultDetectTimeout,
		now:           time.Now,
		current:       constants.UnknownNetwork,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Current returns the network name, detecting it when the cached value is
// older than the refresh interval. It never fails; detection problems
// yield the previous value, or "unknown" before the first success.
func (i *Identifier) Current(ctx context.Context) string {
	i.mu.RLock()
	fresh := i.detected && i.now().Sub(i.lastCheck) < i.refresh
	current := i.current
	i.mu.RUnlock()

	if fresh {
		return current
	}
	return i.Refresh(ctx)
}

// Refresh forces a detection and returns the resulting name.
func (i *Identifier) Refresh(ctx context.Context) string {
	v, _, _ := i.group.Do("detect", func() (any, error) {
		return i.detect(ctx), nil
	})
	return v.(string)
}

// Last returns the cached name without detecting.
func (i *Identifier) Last() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.current
}

// Stats returns the number of detections and failed detections.
func (i *Identifier) Stats() (detections, failures int64) {
	return i.detections.Load(), i.failures.Load()
}

func (i *Identifier) detect(ctx context.Context) string {
	dctx := ctx
	if i.detectTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, i.detectTimeout)
		defer cancel()
	}

	raw, err := i.detector.Detect(dctx)
	i.detections.Add(1)

	i.mu.Lock()
	defer i.mu.Unlock()

	i.lastCheck = i.now()
	i.detected = true

	if err != nil {
		i.failures.Add(1)
		log.Warn("network detection failed", "error", err, "keeping", i.current)
		if i.onError != nil {
			i.onError(err)
		}
		return i.current
	}

	name := Sanitize(raw)
	if name != i.current {
		log.Info("network changed", "from", i.current, "to", name)
		i.current = name
	}
	return name
}
