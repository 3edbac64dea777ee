// Package config provides configuration defaults and utilities
// for the netmon application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command line flags.
package config

import "time"

// =============================================================================
// Server Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default HTTP API listen address.
	// Override via config: listen
	DefaultListenAddress = "127.0.0.1:8000"

	// DefaultReadTimeout bounds reading a single API request.
	DefaultReadTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds writing a single API response. CSV exports
	// of a full three-day buffer fit comfortably inside it.
	DefaultWriteTimeout = 60 * time.Second
)

// =============================================================================
// Probe Defaults
// =============================================================================

const (
	// DefaultProbeInterval is the time between two probes of the same target.
	// Override via config: probe.interval (or per target)
	DefaultProbeInterval = time.Second

	// DefaultProbeTimeout is how long a probe waits for a reply before the
	// attempt is recorded as loss. It may not exceed the interval; the
	// prober further trims it to 90% of the interval.
	// Override via config: probe.timeout (or per target)
	DefaultProbeTimeout = time.Second

	// DefaultTCPPort is used by tcp probes that do not name a port.
	DefaultTCPPort = 443
)

// DefaultTargets are monitored when neither the config file nor the command
// line names any.
var DefaultTargets = []string{"1.1.1.1", "8.8.8.8", "9.9.9.9"}

// =============================================================================
// Aggregation Defaults
// =============================================================================

const (
	// DefaultAggregationWindow is the size of one metrics window.
	// Windows are aligned to multiples of this duration since the Unix epoch.
	// Override via config: aggregation.window
	DefaultAggregationWindow = 60 * time.Second

	// DefaultSketchAccuracy is the relative accuracy of summary percentiles.
	DefaultSketchAccuracy = 0.01
)

// =============================================================================
// Network Detection Defaults
// =============================================================================

const (
	// DefaultNetworkRefresh is how often the local network name is detected.
	// Override via config: network.refresh
	DefaultNetworkRefresh = 30 * time.Second

	// DefaultDetectTimeout bounds a single detection shell-out.
	DefaultDetectTimeout = 5 * time.Second

	// MaxNetworkNameLength is the longest sanitized network name.
	MaxNetworkNameLength = 50
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultStorageDir is the root of the per-network log hierarchy.
	// Override via config: storage.dir
	DefaultStorageDir = "logs"

	// DefaultArchiveDir holds Parquet archives of expired metrics files.
	// It sits next to the storage root so it is never listed as a network.
	// Override via config: retention.archive_dir
	DefaultArchiveDir = "archive"

	// DefaultRetentionDays is how many days of CSV logs cleanup keeps.
	// Override via config: retention.days
	DefaultRetentionDays = 30

	// MinRetentionDays is the smallest retention the cleanup endpoint accepts.
	MinRetentionDays = 7

	// DefaultRetentionHour is the local hour the automatic cleanup runs at.
	DefaultRetentionHour = 5
)

// =============================================================================
// Memory Defaults
// =============================================================================

const (
	// DefaultLoadDays is how many days of history are warm-loaded at startup
	// and the maximum age of entries in the in-memory buffers.
	// Override via config: memory.load_days
	DefaultLoadDays = 3

	// MaxSamplesPerTarget caps the raw sample buffer of a single target.
	// Override via config: memory.max_samples
	MaxSamplesPerTarget = 300000

	// DefaultMaxWindows caps the metrics window buffer of a single target.
	// Override via config: memory.max_windows
	DefaultMaxWindows = 10000

	// DefaultHistoryConcurrency is how many targets load history in parallel.
	// Override via config: history.concurrency
	DefaultHistoryConcurrency = 4
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultDrainTimeout is how long to wait for in-flight probes and
	// appends during shutdown.
	// Override via config: shutdown.drain_timeout
	DefaultDrainTimeout = 30 * time.Second
)

// =============================================================================
// API Defaults
// =============================================================================

const (
	// DefaultHistoryDays is the default "days" of the history endpoint.
	DefaultHistoryDays = 7

	// DefaultSummaryDays is the default "days" of the summary endpoint.
	DefaultSummaryDays = 30

	// DefaultCompareDays is the default "days" of the compare endpoint.
	DefaultCompareDays = 7

	// MaxQueryDays is the largest "days" any endpoint accepts.
	MaxQueryDays = 365
)
