// Package loader - Configuration Types
//
// Defines the YAML configuration structure for netmond.
//
//	listen:       HTTP API address
//	targets:      hosts to probe, plain or with per-target settings
//	probe:        default interval, timeout and method
//	aggregation:  metrics window size
//	network:      detection cadence or a pinned network name
//	storage:      log tree root
//	retention:    cleanup horizon, scheduling and archiving
//	memory:       in-memory buffer bounds and warm-load horizon
//	history:      warm-load parallelism
//	shutdown:     drain behavior
//	logging:      level and format
package loader

import (
	"strconv"
	"time"

	"github.com/xtxerr/netmon/config"
	"github.com/xtxerr/netmon/internal/constants"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure for netmond.
type Config struct {
	// Listen is the HTTP API listen address.
	// Format: "host:port" or ":port"
	// Default: "127.0.0.1:8000"
	Listen string `yaml:"listen"`

	// Targets lists the monitored hosts. Each entry is either a plain host
	// string or a mapping with per-target overrides.
	Targets []TargetConfig `yaml:"targets"`

	Probe       ProbeConfig       `yaml:"probe"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Network     NetworkConfig     `yaml:"network"`
	Storage     StorageConfig     `yaml:"storage"`
	Retention   RetentionConfig   `yaml:"retention"`
	Memory      MemoryConfig      `yaml:"memory"`
	History     HistoryConfig     `yaml:"history"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// =============================================================================
// Targets
// =============================================================================

// TargetConfig configures one target. Zero fields inherit from probe.
type TargetConfig struct {
	Host     string   `yaml:"host"`
	Method   string   `yaml:"method,omitempty"`
	Port     int      `yaml:"port,omitempty"`
	Interval Duration `yaml:"interval,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler. A scalar is the host.
func (t *TargetConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var host string
	if err := unmarshal(&host); err == nil {
		*t = TargetConfig{Host: host}
		return nil
	}

	type plain TargetConfig
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	*t = TargetConfig(p)
	return nil
}

// =============================================================================
// Probe Configuration
// =============================================================================

// ProbeConfig holds the probe defaults of every target.
type ProbeConfig struct {
	// Interval is the time between two probes of one target.
	// Default: 1s
	Interval Duration `yaml:"interval"`

	// Timeout is how long a probe waits before recording a loss.
	// Default: 2s
	Timeout Duration `yaml:"timeout"`

	// Method is "icmp" or "tcp".
	// Default: "icmp"
	Method string `yaml:"method"`

	// Port is the tcp probe port.
	// Default: 443
	Port int `yaml:"port"`

	// Jitter spreads the first probes of all targets over one interval.
	// Default: true
	Jitter bool `yaml:"jitter"`
}

// AggregationConfig holds metrics window settings.
type AggregationConfig struct {
	// Window is the size of one metrics window.
	// Default: 60s
	Window Duration `yaml:"window"`
}

// NetworkConfig holds network detection settings.
type NetworkConfig struct {
	// Refresh is how often the network name is detected.
	// Default: 30s
	Refresh Duration `yaml:"refresh"`

	// Name pins the network name and disables detection.
	Name string `yaml:"name"`

	// DetectTimeout bounds a single detection.
	// Default: 5s
	DetectTimeout Duration `yaml:"detect_timeout"`
}

// =============================================================================
// Storage Configuration
// =============================================================================

// StorageConfig holds log tree settings.
type StorageConfig struct {
	// Dir is the root of the log tree.
	// Default: "logs"
	Dir string `yaml:"dir"`
}

// RetentionConfig holds cleanup settings.
type RetentionConfig struct {
	// Days of logs to keep.
	// Default: 30
	Days int `yaml:"days"`

	// AutoCleanup runs cleanup once a day at Hour.
	// Default: false
	AutoCleanup bool `yaml:"auto_cleanup"`

	// Hour is the local hour of the automatic cleanup.
	// Default: 5
	Hour int `yaml:"hour"`

	// Archive converts expiring metrics files to Parquet before deletion.
	// Default: false
	Archive bool `yaml:"archive"`

	// ArchiveDir is the Parquet archive root.
	// Default: "archive" next to storage.dir
	ArchiveDir string `yaml:"archive_dir"`

	// Compression of archive files: none, snappy, zstd, gzip.
	// Default: "zstd"
	Compression string `yaml:"compression"`
}

// MemoryConfig holds in-memory buffer bounds.
type MemoryConfig struct {
	// LoadDays is the warm-load horizon and the maximum buffer age.
	// Default: 3
	LoadDays int `yaml:"load_days"`

	// MaxSamples caps the sample buffer per target.
	// Default: load_days at the probe interval, at most 300000
	MaxSamples int `yaml:"max_samples"`

	// MaxWindows caps the window buffer per target.
	// Default: 10000
	MaxWindows int `yaml:"max_windows"`
}

// HistoryConfig holds warm-load settings.
type HistoryConfig struct {
	// Concurrency is how many targets load in parallel.
	// Default: 4
	Concurrency int `yaml:"concurrency"`
}

// ShutdownConfig configures graceful shutdown behavior.
type ShutdownConfig struct {
	// DrainTimeout is the maximum time to wait for in-flight probes.
	// Default: 30s
	DrainTimeout Duration `yaml:"drain_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	// Default: "info"
	Level string `yaml:"level"`

	// JSON switches to JSON output.
	// Default: false
	JSON bool `yaml:"json"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Listen: config.DefaultListenAddress,
		Probe: ProbeConfig{
			Interval: Duration(config.DefaultProbeInterval),
			Timeout:  Duration(config.DefaultProbeTimeout),
			Method:   constants.ProbeICMP,
			Port:     config.DefaultTCPPort,
			Jitter:   true,
		},
		Aggregation: AggregationConfig{
			Window: Duration(config.DefaultAggregationWindow),
		},
		Network: NetworkConfig{
			Refresh:       Duration(config.DefaultNetworkRefresh),
			DetectTimeout: Duration(config.DefaultDetectTimeout),
		},
		Storage: StorageConfig{
			Dir: config.DefaultStorageDir,
		},
		Retention: RetentionConfig{
			Days:        config.DefaultRetentionDays,
			Hour:        config.DefaultRetentionHour,
			Compression: "zstd",
		},
		Memory: MemoryConfig{
			LoadDays:   config.DefaultLoadDays,
			MaxWindows: config.DefaultMaxWindows,
		},
		History: HistoryConfig{
			Concurrency: config.DefaultHistoryConcurrency,
		},
		Shutdown: ShutdownConfig{
			DrainTimeout: Duration(config.DefaultDrainTimeout),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// Custom Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
// Accepts "30s" style strings or integer seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		// Try as int (seconds)
		var i int
		if err := unmarshal(&i); err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	if i, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// or returns d, or def when d is not set.
func (d Duration) or(def Duration) Duration {
	if d > 0 {
		return d
	}
	return def
}
