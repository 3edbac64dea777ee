// Package loader handles configuration file loading, validation, and
// resolution into the settings the daemon components consume.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Validating every field, reporting all problems at once
//   - Resolving per-target probe settings against the probe defaults
package loader

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/netmon/config"
	"github.com/xtxerr/netmon/internal/constants"
	"github.com/xtxerr/netmon/internal/errors"
	"github.com/xtxerr/netmon/internal/logging"
	"github.com/xtxerr/netmon/internal/prober"
	"github.com/xtxerr/netmon/internal/storage/archive"
	"github.com/xtxerr/netmon/internal/validation"
)

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault loads path, or returns the defaults when path is empty or
// the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	cfg, err := Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// Parse parses YAML configuration on top of the defaults.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", errors.Wrap(errors.ErrInvalidConfig, err.Error()))
	}

	return cfg, nil
}

// =============================================================================
// Overrides
// =============================================================================

// Overrides are command line values that replace file values when set.
type Overrides struct {
	Listen  string
	LogDir  string
	Targets string // comma separated
}

// Apply replaces configuration values with the non-empty overrides.
func (o Overrides) Apply(cfg *Config) {
	if o.Listen != "" {
		cfg.Listen = o.Listen
	}
	if o.LogDir != "" {
		cfg.Storage.Dir = o.LogDir
	}
	if o.Targets != "" {
		cfg.Targets = nil
		for _, host := range strings.Split(o.Targets, ",") {
			if host = strings.TrimSpace(host); host != "" {
				cfg.Targets = append(cfg.Targets, TargetConfig{Host: host})
			}
		}
	}
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	// Server validation
	if cfg.Listen == "" {
		errs.AddField("listen", "cannot be empty")
	} else if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		errs.AddField("listen", fmt.Sprintf("invalid address: %v", err))
	}

	// Probe defaults
	if cfg.Probe.Interval <= 0 {
		errs.AddField("probe.interval", "must be positive")
	}
	if cfg.Probe.Timeout <= 0 {
		errs.AddField("probe.timeout", "must be positive")
	} else if cfg.Probe.Timeout > cfg.Probe.Interval {
		errs.AddField("probe.timeout", fmt.Sprintf("%s exceeds probe.interval %s",
			cfg.Probe.Timeout.Duration(), cfg.Probe.Interval.Duration()))
	}
	if !constants.IsValidProbeMethod(cfg.Probe.Method) {
		errs.AddField("probe.method", fmt.Sprintf("must be one of %v", constants.ValidProbeMethods))
	}
	if err := validation.ValidatePort(cfg.Probe.Port); err != nil {
		errs.AddField("probe.port", err.Error())
	}

	// Targets
	seen := make(map[string]bool, len(cfg.Targets))
	for i, t := range cfg.Targets {
		field := fmt.Sprintf("targets[%d]", i)
		host := strings.TrimSpace(t.Host)
		if host == "" {
			errs.AddMissing(field + ".host")
			continue
		}
		if err := validation.ValidateHost(host); err != nil {
			errs.AddField(field+".host", err.Error())
		}
		if seen[host] {
			errs.AddField(field+".host", fmt.Sprintf("duplicate target %q", host))
		}
		seen[host] = true

		if t.Method != "" && !constants.IsValidProbeMethod(t.Method) {
			errs.AddField(field+".method", fmt.Sprintf("must be one of %v", constants.ValidProbeMethods))
		}
		if err := validation.ValidatePort(t.Port); err != nil {
			errs.AddField(field+".port", err.Error())
		}
		if t.Interval < 0 {
			errs.AddField(field+".interval", "cannot be negative")
		}
		if t.Timeout < 0 {
			errs.AddField(field+".timeout", "cannot be negative")
		}
		if interval, timeout := t.Interval.or(cfg.Probe.Interval), t.Timeout.or(cfg.Probe.Timeout); timeout > interval {
			errs.AddField(field+".timeout", fmt.Sprintf("%s exceeds interval %s",
				timeout.Duration(), interval.Duration()))
		}
	}

	// Aggregation
	if cfg.Aggregation.Window.Duration() < time.Second {
		errs.AddField("aggregation.window", "must be at least 1s")
	}

	// Network
	if cfg.Network.Refresh <= 0 {
		errs.AddField("network.refresh", "must be positive")
	}
	if cfg.Network.Name != "" {
		if err := validation.ValidateNetworkName(cfg.Network.Name); err != nil {
			errs.AddField("network.name", err.Error())
		}
	}

	// Storage
	if cfg.Storage.Dir == "" {
		errs.AddField("storage.dir", "cannot be empty")
	}

	// Retention
	if cfg.Retention.Days < config.MinRetentionDays {
		errs.AddField("retention.days", fmt.Sprintf("must be at least %d", config.MinRetentionDays))
	}
	if cfg.Retention.Hour < 0 || cfg.Retention.Hour > 23 {
		errs.AddField("retention.hour", "must be between 0 and 23")
	}
	switch cfg.Retention.Compression {
	case "", "none", "snappy", "zstd", "gzip":
	default:
		errs.AddField("retention.compression", "must be one of none, snappy, zstd, gzip")
	}

	// Memory
	if cfg.Memory.LoadDays < 1 {
		errs.AddField("memory.load_days", "must be at least 1")
	}
	if cfg.Memory.MaxSamples < 0 || cfg.Memory.MaxSamples > config.MaxSamplesPerTarget {
		errs.AddField("memory.max_samples", fmt.Sprintf("must be between 0 and %d", config.MaxSamplesPerTarget))
	}
	if cfg.Memory.MaxWindows < 0 {
		errs.AddField("memory.max_windows", "cannot be negative")
	}

	if cfg.History.Concurrency < 1 {
		errs.AddField("history.concurrency", "must be at least 1")
	}
	if cfg.Shutdown.DrainTimeout <= 0 {
		errs.AddField("shutdown.drain_timeout", "must be positive")
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs.AddField("logging.level", err.Error())
	}

	return errs.Err()
}

// =============================================================================
// Resolution
// =============================================================================

// ProbeTargets resolves every target against the probe defaults. With no
// configured targets the built-in defaults are used.
func (c *Config) ProbeTargets() []prober.Target {
	targets := c.Targets
	if len(targets) == 0 {
		for _, host := range config.DefaultTargets {
			targets = append(targets, TargetConfig{Host: host})
		}
	}

	out := make([]prober.Target, 0, len(targets))
	for _, t := range targets {
		pt := prober.Target{
			Host:     strings.TrimSpace(t.Host),
			Method:   t.Method,
			Port:     t.Port,
			Interval: t.Interval.Duration(),
			Timeout:  t.Timeout.Duration(),
		}
		if pt.Method == "" {
			pt.Method = c.Probe.Method
		}
		if pt.Port == 0 && pt.Method == constants.ProbeTCP {
			pt.Port = c.Probe.Port
		}
		if pt.Interval <= 0 {
			pt.Interval = c.Probe.Interval.Duration()
		}
		if pt.Timeout <= 0 {
			pt.Timeout = c.Probe.Timeout.Duration()
		}
		out = append(out, pt)
	}
	return out
}

// MaxSamples returns the sample buffer cap per target. Unless configured it
// is the number of samples the fastest target produces over load_days.
func (c *Config) MaxSamples() int {
	if c.Memory.MaxSamples > 0 {
		return c.Memory.MaxSamples
	}

	interval := c.Probe.Interval.Duration()
	for _, t := range c.ProbeTargets() {
		if t.Interval < interval {
			interval = t.Interval
		}
	}
	if interval <= 0 {
		interval = config.DefaultProbeInterval
	}

	n := int(c.LoadHorizon() / interval)
	if n > config.MaxSamplesPerTarget {
		n = config.MaxSamplesPerTarget
	}
	if n < 1 {
		n = 1
	}
	return n
}

// LoadHorizon returns memory.load_days as a duration.
func (c *Config) LoadHorizon() time.Duration {
	return time.Duration(c.Memory.LoadDays) * 24 * time.Hour
}

// ArchiveDir returns the archive root, next to the storage root unless
// configured.
func (c *Config) ArchiveDir() string {
	if c.Retention.ArchiveDir != "" {
		return c.Retention.ArchiveDir
	}
	return filepath.Join(filepath.Dir(filepath.Clean(c.Storage.Dir)), config.DefaultArchiveDir)
}

// ArchiveOptions returns the Parquet writer options of the archive.
func (c *Config) ArchiveOptions() archive.Options {
	opts := archive.DefaultOptions()
	opts.Compression = archive.ParseCompressionType(c.Retention.Compression)
	return opts
}
