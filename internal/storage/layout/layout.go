// Package layout maps measurements to their place on disk.
//
// Files live under
//
//	<root>/<network>/<YYYY>/<MM>/<target>_<YYYY-MM-DD>.csv
//	<root>/<network>/<YYYY>/<MM>/<target>_<YYYY-MM-DD>_metrics.csv
//
// Dates are UTC calendar dates.
package layout

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/xtxerr/netmon/internal/constants"
)

// Kind selects the file of a (network, target, date) pair.
type Kind int

const (
	// KindRaw is the per-sample file.
	KindRaw Kind = iota
	// KindMetrics is the per-window file.
	KindMetrics
)

// String returns the export name of the kind.
func (k Kind) String() string {
	if k == KindMetrics {
		return constants.ExportMetrics
	}
	return constants.ExportRaw
}

// Key identifies one log file.
type Key struct {
	Network string
	Target  string
	Date    time.Time
	Kind    Kind
}

// Layout builds and parses paths below a root directory.
type Layout struct {
	Root string
}

// New returns a Layout rooted at root.
func New(root string) Layout {
	return Layout{Root: root}
}

// Dir returns the month directory for a network and date.
func (l Layout) Dir(network string, date time.Time) string {
	d := date.UTC()
	return filepath.Join(l.Root, network, fmt.Sprintf("%04d", d.Year()), fmt.Sprintf("%02d", int(d.Month())))
}

// Path returns the file path for k.
func (l Layout) Path(k Key) string {
	return filepath.Join(l.Dir(k.Network, k.Date), FileName(k.Target, k.Date, k.Kind))
}

// RawPath returns the raw sample file for a network, target and date.
func (l Layout) RawPath(network, target string, date time.Time) string {
	return l.Path(Key{Network: network, Target: target, Date: date, Kind: KindRaw})
}

// MetricsPath returns the metrics file for a network, target and date.
func (l Layout) MetricsPath(network, target string, date time.Time) string {
	return l.Path(Key{Network: network, Target: target, Date: date, Kind: KindMetrics})
}

// NetworkDir returns the top-level directory of a network.
func (l Layout) NetworkDir(network string) string {
	return filepath.Join(l.Root, network)
}

// FileName returns the base name of a log file.
func FileName(target string, date time.Time, kind Kind) string {
	name := TargetFileName(target) + "_" + date.UTC().Format(constants.DateLayout)
	if kind == KindMetrics {
		name += constants.MetricsSuffix
	}
	return name + constants.CSVExt
}

var fileNameRe = regexp.MustCompile(`^(.+)_(\d{4}-\d{2}-\d{2})(_metrics)?\.csv$`)

// ParseFileName recovers the target, date and kind from a base file name.
// The target is returned in its on-disk form.
func ParseFileName(name string) (target string, date time.Time, kind Kind, ok bool) {
	m := fileNameRe.FindStringSubmatch(name)
	if m == nil {
		return "", time.Time{}, KindRaw, false
	}

	date, err := time.ParseInLocation(constants.DateLayout, m[2], time.UTC)
	if err != nil {
		return "", time.Time{}, KindRaw, false
	}

	kind = KindRaw
	if m[3] != "" {
		kind = KindMetrics
	}
	return m[1], date, kind, true
}

var unsafeTargetRe = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// TargetFileName returns the path-safe form of a target. Dots and dashes
// are kept so addresses stay readable; everything else outside
// [A-Za-z0-9_] becomes an underscore.
func TargetFileName(target string) string {
	s := unsafeTargetRe.ReplaceAllString(strings.TrimSpace(target), "_")
	if s == "" || strings.Trim(s, ".") == "" {
		return constants.UnknownNetwork
	}
	return s
}

// Date truncates t to its UTC calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(constants.DateLayout, s, time.UTC)
}

// FormatDate formats t as YYYY-MM-DD in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(constants.DateLayout)
}
