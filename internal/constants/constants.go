// Package constants provides centralized domain-specific constants
// for the netmon application.
package constants

// =============================================================================
// Networks
// =============================================================================

const (
	// UnknownNetwork is the network name used when detection fails or the
	// host has no wireless connection. It is a valid directory name.
	UnknownNetwork = "unknown"
)

// =============================================================================
// Probe Methods
// =============================================================================

const (
	// ProbeICMP sends one ICMP echo request through the system ping binary.
	ProbeICMP = "icmp"

	// ProbeTCP measures the time to complete a TCP handshake.
	ProbeTCP = "tcp"
)

// ValidProbeMethods contains all valid probe methods.
var ValidProbeMethods = []string{ProbeICMP, ProbeTCP}

// IsValidProbeMethod checks if a probe method is valid.
func IsValidProbeMethod(method string) bool {
	for _, m := range ValidProbeMethods {
		if m == method {
			return true
		}
	}
	return false
}

// =============================================================================
// File Layout
// =============================================================================

const (
	// CSVExt is the extension of every log file.
	CSVExt = ".csv"

	// MetricsSuffix distinguishes metrics files from raw sample files.
	MetricsSuffix = "_metrics"

	// ParquetExt is the extension of archived metrics files.
	ParquetExt = ".parquet"

	// DateLayout is the date format used in file names and API responses.
	DateLayout = "2006-01-02"
)

// =============================================================================
// CSV Headers
// =============================================================================

// RawHeader is the header row of a raw sample file.
var RawHeader = []string{"timestamp", "latency_ms", "network"}

// MetricsHeader is the header row of a metrics file.
var MetricsHeader = []string{
	"timestamp",
	"network",
	"packet_loss_percent",
	"average_latency",
	"min_latency",
	"max_latency",
	"jitter",
	"std_deviation",
}

// =============================================================================
// Export Kinds
// =============================================================================

const (
	// ExportRaw selects raw samples for CSV export.
	ExportRaw = "raw"

	// ExportMetrics selects metrics windows for CSV export.
	ExportMetrics = "metrics"
)
