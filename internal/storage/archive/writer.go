package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/netmon/internal/constants"
	"github.com/xtxerr/netmon/internal/errors"
	"github.com/xtxerr/netmon/internal/logging"
	"github.com/xtxerr/netmon/internal/storage/codec"
	"github.com/xtxerr/netmon/internal/storage/layout"
	"github.com/xtxerr/netmon/internal/storage/types"
)

var log = logging.Component("archive")

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{Compression: CompressionZstd}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "gzip":
		return CompressionGzip
	case "none":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// WindowRow represents a metrics window in Parquet format.
type WindowRow struct {
	TimestampNs       int64    `parquet:"timestamp_ns"`
	Network           string   `parquet:"network,dict"`
	Target            string   `parquet:"target,dict"`
	PacketLossPercent float64  `parquet:"packet_loss_percent"`
	AverageLatency    *float64 `parquet:"average_latency,optional"`
	MinLatency        *float64 `parquet:"min_latency,optional"`
	MaxLatency        *float64 `parquet:"max_latency,optional"`
	Jitter            float64  `parquet:"jitter"`
	StdDeviation      float64  `parquet:"std_deviation"`
}

// WindowToRow converts a MetricsWindow to a WindowRow.
func WindowToRow(w *types.MetricsWindow) WindowRow {
	return WindowRow{
		TimestampNs:       w.Timestamp.UnixNano(),
		Network:           w.Network,
		Target:            w.Target,
		PacketLossPercent: w.PacketLossPercent,
		AverageLatency:    w.AverageLatency,
		MinLatency:        w.MinLatency,
		MaxLatency:        w.MaxLatency,
		Jitter:            w.Jitter,
		StdDeviation:      w.StdDeviation,
	}
}

// RowToWindow converts a WindowRow to a MetricsWindow.
func RowToWindow(r *WindowRow) types.MetricsWindow {
	return types.MetricsWindow{
		Timestamp:         time.Unix(0, r.TimestampNs).UTC(),
		Network:           r.Network,
		Target:            r.Target,
		PacketLossPercent: r.PacketLossPercent,
		AverageLatency:    r.AverageLatency,
		MinLatency:        r.MinLatency,
		MaxLatency:        r.MaxLatency,
		Jitter:            r.Jitter,
		StdDeviation:      r.StdDeviation,
	}
}

// Archive stores expired metrics files as Parquet below its root:
//
//	<root>/<network>/<YYYY>/<MM>/<target>_<YYYY-MM-DD>_metrics.parquet
type Archive struct {
	mu     sync.Mutex
	layout layout.Layout
	opts   Options
}

// New creates an Archive rooted at root.
func New(root string, opts Options) *Archive {
	return &Archive{layout: layout.New(root), opts: opts}
}

// Root returns the archive root directory.
func (a *Archive) Root() string {
	return a.layout.Root
}

// Path returns the archive file of a network, target and date.
func (a *Archive) Path(network, target string, date time.Time) string {
	name := strings.TrimSuffix(layout.FileName(target, date, layout.KindMetrics), constants.CSVExt) + constants.ParquetExt
	return filepath.Join(a.layout.Dir(network, date), name)
}

// Archive converts the metrics CSV at src into a Parquet file. It replaces
// any archive already present for the same key.
func (a *Archive) Archive(src, network, target string, date time.Time) error {
	f, err := os.Open(src)
	if err != nil {
		return errors.Wrap(errors.ErrStorageRead, err.Error())
	}
	windows, skipped, err := codec.ReadWindows(f, target)
	f.Close()
	if err != nil {
		return err
	}
	if skipped > 0 {
		log.Warn("skipped malformed rows", "path", src, "count", skipped)
	}

	dst := a.Path(network, target, date)
	if err := a.WriteWindows(dst, windows); err != nil {
		return err
	}

	log.Debug("archived metrics file", "src", src, "dst", dst, "rows", len(windows))
	return nil
}

// WriteWindows writes windows to a Parquet file at path. The file appears
// atomically.
func (a *Archive) WriteWindows(path string, windows []types.MetricsWindow) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(errors.ErrStorageWrite, fmt.Sprintf("create directory: %v", err))
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(errors.ErrStorageWrite, fmt.Sprintf("create file: %v", err))
	}

	writer := parquet.NewGenericWriter[WindowRow](f, parquet.Compression(getCompression(a.opts.Compression)))

	rows := make([]WindowRow, len(windows))
	for i := range windows {
		rows[i] = WindowToRow(&windows[i])
	}

	if _, err := writer.Write(rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(errors.ErrStorageWrite, fmt.Sprintf("write rows: %v", err))
	}
	if err := writer.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(errors.ErrStorageWrite, fmt.Sprintf("close writer: %v", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(errors.ErrStorageWrite, err.Error())
	}

	return os.Rename(tmp, path)
}
