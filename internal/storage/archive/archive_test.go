package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/netmon/internal/constants"
	"github.com/xtxerr/netmon/internal/storage/codec"
	"github.com/xtxerr/netmon/internal/storage/types"
)

var day = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func testWindows() []types.MetricsWindow {
	return []types.MetricsWindow{
		{
			Timestamp:         day.Add(time.Minute),
			Network:           "HomeWiFi",
			Target:            "8.8.8.8",
			PacketLossPercent: 0,
			AverageLatency:    types.Float(12.5),
			MinLatency:        types.Float(10),
			MaxLatency:        types.Float(15),
			Jitter:            1.5,
			StdDeviation:      2,
		},
		{
			Timestamp:         day.Add(2 * time.Minute),
			Network:           "HomeWiFi",
			Target:            "8.8.8.8",
			PacketLossPercent: 100,
		},
	}
}

func TestPath(t *testing.T) {
	a := New("archive", DefaultOptions())
	got := a.Path("HomeWiFi", "8.8.8.8", day)
	want := filepath.Join("archive", "HomeWiFi", "2024", "01", "8.8.8.8_2024-01-15_metrics.parquet")
	if got != want {
		t.Errorf("Path = %q, want %q", got, want)
	}
}

func TestWriteAndRead(t *testing.T) {
	a := New(t.TempDir(), DefaultOptions())
	path := a.Path("HomeWiFi", "8.8.8.8", day)

	if err := a.WriteWindows(path, testWindows()); err != nil {
		t.Fatalf("WriteWindows: %v", err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("file should exist: %v", err)
	}
	if stat.Size() == 0 {
		t.Error("file should not be empty")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	got, err := a.ReadWindows("HomeWiFi", "8.8.8.8", day)
	if err != nil {
		t.Fatalf("ReadWindows: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(got))
	}

	if !got[0].Timestamp.Equal(day.Add(time.Minute)) {
		t.Errorf("timestamp = %v", got[0].Timestamp)
	}
	if got[0].AverageLatency == nil || *got[0].AverageLatency != 12.5 {
		t.Errorf("average latency = %v", got[0].AverageLatency)
	}
	if got[0].Jitter != 1.5 || got[0].StdDeviation != 2 {
		t.Errorf("unexpected stats: %+v", got[0])
	}
	if got[1].HasLatency() {
		t.Error("all-loss window should have no latency")
	}
	if got[1].PacketLossPercent != 100 {
		t.Errorf("packet loss = %v", got[1].PacketLossPercent)
	}
}

func TestReadMissing(t *testing.T) {
	a := New(t.TempDir(), DefaultOptions())
	got, err := a.ReadWindows("nowhere", "8.8.8.8", day)
	if err != nil {
		t.Fatalf("missing archive should not fail: %v", err)
	}
	if got != nil {
		t.Errorf("expected no windows, got %d", len(got))
	}
}

func TestArchiveFromCSV(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "8.8.8.8_2024-01-15_metrics.csv")

	var records [][]string
	for _, w := range testWindows() {
		records = append(records, codec.WindowRecord(w))
	}
	data, err := codec.Encode(constants.MetricsHeader, records...)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, data, 0644); err != nil {
		t.Fatal(err)
	}

	a := New(filepath.Join(dir, "archive"), DefaultOptions())
	if err := a.Archive(src, "HomeWiFi", "8.8.8.8", day); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	got, err := a.ReadWindows("HomeWiFi", "8.8.8.8", day)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Target != "8.8.8.8" || got[0].Network != "HomeWiFi" {
		t.Errorf("unexpected archive content: %+v", got)
	}
}

func TestArchiveMissingSource(t *testing.T) {
	a := New(t.TempDir(), DefaultOptions())
	if err := a.Archive("/nonexistent.csv", "n", "t", day); err == nil {
		t.Error("expected error for missing source")
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := map[string]CompressionType{
		"snappy": CompressionSnappy,
		"gzip":   CompressionGzip,
		"none":   CompressionNone,
		"zstd":   CompressionZstd,
		"":       CompressionZstd,
	}
	for in, want := range tests {
		if got := ParseCompressionType(in); got != want {
			t.Errorf("ParseCompressionType(%q) = %v, want %v", in, got, want)
		}
	}
}
