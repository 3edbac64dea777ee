package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/netmon/internal/errors"
	"github.com/xtxerr/netmon/internal/storage/archive"
	"github.com/xtxerr/netmon/internal/storage/types"
)

var day = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestNew_UnusableRoot(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := New(filepath.Join(file, "logs"))
	if !errors.Is(err, errors.ErrStorageRoot) {
		t.Errorf("expected ErrStorageRoot, got %v", err)
	}

	if _, err := New(""); !errors.Is(err, errors.ErrStorageRoot) {
		t.Errorf("expected ErrStorageRoot for empty root, got %v", err)
	}
}

func TestAppendSample_HeaderOnce(t *testing.T) {
	s := newStore(t)

	for i := 0; i < 3; i++ {
		sample := types.NewSuccess(day.Add(time.Duration(i)*time.Second), "8.8.8.8", "HomeWiFi", 10+float64(i))
		if err := s.AppendSample(sample); err != nil {
			t.Fatalf("AppendSample: %v", err)
		}
	}
	if err := s.AppendSample(types.NewLoss(day.Add(3*time.Second), "8.8.8.8", "HomeWiFi")); err != nil {
		t.Fatal(err)
	}

	path := s.Layout().RawPath("HomeWiFi", "8.8.8.8", day)
	if !strings.HasSuffix(path, filepath.Join("HomeWiFi", "2024", "03", "8.8.8.8_2024-03-01.csv")) {
		t.Errorf("unexpected path %s", path)
	}

	lines := readLines(t, path)
	if len(lines) != 5 {
		t.Fatalf("expected header + 4 rows, got %d lines", len(lines))
	}
	if lines[0] != "timestamp,latency_ms,network" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "2024-03-01T10:00:00Z,10.000,HomeWiFi" {
		t.Errorf("first row = %q", lines[1])
	}
	if lines[4] != "2024-03-01T10:00:03Z,,HomeWiFi" {
		t.Errorf("loss row = %q", lines[4])
	}

	if s.Stats().SamplesWritten != 4 {
		t.Errorf("samples written = %d, want 4", s.Stats().SamplesWritten)
	}
}

func TestAppendWindow_EmptyNetwork(t *testing.T) {
	s := newStore(t)
	w := types.MetricsWindow{Timestamp: day, Target: "1.1.1.1", PacketLossPercent: 100}
	if err := s.AppendWindow(w); err != nil {
		t.Fatal(err)
	}

	lines := readLines(t, s.Layout().MetricsPath("unknown", "1.1.1.1", day))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[1] != "2024-03-01T10:00:00Z,,100.00,,,,0.000,0.000" {
		t.Errorf("row = %q", lines[1])
	}
}

func TestAppend_Concurrent(t *testing.T) {
	s := newStore(t)

	const writers, rows = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rows; i++ {
				ts := day.Add(time.Duration(w*rows+i) * time.Millisecond)
				if err := s.AppendSample(types.NewSuccess(ts, "8.8.8.8", "HomeWiFi", 1)); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	samples, err := s.ReadSamples("HomeWiFi", "8.8.8.8", day)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != writers*rows {
		t.Errorf("read %d samples, want %d", len(samples), writers*rows)
	}

	lines := readLines(t, s.Layout().RawPath("HomeWiFi", "8.8.8.8", day))
	headers := 0
	for _, l := range lines {
		if strings.HasPrefix(l, "timestamp") {
			headers++
		}
	}
	if headers != 1 {
		t.Errorf("found %d header lines, want 1", headers)
	}
}

func TestAppend_DuringCleanup(t *testing.T) {
	// day's month is past but inside retention, so its empty directories
	// are eligible for pruning while rows are being written.
	s := newStore(t, WithClock(func() time.Time { return day.AddDate(0, 1, 1) }))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := s.Cleanup(60); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	const networks = 100
	for i := 0; i < networks; i++ {
		network := fmt.Sprintf("net%03d", i)
		if err := s.AppendSample(types.NewSuccess(day, "8.8.8.8", network, 1)); err != nil {
			t.Errorf("append to %s: %v", network, err)
		}
	}
	close(stop)
	wg.Wait()

	if n := s.Stats().WriteErrors; n != 0 {
		t.Errorf("write errors = %d, want 0", n)
	}
	for i := 0; i < networks; i++ {
		network := fmt.Sprintf("net%03d", i)
		if samples, _ := s.ReadSamples(network, "8.8.8.8", day); len(samples) != 1 {
			t.Errorf("%s holds %d samples, want 1", network, len(samples))
		}
	}
}

func TestReadSamples_RoundTrip(t *testing.T) {
	s := newStore(t)
	in := []types.Sample{
		types.NewSuccess(day, "8.8.8.8", "HomeWiFi", 12.5),
		types.NewLoss(day.Add(time.Second), "8.8.8.8", "HomeWiFi"),
	}
	for _, sample := range in {
		if err := s.AppendSample(sample); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ReadSamples("HomeWiFi", "8.8.8.8", day)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	for i := range in {
		if !got[i].Timestamp.Equal(in[i].Timestamp) || got[i].Lost != in[i].Lost ||
			got[i].LatencyMs != in[i].LatencyMs || got[i].Network != in[i].Network || got[i].Target != in[i].Target {
			t.Errorf("sample %d: got %+v, want %+v", i, got[i], in[i])
		}
	}
}

func TestRead_Missing(t *testing.T) {
	s := newStore(t)

	samples, err := s.ReadSamples("nowhere", "8.8.8.8", day)
	if err != nil || samples != nil {
		t.Errorf("missing raw file: %v %v", samples, err)
	}
	windows, err := s.ReadWindows("nowhere", "8.8.8.8", day)
	if err != nil || windows != nil {
		t.Errorf("missing metrics file: %v %v", windows, err)
	}
}

func TestRead_MalformedRows(t *testing.T) {
	s := newStore(t)
	path := s.Layout().RawPath("HomeWiFi", "8.8.8.8", day)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	content := "timestamp,latency_ms,network\n2024-03-01T10:00:00Z,5.000,HomeWiFi\nbroken\n2024-03-01T10:00:02Z,7.0"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadSamples("HomeWiFi", "8.8.8.8", day)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 valid samples, got %d", len(got))
	}
	if s.Stats().MalformedRows != 1 {
		t.Errorf("malformed rows = %d, want 1", s.Stats().MalformedRows)
	}
}

func TestNetworksAndDates(t *testing.T) {
	s := newStore(t)
	s.AppendSample(types.NewSuccess(day, "8.8.8.8", "HomeWiFi", 1))
	s.AppendSample(types.NewSuccess(day.AddDate(0, 0, 1), "8.8.8.8", "Office", 1))
	s.AppendWindow(types.MetricsWindow{Timestamp: day.AddDate(0, -1, 0), Network: "Office", Target: "1.1.1.1"})

	networks, err := s.Networks()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(networks, ",") != "HomeWiFi,Office" {
		t.Errorf("networks = %v", networks)
	}

	dates, err := s.Dates()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(dates, ",") != "2024-03-02,2024-03-01,2024-02-01" {
		t.Errorf("dates = %v", dates)
	}

	files, err := s.FilesFor("8.8.8.8", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0].Network != "HomeWiFi" || files[1].Network != "Office" {
		t.Errorf("unexpected files: %+v", files)
	}

	files, _ = s.FilesFor("8.8.8.8", "Office")
	if len(files) != 1 {
		t.Errorf("network filter: got %d files", len(files))
	}
}

func TestRangeReads(t *testing.T) {
	s := newStore(t)
	s.AppendSample(types.NewSuccess(day.Add(2*time.Second), "8.8.8.8", "Office", 2))
	s.AppendSample(types.NewSuccess(day, "8.8.8.8", "HomeWiFi", 1))
	s.AppendSample(types.NewSuccess(day.AddDate(0, 0, -1), "8.8.8.8", "HomeWiFi", 0))
	s.AppendWindow(types.MetricsWindow{Timestamp: day, Network: "HomeWiFi", Target: "8.8.8.8"})
	s.AppendWindow(types.MetricsWindow{Timestamp: day.Add(time.Minute), Network: "Office", Target: "8.8.8.8"})

	r := LastDays("8.8.8.8", "", day, 2)
	if len(r.Days()) != 2 {
		t.Fatalf("expected 2 days, got %d", len(r.Days()))
	}

	samples, errs := s.SamplesInRange(r)
	if len(errs) != 0 {
		t.Fatal(errs)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].Timestamp.Before(samples[i-1].Timestamp) {
			t.Error("samples not in time order")
		}
	}

	byNet, _ := s.WindowsByNetwork(r)
	if len(byNet["HomeWiFi"]) != 1 || len(byNet["Office"]) != 1 {
		t.Errorf("unexpected grouping: %v", byNet)
	}

	r.Network = "Office"
	windows, _ := s.WindowsInRange(r)
	if len(windows) != 1 || windows[0].Network != "Office" {
		t.Errorf("network filter: %+v", windows)
	}
}

func TestCleanupWithArchive(t *testing.T) {
	root := t.TempDir()
	arch := archive.New(filepath.Join(root, "..", filepath.Base(root)+"-archive"), archive.DefaultOptions())
	now := func() time.Time { return day }

	s, err := New(root, WithArchive(arch), WithClock(now))
	if err != nil {
		t.Fatal(err)
	}

	old := day.AddDate(0, 0, -45)
	w := types.MetricsWindow{Timestamp: old, Network: "HomeWiFi", Target: "8.8.8.8", AverageLatency: types.Float(9), PacketLossPercent: 0}
	if err := s.AppendWindow(w); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendSample(types.NewSuccess(old, "8.8.8.8", "HomeWiFi", 9)); err != nil {
		t.Fatal(err)
	}

	result, err := s.Cleanup(30)
	if err != nil {
		t.Fatal(err)
	}
	if result.FilesDeleted != 2 || result.Archived != 1 {
		t.Errorf("unexpected result: %+v", result)
	}

	got, err := s.ReadWindows("HomeWiFi", "8.8.8.8", old)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || *got[0].AverageLatency != 9 || got[0].Target != "8.8.8.8" {
		t.Errorf("archive fallback returned %+v", got)
	}

	samples, _ := s.ReadSamples("HomeWiFi", "8.8.8.8", old)
	if len(samples) != 0 {
		t.Error("raw samples are not archived")
	}
}
