package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/netmon/internal/storage/layout"
)

var today = time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return today }

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("timestamp,latency_ms,network\n"), 0644); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func setup(t *testing.T) (string, layout.Layout) {
	root := t.TempDir()
	return root, layout.New(root)
}

func TestManager_Run(t *testing.T) {
	root, l := setup(t)

	old := today.AddDate(0, 0, -40)
	edge := today.AddDate(0, 0, -30)
	recent := today.AddDate(0, 0, -2)

	oldRaw := l.RawPath("HomeWiFi", "8.8.8.8", old)
	oldMetrics := l.MetricsPath("HomeWiFi", "8.8.8.8", old)
	oldOffice := l.RawPath("Office", "1.1.1.1", old)
	edgeRaw := l.RawPath("HomeWiFi", "8.8.8.8", edge)
	recentRaw := l.RawPath("HomeWiFi", "8.8.8.8", recent)
	todayRaw := l.RawPath("HomeWiFi", "8.8.8.8", today)

	for _, p := range []string{oldRaw, oldMetrics, oldOffice, edgeRaw, recentRaw, todayRaw} {
		touch(t, p)
	}
	touch(t, filepath.Join(root, "HomeWiFi", "2024", "02", "README.txt"))

	m := New(root, WithClock(clock))
	result, err := m.Run(30)
	if err != nil {
		t.Fatal(err)
	}

	if result.CutoffDate != "2024-02-19" {
		t.Errorf("cutoff = %s, want 2024-02-19", result.CutoffDate)
	}
	if result.FilesDeleted != 3 {
		t.Errorf("deleted %d files, want 3: %v", result.FilesDeleted, result.DeletedFiles)
	}
	for _, p := range []string{oldRaw, oldMetrics, oldOffice} {
		if exists(p) {
			t.Errorf("%s should be deleted", p)
		}
	}
	for _, p := range []string{edgeRaw, recentRaw, todayRaw} {
		if !exists(p) {
			t.Errorf("%s should be kept", p)
		}
	}

	// The Office tree held only expired files.
	if exists(filepath.Join(root, "Office", "2024")) {
		t.Error("empty year directory should be pruned")
	}

	stats := m.Stats()
	if stats.FilesDeleted != 3 || !stats.LastRunTime.Equal(today) {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestManager_KeepsCurrentMonthDir(t *testing.T) {
	root, l := setup(t)

	// A month directory the store created an instant before cleanup ran.
	fresh := l.Dir("Cafe", today)
	if err := os.MkdirAll(fresh, 0755); err != nil {
		t.Fatal(err)
	}
	stale := l.Dir("Cafe", today.AddDate(0, -2, 0))
	if err := os.MkdirAll(stale, 0755); err != nil {
		t.Fatal(err)
	}

	if _, err := New(root, WithClock(clock)).Run(30); err != nil {
		t.Fatal(err)
	}
	if !exists(fresh) {
		t.Error("current month directory was pruned")
	}
	if exists(stale) {
		t.Error("empty past month directory should be pruned")
	}
}

func TestManager_NeverDeletesToday(t *testing.T) {
	root, l := setup(t)
	p := l.MetricsPath("n", "t", today)
	touch(t, p)

	m := New(root, WithClock(clock))
	if _, err := m.Run(0); err != nil {
		t.Fatal(err)
	}
	if !exists(p) {
		t.Error("today's file must never be deleted")
	}
}

func TestManager_DryRun(t *testing.T) {
	root, l := setup(t)
	p := l.RawPath("n", "t", today.AddDate(0, 0, -100))
	touch(t, p)

	m := New(root, WithClock(clock))
	result, err := m.DryRun(30)
	if err != nil {
		t.Fatal(err)
	}
	if result.FilesDeleted != 1 || !result.DryRun {
		t.Errorf("unexpected dry run result: %+v", result)
	}
	if !exists(p) {
		t.Error("dry run must not delete")
	}
	if m.Stats().FilesDeleted != 0 {
		t.Error("dry run must not update stats")
	}
}

func TestManager_MissingRoot(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "missing"), WithClock(clock))
	result, err := m.Run(30)
	if err != nil {
		t.Fatalf("missing root should not fail: %v", err)
	}
	if result.FilesDeleted != 0 {
		t.Errorf("deleted %d files from nothing", result.FilesDeleted)
	}
}

func TestManager_NegativeDays(t *testing.T) {
	m := New(t.TempDir(), WithClock(clock))
	if _, err := m.Run(-1); err == nil {
		t.Error("negative days should fail")
	}
}

type fakeArchiver struct {
	calls []string
	fail  bool
}

func (f *fakeArchiver) Archive(src, network, target string, date time.Time) error {
	f.calls = append(f.calls, fmt.Sprintf("%s/%s/%s", network, target, layout.FormatDate(date)))
	if f.fail {
		return fmt.Errorf("disk full")
	}
	return nil
}

func TestManager_Archive(t *testing.T) {
	root, l := setup(t)
	old := today.AddDate(0, 0, -60)
	raw := l.RawPath("HomeWiFi", "8.8.8.8", old)
	metrics := l.MetricsPath("HomeWiFi", "8.8.8.8", old)
	touch(t, raw)
	touch(t, metrics)

	a := &fakeArchiver{}
	m := New(root, WithClock(clock), WithArchiver(a))
	result, err := m.Run(30)
	if err != nil {
		t.Fatal(err)
	}

	if len(a.calls) != 1 || a.calls[0] != "HomeWiFi/8.8.8.8/2024-01-20" {
		t.Errorf("unexpected archive calls: %v", a.calls)
	}
	if result.Archived != 1 || result.FilesDeleted != 2 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestManager_ArchiveFailureKeepsFile(t *testing.T) {
	root, l := setup(t)
	metrics := l.MetricsPath("n", "t", today.AddDate(0, 0, -60))
	touch(t, metrics)

	m := New(root, WithClock(clock), WithArchiver(&fakeArchiver{fail: true}))
	result, err := m.Run(30)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 error, got %v", result.Errors)
	}
	if !exists(metrics) {
		t.Error("file must be kept when archiving fails")
	}
}

func TestManager_GetDiskUsage(t *testing.T) {
	root, l := setup(t)
	touch(t, l.RawPath("a", "t", today))
	touch(t, l.RawPath("a", "t", today.AddDate(0, 0, -1)))
	touch(t, l.RawPath("b", "t", today))

	usage := New(root, WithClock(clock)).GetDiskUsage()
	if usage["a"].FileCount != 2 || usage["b"].FileCount != 1 {
		t.Errorf("unexpected usage: %+v", usage)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:             "512 B",
		2048:            "2.00 KB",
		5 * 1024 * 1024: "5.00 MB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestWorker_NextRun(t *testing.T) {
	w := NewWorker(New(t.TempDir()), 30, 5)

	before := time.Date(2024, 3, 20, 4, 0, 0, 0, time.UTC)
	if got := w.NextRun(before); !got.Equal(time.Date(2024, 3, 20, 5, 0, 0, 0, time.UTC)) {
		t.Errorf("NextRun(04:00) = %v", got)
	}

	at := time.Date(2024, 3, 20, 5, 0, 0, 0, time.UTC)
	if got := w.NextRun(at); !got.Equal(time.Date(2024, 3, 21, 5, 0, 0, 0, time.UTC)) {
		t.Errorf("NextRun(05:00) = %v", got)
	}
}

func TestWorker_StartStop(t *testing.T) {
	w := NewWorker(New(t.TempDir(), WithClock(clock)), 30, 5)
	runs := 0
	w.OnRun = func(CleanupResult) { runs++ }
	w.Start(t.Context())
	w.Stop()
	if runs != 0 {
		t.Errorf("runs = %d, want 0", runs)
	}
}
