package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveProbe(t *testing.T) {
	m := New()
	m.ObserveProbe("8.8.8.8", 12.5, true)
	m.ObserveProbe("8.8.8.8", 0, false)
	m.ObserveProbe("8.8.8.8", 0, false)

	body := scrape(t, m)
	for _, want := range []string{
		`netmon_probes_total{result="ok",target="8.8.8.8"} 1`,
		`netmon_probes_total{result="lost",target="8.8.8.8"} 2`,
		`netmon_probe_latency_ms_count{target="8.8.8.8"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveProbe("x", 1, true)
	m.WindowEmitted()
	m.StorageWriteError("raw")
	m.DetectError(nil)
	m.HistoryLoaded("raw", 3)
	m.CleanupRemoved(2)
	m.ObserveRequest("/health", 200, time.Millisecond)
}

func TestHandler(t *testing.T) {
	m := New()
	m.WindowEmitted()
	m.StorageWriteError("metrics")
	m.ObserveRequest("/api/targets", 200, 5*time.Millisecond)

	body := scrape(t, m)
	for _, want := range []string{
		"netmon_windows_emitted_total 1",
		`netmon_storage_write_errors_total{kind="metrics"} 1`,
		`netmon_http_requests_total{code="200",route="/api/targets"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
