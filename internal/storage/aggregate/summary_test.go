package aggregate

import (
	"math"
	"testing"
	"time"

	"github.com/xtxerr/netmon/internal/storage/types"
)

func window(ts time.Time, network string, avg, min, max *float64, loss, jitter float64) types.MetricsWindow {
	return types.MetricsWindow{
		Timestamp:         ts,
		Network:           network,
		Target:            "8.8.8.8",
		PacketLossPercent: loss,
		AverageLatency:    avg,
		MinLatency:        min,
		MaxLatency:        max,
		Jitter:            jitter,
	}
}

func TestSummarize(t *testing.T) {
	f := types.Float
	windows := []types.MetricsWindow{
		window(t0, "home", f(10), f(5), f(20), 0, 2),
		window(t0.Add(time.Minute), "home", f(30), f(25), f(40), 50, 4),
		window(t0.Add(2*time.Minute), "home", nil, nil, nil, 100, 0),
	}

	s := Summarize("2024-03-01", windows)

	if s.RecordsCount != 3 {
		t.Errorf("records = %d, want 3", s.RecordsCount)
	}
	if s.AvgLatency == nil || *s.AvgLatency != 20 {
		t.Errorf("avg latency = %v, want 20", s.AvgLatency)
	}
	if s.MinLatency == nil || *s.MinLatency != 5 {
		t.Errorf("min latency = %v, want 5", s.MinLatency)
	}
	if s.MaxLatency == nil || *s.MaxLatency != 40 {
		t.Errorf("max latency = %v, want 40", s.MaxLatency)
	}
	if s.AvgPacketLoss != 50 {
		t.Errorf("avg loss = %v, want 50", s.AvgPacketLoss)
	}
	if s.AvgJitter != 2 {
		t.Errorf("avg jitter = %v, want 2", s.AvgJitter)
	}
	if s.Network != "home" {
		t.Errorf("network = %q, want home", s.Network)
	}
	if s.P50Latency == nil || s.P99Latency == nil {
		t.Fatal("expected percentiles")
	}
	if *s.P99Latency < *s.P50Latency {
		t.Errorf("p99 %v < p50 %v", *s.P99Latency, *s.P50Latency)
	}
}

func TestSummarize_Percentiles(t *testing.T) {
	var windows []types.MetricsWindow
	for i := 1; i <= 100; i++ {
		windows = append(windows, window(t0.Add(time.Duration(i)*time.Minute), "home", types.Float(float64(i)), nil, nil, 0, 0))
	}

	s := Summarize("2024-03-01", windows)

	checks := []struct {
		name string
		got  *float64
		want float64
	}{
		{"p50", s.P50Latency, 50},
		{"p95", s.P95Latency, 95},
		{"p99", s.P99Latency, 99},
	}
	for _, c := range checks {
		if c.got == nil {
			t.Errorf("%s missing", c.name)
			continue
		}
		// 1% relative accuracy plus rank rounding.
		if math.Abs(*c.got-c.want)/c.want > 0.03 {
			t.Errorf("%s = %v, want ~%v", c.name, *c.got, c.want)
		}
	}
}

func TestSummarize_AllLost(t *testing.T) {
	s := Summarize("2024-03-01", []types.MetricsWindow{window(t0, "home", nil, nil, nil, 100, 0)})
	if s.AvgLatency != nil || s.MinLatency != nil || s.MaxLatency != nil || s.P50Latency != nil {
		t.Errorf("latency fields should be nil: %+v", s)
	}
	if s.AvgPacketLoss != 100 {
		t.Errorf("avg loss = %v", s.AvgPacketLoss)
	}
}

func TestSummarizeByDay(t *testing.T) {
	f := types.Float
	windows := []types.MetricsWindow{
		window(t0, "home", f(10), f(10), f(10), 0, 0),
		window(t0.Add(24*time.Hour), "home", f(20), f(20), f(20), 0, 0),
		window(t0.Add(25*time.Hour), "office", f(40), f(40), f(40), 0, 0),
	}

	days := SummarizeByDay(windows)
	if len(days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(days))
	}
	if days[0].Date != "2024-03-02" || days[1].Date != "2024-03-01" {
		t.Errorf("days not newest first: %s, %s", days[0].Date, days[1].Date)
	}
	if *days[0].AvgLatency != 30 || days[0].Network != "" {
		t.Errorf("unexpected mixed-network day: %+v", days[0])
	}
}

func TestCompare(t *testing.T) {
	f := types.Float
	byNetwork := map[string][]types.DaySummary{
		"home": {
			{Date: "2024-03-02", AvgLatency: f(10), AvgJitter: 1, AvgPacketLoss: 0},
			{Date: "2024-03-01", AvgLatency: f(30), AvgJitter: 3, AvgPacketLoss: 10},
		},
		"office": {
			{Date: "2024-03-02", AvgLatency: nil, AvgJitter: 0, AvgPacketLoss: 100},
		},
		"empty": nil,
	}

	got := Compare(byNetwork)

	if _, exists := got["empty"]; exists {
		t.Error("network without data should be left out")
	}

	home := got["home"]
	if home.DataPoints != 2 {
		t.Errorf("data points = %d, want 2", home.DataPoints)
	}
	if *home.OverallAvgLatency != 20 || *home.OverallAvgJitter != 2 || *home.OverallAvgPacketLoss != 5 {
		t.Errorf("unexpected home overall: %+v", home)
	}

	office := got["office"]
	if office.OverallAvgLatency != nil {
		t.Errorf("office latency should be nil, got %v", *office.OverallAvgLatency)
	}
	if *office.OverallAvgPacketLoss != 100 {
		t.Errorf("office loss = %v", *office.OverallAvgPacketLoss)
	}
}
