package aggregate

import (
	"math"
	"sort"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/netmon/config"
	"github.com/xtxerr/netmon/internal/constants"
	"github.com/xtxerr/netmon/internal/storage/types"
)

// Summarize re-aggregates the windows of one day.
//
// Averages are taken over the windows that carry the field; windows with
// full loss still count towards packet loss and RecordsCount. Percentiles
// are approximated over the per-window average latency.
func Summarize(date string, windows []types.MetricsWindow) types.DaySummary {
	s := types.DaySummary{
		Date:         date,
		RecordsCount: len(windows),
	}
	if len(windows) == 0 {
		return s
	}

	sketch, err := ddsketch.NewDefaultDDSketch(config.DefaultSketchAccuracy)
	if err != nil {
		sketch = nil
	}

	var (
		latSum, jitterSum, lossSum float64
		latN                       int
		lo                         = math.MaxFloat64
		hi                         = -math.MaxFloat64
		haveMin, haveMax           bool
	)

	networks := make(map[string]struct{})

	for i := range windows {
		w := &windows[i]
		networks[w.Network] = struct{}{}

		jitterSum += w.Jitter
		lossSum += w.PacketLossPercent

		if w.AverageLatency != nil {
			latSum += *w.AverageLatency
			latN++
			if sketch != nil && *w.AverageLatency >= 0 {
				_ = sketch.Add(*w.AverageLatency)
			}
		}
		if w.MinLatency != nil && *w.MinLatency < lo {
			lo = *w.MinLatency
			haveMin = true
		}
		if w.MaxLatency != nil && *w.MaxLatency > hi {
			hi = *w.MaxLatency
			haveMax = true
		}
	}

	n := float64(len(windows))
	s.AvgJitter = jitterSum / n
	s.AvgPacketLoss = lossSum / n

	if latN > 0 {
		s.AvgLatency = types.Float(latSum / float64(latN))
	}
	if haveMin {
		s.MinLatency = types.Float(lo)
	}
	if haveMax {
		s.MaxLatency = types.Float(hi)
	}

	if len(networks) == 1 {
		s.Network = windows[0].Network
	}

	if sketch != nil && !sketch.IsEmpty() {
		if v, err := sketch.GetValueAtQuantile(0.50); err == nil {
			s.P50Latency = types.Float(v)
		}
		if v, err := sketch.GetValueAtQuantile(0.95); err == nil {
			s.P95Latency = types.Float(v)
		}
		if v, err := sketch.GetValueAtQuantile(0.99); err == nil {
			s.P99Latency = types.Float(v)
		}
	}

	return s
}

// SummarizeByDay groups windows by their UTC date and summarizes each day.
// The result is ordered newest day first.
func SummarizeByDay(windows []types.MetricsWindow) []types.DaySummary {
	byDay := make(map[string][]types.MetricsWindow)
	for _, w := range windows {
		day := w.Timestamp.UTC().Format(constants.DateLayout)
		byDay[day] = append(byDay[day], w)
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))

	out := make([]types.DaySummary, 0, len(days))
	for _, day := range days {
		out = append(out, Summarize(day, byDay[day]))
	}
	return out
}

// Compare builds the per-network overview of daily summaries. Networks
// without any day of data are left out.
func Compare(byNetwork map[string][]types.DaySummary) map[string]types.NetworkComparison {
	out := make(map[string]types.NetworkComparison, len(byNetwork))

	for network, days := range byNetwork {
		if len(days) == 0 {
			continue
		}

		var (
			latSum, jitterSum, lossSum float64
			latN                       int
		)
		for _, d := range days {
			if d.AvgLatency != nil {
				latSum += *d.AvgLatency
				latN++
			}
			jitterSum += d.AvgJitter
			lossSum += d.AvgPacketLoss
		}

		c := types.NetworkComparison{
			DailyData:            days,
			OverallAvgJitter:     types.Float(jitterSum / float64(len(days))),
			OverallAvgPacketLoss: types.Float(lossSum / float64(len(days))),
			DataPoints:           len(days),
		}
		if latN > 0 {
			c.OverallAvgLatency = types.Float(latSum / float64(latN))
		}
		out[network] = c
	}

	return out
}
