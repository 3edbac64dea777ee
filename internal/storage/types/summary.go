package types

// DaySummary is one day of MetricsWindows re-aggregated.
type DaySummary struct {
	Date    string `json:"date"`
	Network string `json:"network,omitempty"`

	AvgLatency    *float64 `json:"avg_latency"`
	AvgJitter     float64  `json:"avg_jitter"`
	AvgPacketLoss float64  `json:"avg_packet_loss"`
	MaxLatency    *float64 `json:"max_latency"`
	MinLatency    *float64 `json:"min_latency"`

	// Percentiles of the per-window average latency.
	P50Latency *float64 `json:"p50_latency,omitempty"`
	P95Latency *float64 `json:"p95_latency,omitempty"`
	P99Latency *float64 `json:"p99_latency,omitempty"`

	RecordsCount int `json:"records_count"`
}

// NetworkComparison is the summary of one target on one network.
type NetworkComparison struct {
	DailyData            []DaySummary `json:"daily_data"`
	OverallAvgLatency    *float64     `json:"overall_avg_latency"`
	OverallAvgJitter     *float64     `json:"overall_avg_jitter"`
	OverallAvgPacketLoss *float64     `json:"overall_avg_packet_loss"`
	DataPoints           int          `json:"data_points"`
}
