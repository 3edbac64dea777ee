// Package types defines the measurement records shared by the prober,
// the aggregator, the stores and the API.
//
// Key types:
//   - Sample: one probe attempt against one target (latency or loss)
//   - MetricsWindow: quality statistics over one aggregation window
//   - DaySummary: MetricsWindows of one day re-aggregated
package types
