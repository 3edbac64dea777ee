package storage

import (
	"sort"
	"time"

	"github.com/xtxerr/netmon/internal/storage/layout"
	"github.com/xtxerr/netmon/internal/storage/types"
)

// Range selects the files of one target between two dates, inclusive.
// An empty Network matches every network directory.
type Range struct {
	Target  string
	Network string
	From    time.Time
	To      time.Time
}

// Days returns the UTC dates covered by r, oldest first.
func (r Range) Days() []time.Time {
	from := layout.Date(r.From)
	to := layout.Date(r.To)

	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// LastDays returns the range of the most recent days days ending at now.
func LastDays(target, network string, now time.Time, days int) Range {
	if days < 1 {
		days = 1
	}
	return Range{
		Target:  target,
		Network: network,
		From:    now.AddDate(0, 0, -(days - 1)),
		To:      now,
	}
}

func (s *Store) networksFor(network string) ([]string, error) {
	if network != "" {
		return []string{network}, nil
	}
	return s.Networks()
}

// SamplesInRange reads the raw files of r, merged across networks in time
// order. Per-file errors are returned alongside whatever could be read.
func (s *Store) SamplesInRange(r Range) ([]types.Sample, []error) {
	networks, err := s.networksFor(r.Network)
	if err != nil {
		return nil, []error{err}
	}

	var (
		out  []types.Sample
		errs []error
	)
	for _, day := range r.Days() {
		for _, network := range networks {
			samples, err := s.ReadSamples(network, r.Target, day)
			if err != nil {
				errs = append(errs, err)
			}
			out = append(out, samples...)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, errs
}

// WindowsInRange reads the metrics files of r, merged across networks in
// time order.
func (s *Store) WindowsInRange(r Range) ([]types.MetricsWindow, []error) {
	networks, err := s.networksFor(r.Network)
	if err != nil {
		return nil, []error{err}
	}

	var (
		out  []types.MetricsWindow
		errs []error
	)
	for _, day := range r.Days() {
		for _, network := range networks {
			windows, err := s.ReadWindows(network, r.Target, day)
			if err != nil {
				errs = append(errs, err)
			}
			out = append(out, windows...)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, errs
}

// WindowsByNetwork reads the metrics files of r grouped by network.
// Networks without any window are left out.
func (s *Store) WindowsByNetwork(r Range) (map[string][]types.MetricsWindow, []error) {
	networks, err := s.networksFor(r.Network)
	if err != nil {
		return nil, []error{err}
	}

	out := make(map[string][]types.MetricsWindow)
	var errs []error
	for _, network := range networks {
		for _, day := range r.Days() {
			windows, err := s.ReadWindows(network, r.Target, day)
			if err != nil {
				errs = append(errs, err)
			}
			if len(windows) > 0 {
				out[network] = append(out[network], windows...)
			}
		}
	}
	return out, errs
}
