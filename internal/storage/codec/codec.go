// Package codec converts samples and metrics windows to and from the rows
// of the CSV log files.
package codec

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xtxerr/netmon/internal/constants"
	"github.com/xtxerr/netmon/internal/errors"
	"github.com/xtxerr/netmon/internal/storage/types"
)

// TimeLayout is the timestamp format of every row.
const TimeLayout = time.RFC3339Nano

// SampleRecord returns the raw file row of s.
func SampleRecord(s types.Sample) []string {
	latency := ""
	if v, ok := s.Latency(); ok {
		latency = formatLatency(v)
	}
	return []string{formatTime(s.Timestamp), latency, s.Network}
}

// WindowRecord returns the metrics file row of w.
func WindowRecord(w types.MetricsWindow) []string {
	return []string{
		formatTime(w.Timestamp),
		w.Network,
		strconv.FormatFloat(w.PacketLossPercent, 'f', 2, 64),
		formatOptional(w.AverageLatency),
		formatOptional(w.MinLatency),
		formatOptional(w.MaxLatency),
		formatLatency(w.Jitter),
		formatLatency(w.StdDeviation),
	}
}

// Encode renders records as CSV text. When header is non-nil it is written
// first.
func Encode(header []string, records ...[]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if header != nil {
		if err := w.Write(header); err != nil {
			return nil, err
		}
	}
	if err := w.WriteAll(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseSample parses a raw file row.
func ParseSample(rec []string, target string) (types.Sample, error) {
	if len(rec) < 2 {
		return types.Sample{}, fmt.Errorf("%d fields: %w", len(rec), errors.ErrMalformedRow)
	}

	ts, err := parseTime(rec[0])
	if err != nil {
		return types.Sample{}, err
	}

	network := constants.UnknownNetwork
	if len(rec) > 2 && rec[2] != "" {
		network = rec[2]
	}

	if rec[1] == "" {
		return types.NewLoss(ts, target, network), nil
	}

	latency, err := strconv.ParseFloat(rec[1], 64)
	if err != nil {
		return types.Sample{}, fmt.Errorf("latency %q: %w", rec[1], errors.ErrMalformedRow)
	}
	return types.NewSuccess(ts, target, network, latency), nil
}

// ParseWindow parses a metrics file row.
func ParseWindow(rec []string, target string) (types.MetricsWindow, error) {
	if len(rec) < len(constants.MetricsHeader) {
		return types.MetricsWindow{}, fmt.Errorf("%d fields: %w", len(rec), errors.ErrMalformedRow)
	}

	ts, err := parseTime(rec[0])
	if err != nil {
		return types.MetricsWindow{}, err
	}

	w := types.MetricsWindow{
		Timestamp: ts,
		Network:   rec[1],
		Target:    target,
	}

	if w.PacketLossPercent, err = parseFloat(rec[2]); err != nil {
		return types.MetricsWindow{}, err
	}
	if w.AverageLatency, err = parseOptional(rec[3]); err != nil {
		return types.MetricsWindow{}, err
	}
	if w.MinLatency, err = parseOptional(rec[4]); err != nil {
		return types.MetricsWindow{}, err
	}
	if w.MaxLatency, err = parseOptional(rec[5]); err != nil {
		return types.MetricsWindow{}, err
	}
	if w.Jitter, err = parseFloat(rec[6]); err != nil {
		return types.MetricsWindow{}, err
	}
	if w.StdDeviation, err = parseFloat(rec[7]); err != nil {
		return types.MetricsWindow{}, err
	}

	return w, nil
}

// ReadSamples parses a raw file. Malformed rows are skipped and counted.
func ReadSamples(r io.Reader, target string) ([]types.Sample, int, error) {
	var out []types.Sample
	skipped, err := readRows(r, func(rec []string) error {
		s, err := ParseSample(rec, target)
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, skipped, err
}

// ReadWindows parses a metrics file. Malformed rows are skipped and counted.
func ReadWindows(r io.Reader, target string) ([]types.MetricsWindow, int, error) {
	var out []types.MetricsWindow
	skipped, err := readRows(r, func(rec []string) error {
		w, err := ParseWindow(rec, target)
		if err != nil {
			return err
		}
		out = append(out, w)
		return nil
	})
	return out, skipped, err
}

func readRows(r io.Reader, fn func([]string) error) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	skipped := 0
	first := true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return skipped, nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				skipped++
				continue
			}
			return skipped, errors.Wrap(errors.ErrStorageRead, err.Error())
		}

		if first {
			first = false
			if len(rec) > 0 && rec[0] == "timestamp" {
				continue
			}
		}

		if err := fn(rec); err != nil {
			skipped++
		}
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	ts, err := time.Parse(TimeLayout, s)
	if err != nil {
		// Older files carry naive ISO timestamps.
		ts, err = time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp %q: %w", s, errors.ErrMalformedRow)
		}
	}
	return ts, nil
}

func formatLatency(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatLatency(*v)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("number %q: %w", s, errors.ErrMalformedRow)
	}
	return v, nil
}

func parseOptional(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("number %q: %w", s, errors.ErrMalformedRow)
	}
	return &v, nil
}
