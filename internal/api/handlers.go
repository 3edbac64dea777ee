package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/xtxerr/netmon/config"
	"github.com/xtxerr/netmon/internal/constants"
	"github.com/xtxerr/netmon/internal/errors"
	"github.com/xtxerr/netmon/internal/logging"
	"github.com/xtxerr/netmon/internal/monitor"
	"github.com/xtxerr/netmon/internal/network"
	"github.com/xtxerr/netmon/internal/prober"
	"github.com/xtxerr/netmon/internal/storage"
	"github.com/xtxerr/netmon/internal/storage/aggregate"
	"github.com/xtxerr/netmon/internal/storage/codec"
	"github.com/xtxerr/netmon/internal/storage/layout"
	"github.com/xtxerr/netmon/internal/storage/retention"
	"github.com/xtxerr/netmon/internal/storage/types"
)

// =============================================================================
// Responses
// =============================================================================

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status         string                         `json:"status"`
	Uptime         string                         `json:"uptime"`
	CurrentNetwork string                         `json:"current_network"`
	Monitor        monitor.Stats                  `json:"monitor"`
	Storage        *storage.Stats                 `json:"storage,omitempty"`
	Disk           map[string]retention.DiskUsage `json:"disk,omitempty"`
}

type targetInfo struct {
	Host     string              `json:"host"`
	Method   string              `json:"method"`
	Port     int                 `json:"port,omitempty"`
	Interval string              `json:"interval"`
	Timeout  string              `json:"timeout"`
	Stats    *prober.TargetStats `json:"stats,omitempty"`
}

type targetsResponse struct {
	Targets []targetInfo `json:"targets"`
}

type historyResponse struct {
	Target        string                `json:"target"`
	Network       string                `json:"network,omitempty"`
	DaysRequested int                   `json:"days_requested"`
	Samples       []types.Sample        `json:"samples"`
	Metrics       []types.MetricsWindow `json:"metrics"`
}

type summaryResponse struct {
	Target         string             `json:"target"`
	Network        string             `json:"network,omitempty"`
	DailySummaries []types.DaySummary `json:"daily_summaries"`
}

type compareResponse struct {
	Target            string                             `json:"target"`
	DaysAnalyzed      int                                `json:"days_analyzed"`
	NetworkComparison map[string]types.NetworkComparison `json:"network_comparison"`
}

type networksResponse struct {
	CurrentNetwork    string   `json:"current_network"`
	AvailableNetworks []string `json:"available_networks"`
}

type datesResponse struct {
	AvailableDates []string `json:"available_dates"`
}

type cleanupResponse struct {
	retention.CleanupResult
	Errors []string `json:"errors"`
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:         "ok",
		Uptime:         s.now().Sub(s.started).Truncate(time.Second).String(),
		CurrentNetwork: s.currentNetwork(r.Context()),
		Monitor:        s.monitor.Stats(),
	}
	if s.store != nil {
		st := s.store.Stats()
		resp.Storage = &st
		resp.Disk = s.store.Retention().GetDiskUsage()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]prober.TargetStats)
	if s.probes != nil {
		for _, st := range s.probes.Stats() {
			stats[st.Target] = st
		}
	}

	resp := targetsResponse{Targets: make([]targetInfo, 0, len(s.cfg.Targets))}
	for _, t := range s.cfg.Targets {
		info := targetInfo{
			Host:     t.Host,
			Method:   t.Method,
			Port:     t.Port,
			Interval: t.Interval.String(),
			Timeout:  t.Timeout.String(),
		}
		if t.Method != constants.ProbeTCP {
			info.Port = 0
		}
		if st, ok := stats[t.Host]; ok {
			info.Stats = &st
		}
		resp.Targets = append(resp.Targets, info)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	target, ok := s.target(w, r)
	if !ok {
		return
	}
	snap, err := s.monitor.Snapshot(target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	target, ok := s.target(w, r)
	if !ok {
		return
	}
	days, err := parseDays(r, config.DefaultHistoryDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rng := storage.LastDays(target, s.networkParam(r), s.now(), days)
	samples, err := s.samples(r.Context(), rng)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	windows, err := s.windows(r.Context(), rng)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Target:        target,
		Network:       displayNetwork(rng.Network),
		DaysRequested: days,
		Samples:       nonNil(samples),
		Metrics:       nonNil(windows),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	target, ok := s.target(w, r)
	if !ok {
		return
	}
	days, err := parseDays(r, config.DefaultSummaryDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rng := storage.LastDays(target, s.networkParam(r), s.now(), days)
	windows, err := s.windows(r.Context(), rng)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	summaries := aggregate.SummarizeByDay(windows)
	if rng.Network != "" {
		for i := range summaries {
			summaries[i].Network = rng.Network
		}
	}

	writeJSON(w, http.StatusOK, summaryResponse{
		Target:         target,
		Network:        displayNetwork(rng.Network),
		DailySummaries: summaries,
	})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	target, ok := s.target(w, r)
	if !ok {
		return
	}
	days, err := parseDays(r, config.DefaultCompareDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rng := storage.LastDays(target, "", s.now(), days)
	byNetwork, err := s.windowsByNetwork(r.Context(), rng)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	daily := make(map[string][]types.DaySummary, len(byNetwork))
	for n, windows := range byNetwork {
		daily[n] = aggregate.SummarizeByDay(windows)
	}

	writeJSON(w, http.StatusOK, compareResponse{
		Target:            target,
		DaysAnalyzed:      days,
		NetworkComparison: aggregate.Compare(daily),
	})
}

func (s *Server) handleCSV(w http.ResponseWriter, r *http.Request) {
	target, ok := s.target(w, r)
	if !ok {
		return
	}
	st, err := s.monitor.State(target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = constants.ExportRaw
	}

	var (
		header  []string
		records [][]string
	)
	switch kind {
	case constants.ExportRaw:
		header = constants.RawHeader
		for _, sample := range st.Samples.Snapshot() {
			records = append(records, codec.SampleRecord(sample))
		}
	case constants.ExportMetrics:
		header = constants.MetricsHeader
		for _, window := range st.Windows.Snapshot() {
			records = append(records, codec.WindowRecord(window))
		}
	default:
		s.writeError(w, r, fmt.Errorf("kind must be %q or %q: %w",
			constants.ExportRaw, constants.ExportMetrics, errors.ErrInvalidParam))
		return
	}

	body, err := codec.Encode(header, records...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	filename := fmt.Sprintf("%s_%s.csv", layout.TargetFileName(target), kind)
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	current := s.currentNetwork(r.Context())

	seen := map[string]struct{}{current: {}}
	for _, n := range s.monitor.Networks() {
		seen[n] = struct{}{}
	}
	if s.store != nil {
		stored, err := s.store.Networks()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		for _, n := range stored {
			seen[n] = struct{}{}
		}
	}

	available := make([]string, 0, len(seen))
	for n := range seen {
		available = append(available, n)
	}
	sort.Strings(available)

	writeJSON(w, http.StatusOK, networksResponse{
		CurrentNetwork:    current,
		AvailableNetworks: available,
	})
}

func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	dates := []string{}
	if s.store != nil {
		stored, err := s.store.Dates()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		dates = nonNil(stored)
	}
	writeJSON(w, http.StatusOK, datesResponse{AvailableDates: dates})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	days := config.DefaultRetentionDays
	if v := q.Get("days_to_keep"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("days_to_keep %q: %w", v, errors.ErrInvalidParam))
			return
		}
		days = n
	}
	if days < config.MinRetentionDays {
		s.writeError(w, r, fmt.Errorf("cannot keep less than %d days of logs: %w",
			config.MinRetentionDays, errors.ErrRetentionFloor))
		return
	}
	if s.store == nil {
		s.writeError(w, r, errors.Wrap(errors.ErrStorageRoot, "no storage configured"))
		return
	}

	dryRun, _ := strconv.ParseBool(q.Get("dry_run"))

	var (
		res retention.CleanupResult
		err error
	)
	if dryRun {
		res, err = s.store.CleanupDryRun(days)
	} else {
		res, err = s.store.Cleanup(days)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !dryRun {
		s.metrics.CleanupRemoved(res.FilesDeleted)
	}

	logging.WithContext(r.Context()).Info("cleanup requested",
		"component", "api",
		"days_to_keep", days,
		"dry_run", dryRun,
		"files", res.FilesDeleted,
		"errors", len(res.Errors))

	res.DeletedFiles = nonNil(res.DeletedFiles)
	writeJSON(w, http.StatusOK, cleanupResponse{
		CleanupResult: res,
		Errors:        res.ErrorStrings(),
	})
}

// =============================================================================
// Memory and storage merge
// =============================================================================

// samples returns the samples of rng. The buffer answers for everything at
// or after its oldest entry; older days are read from storage.
func (s *Server) samples(ctx context.Context, rng storage.Range) ([]types.Sample, error) {
	since := layout.Date(rng.From)
	mem, err := s.monitor.SamplesSince(rng.Target, rng.Network, since)
	if err != nil {
		return nil, err
	}
	horizon, _, err := s.monitor.Horizon(rng.Target)
	if err != nil {
		return nil, err
	}
	if s.store == nil || !needsStorage(horizon, since) {
		return mem, nil
	}

	stored, errs := s.store.SamplesInRange(storageRange(rng, since, horizon))
	s.logReadErrors(ctx, errs)
	return append(before(stored, horizon), mem...), nil
}

// windows returns the metrics windows of rng, merged like samples.
func (s *Server) windows(ctx context.Context, rng storage.Range) ([]types.MetricsWindow, error) {
	since := layout.Date(rng.From)
	mem, err := s.monitor.WindowsSince(rng.Target, rng.Network, since)
	if err != nil {
		return nil, err
	}
	_, horizon, err := s.monitor.Horizon(rng.Target)
	if err != nil {
		return nil, err
	}
	if s.store == nil || !needsStorage(horizon, since) {
		return mem, nil
	}

	stored, errs := s.store.WindowsInRange(storageRange(rng, since, horizon))
	s.logReadErrors(ctx, errs)
	return append(before(stored, horizon), mem...), nil
}

// windowsByNetwork returns the metrics windows of rng grouped by network.
func (s *Server) windowsByNetwork(ctx context.Context, rng storage.Range) (map[string][]types.MetricsWindow, error) {
	since := layout.Date(rng.From)
	mem, err := s.monitor.WindowsSince(rng.Target, rng.Network, since)
	if err != nil {
		return nil, err
	}
	_, horizon, err := s.monitor.Horizon(rng.Target)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]types.MetricsWindow)
	if s.store != nil && needsStorage(horizon, since) {
		stored, errs := s.store.WindowsByNetwork(storageRange(rng, since, horizon))
		s.logReadErrors(ctx, errs)
		for n, windows := range stored {
			if windows = before(windows, horizon); len(windows) > 0 {
				out[n] = windows
			}
		}
	}
	for _, w := range mem {
		out[w.Network] = append(out[w.Network], w)
	}
	return out, nil
}

func needsStorage(horizon, since time.Time) bool {
	return horizon.IsZero() || horizon.After(since)
}

func storageRange(rng storage.Range, since, horizon time.Time) storage.Range {
	to := rng.To
	if !horizon.IsZero() {
		to = horizon
	}
	return storage.Range{Target: rng.Target, Network: rng.Network, From: since, To: to}
}

// before keeps the rows strictly older than horizon. A zero horizon keeps
// everything.
func before[T interface{ Time() time.Time }](rows []T, horizon time.Time) []T {
	if horizon.IsZero() {
		return rows
	}
	out := rows[:0]
	for _, row := range rows {
		if row.Time().Before(horizon) {
			out = append(out, row)
		}
	}
	return out
}

func (s *Server) logReadErrors(ctx context.Context, errs []error) {
	for _, err := range errs {
		logging.WithContext(ctx).Warn("history read failed", "component", "api", "error", err)
	}
}

// =============================================================================
// Helpers
// =============================================================================

// target resolves the {target} path variable, answering 404 for unknown
// targets.
func (s *Server) target(w http.ResponseWriter, r *http.Request) (string, bool) {
	target := mux.Vars(r)["target"]
	if !s.monitor.Has(target) {
		s.writeError(w, r, errors.ErrTargetNotFound)
		return "", false
	}
	return target, true
}

func (s *Server) currentNetwork(ctx context.Context) string {
	if s.network == nil {
		return constants.UnknownNetwork
	}
	return s.network.Current(ctx)
}

// parseDays reads the "days" query parameter.
func parseDays(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("days")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > config.MaxQueryDays {
		return 0, fmt.Errorf("days must be between 1 and %d: %w", config.MaxQueryDays, errors.ErrInvalidDays)
	}
	return n, nil
}

// AllNetworks as the "network" parameter merges every network.
const AllNetworks = "*"

// networkParam resolves the "network" query parameter to its on-disk form.
// Without it the current network is used; AllNetworks yields no filter.
func (s *Server) networkParam(r *http.Request) string {
	v := strings.TrimSpace(r.URL.Query().Get("network"))
	switch v {
	case "":
		return s.currentNetwork(r.Context())
	case AllNetworks:
		return ""
	}
	return network.Sanitize(v)
}

func displayNetwork(n string) string {
	if n == "" {
		return AllNetworks
	}
	return n
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("write response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.ErrorToStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context()).Error("request failed",
			"component", "api",
			"path", r.URL.Path,
			"error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
