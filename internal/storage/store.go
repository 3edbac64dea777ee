package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/netmon/internal/constants"
	"github.com/xtxerr/netmon/internal/errors"
	"github.com/xtxerr/netmon/internal/logging"
	"github.com/xtxerr/netmon/internal/storage/archive"
	"github.com/xtxerr/netmon/internal/storage/codec"
	"github.com/xtxerr/netmon/internal/storage/layout"
	"github.com/xtxerr/netmon/internal/storage/retention"
	"github.com/xtxerr/netmon/internal/storage/types"
)

var log = logging.Component("storage")

// Store appends measurements to the CSV log tree and reads them back.
//
// Appends to the same file are serialized by a per-file mutex; appends to
// different files run concurrently. Each row is written with a single
// write call on a file opened in append mode.
type Store struct {
	layout    layout.Layout
	archive   *archive.Archive
	retention *retention.Manager
	now       func() time.Time

	// locks maps file path to *sync.Mutex.
	locks sync.Map

	// Statistics
	samplesWritten atomic.Int64
	windowsWritten atomic.Int64
	writeErrors    atomic.Int64
	malformedRows  atomic.Int64
}

// Stats holds store statistics.
type Stats struct {
	Root           string `json:"root"`
	SamplesWritten int64  `json:"samples_written"`
	WindowsWritten int64  `json:"windows_written"`
	WriteErrors    int64  `json:"write_errors"`
	MalformedRows  int64  `json:"malformed_rows"`
	OpenLocks      int    `json:"open_locks"`
}

// Option configures a Store.
type Option func(*Store)

// WithArchive archives expiring metrics files and reads them back when the
// CSV is gone.
func WithArchive(a *archive.Archive) Option {
	return func(s *Store) { s.archive = a }
}

// WithClock replaces the clock used by cleanup.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New opens the log tree at root, creating it if needed. It fails when the
// root cannot be created or written to.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, errors.Wrap(errors.ErrStorageRoot, "empty path")
	}

	s := &Store{
		layout: layout.New(root),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(errors.ErrStorageRoot, "create %s: %v", root, err)
	}

	probe, err := os.CreateTemp(root, ".write-test-*")
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorageRoot, "write %s: %v", root, err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)

	var retOpts []retention.Option
	retOpts = append(retOpts, retention.WithClock(s.now))
	if s.archive != nil {
		retOpts = append(retOpts, retention.WithArchiver(s.archive))
	}
	s.retention = retention.New(root, retOpts...)

	log.Info("store opened", "root", root, "archive", s.archive != nil)
	return s, nil
}

// Root returns the root directory of the log tree.
func (s *Store) Root() string {
	return s.layout.Root
}

// Layout returns the path scheme of the store.
func (s *Store) Layout() layout.Layout {
	return s.layout
}

// Retention returns the retention manager of the store.
func (s *Store) Retention() *retention.Manager {
	return s.retention
}

// AppendSample appends one row to the raw file of the sample's network,
// target and date.
func (s *Store) AppendSample(sample types.Sample) error {
	path := s.layout.RawPath(networkDir(sample.Network), sample.Target, sample.Timestamp)
	if err := s.append(path, constants.RawHeader, codec.SampleRecord(sample)); err != nil {
		return err
	}
	s.samplesWritten.Add(1)
	return nil
}

// AppendWindow appends one row to the metrics file of the window's network,
// target and date.
func (s *Store) AppendWindow(w types.MetricsWindow) error {
	path := s.layout.MetricsPath(networkDir(w.Network), w.Target, w.Timestamp)
	if err := s.append(path, constants.MetricsHeader, codec.WindowRecord(w)); err != nil {
		return err
	}
	s.windowsWritten.Add(1)
	return nil
}

func (s *Store) append(path string, header, record []string) error {
	mu := s.lock(path)
	mu.Lock()
	defer mu.Unlock()

	if err := s.appendLocked(path, header, record); err != nil {
		s.writeErrors.Add(1)
		return err
	}
	return nil
}

func (s *Store) appendLocked(path string, header, record []string) error {
	f, err := openAppend(path)
	if os.IsNotExist(err) {
		// Cleanup pruned the directory between mkdir and open.
		f, err = openAppend(path)
	}
	if err != nil {
		return errors.Wrapf(errors.ErrStorageWrite, "open %s: %v", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(errors.ErrStorageWrite, "stat %s: %v", path, err)
	}

	var hdr []string
	if info.Size() == 0 {
		hdr = header
	}

	data, err := codec.Encode(hdr, record)
	if err != nil {
		return errors.Wrapf(errors.ErrStorageWrite, "encode: %v", err)
	}

	if _, err := f.Write(data); err != nil {
		return errors.Wrapf(errors.ErrStorageWrite, "write %s: %v", path, err)
	}
	return nil
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func (s *Store) lock(path string) *sync.Mutex {
	if mu, ok := s.locks.Load(path); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := s.locks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ReadSamples reads the raw file of a network, target and date in file
// order. A missing file yields no samples and no error.
func (s *Store) ReadSamples(network, target string, date time.Time) ([]types.Sample, error) {
	path := s.layout.RawPath(network, target, date)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(errors.ErrStorageRead, "open %s: %v", path, err)
	}
	defer f.Close()

	samples, skipped, err := codec.ReadSamples(f, target)
	s.countMalformed(path, skipped)
	return samples, err
}

// ReadWindows reads the metrics file of a network, target and date in file
// order. When the CSV is gone the Parquet archive is consulted. A missing
// file yields no windows and no error.
func (s *Store) ReadWindows(network, target string, date time.Time) ([]types.MetricsWindow, error) {
	path := s.layout.MetricsPath(network, target, date)

	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrStorageRead, "open %s: %v", path, err)
		}
		if s.archive == nil {
			return nil, nil
		}
		windows, err := s.archive.ReadWindows(network, layout.TargetFileName(target), date)
		for i := range windows {
			windows[i].Target = target
		}
		return windows, err
	}
	defer f.Close()

	windows, skipped, err := codec.ReadWindows(f, target)
	s.countMalformed(path, skipped)
	return windows, err
}

func (s *Store) countMalformed(path string, n int) {
	if n == 0 {
		return
	}
	s.malformedRows.Add(int64(n))
	log.Warn("skipped malformed rows", "path", path, "count", n)
}

// Networks returns the network directories present in the store, sorted.
func (s *Store) Networks() ([]string, error) {
	entries, err := os.ReadDir(s.layout.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrStorageRead, err.Error())
	}

	var networks []string
	for _, e := range entries {
		if e.IsDir() && e.Name()[0] != '.' {
			networks = append(networks, e.Name())
		}
	}
	sort.Strings(networks)
	return networks, nil
}

// FileRef describes one log file.
type FileRef struct {
	Path    string      `json:"path"`
	Network string      `json:"network"`
	Target  string      `json:"target"`
	Date    string      `json:"date"`
	Kind    layout.Kind `json:"-"`
	Size    int64       `json:"size"`
}

// Files lists every log file in the store.
func (s *Store) Files() ([]FileRef, error) {
	networks, err := s.Networks()
	if err != nil {
		return nil, err
	}

	var refs []FileRef
	for _, network := range networks {
		months, err := filepath.Glob(filepath.Join(s.layout.NetworkDir(network), "[0-9][0-9][0-9][0-9]", "[0-9][0-9]"))
		if err != nil {
			continue
		}
		for _, dir := range months {
			entries, err := os.ReadDir(dir)
			if err != nil {
				continue
			}
			for _, e := range entries {
				target, date, kind, ok := layout.ParseFileName(e.Name())
				if e.IsDir() || !ok {
					continue
				}
				var size int64
				if info, err := e.Info(); err == nil {
					size = info.Size()
				}
				refs = append(refs, FileRef{
					Path:    filepath.Join(dir, e.Name()),
					Network: network,
					Target:  target,
					Date:    layout.FormatDate(date),
					Kind:    kind,
					Size:    size,
				})
			}
		}
	}
	return refs, nil
}

// Dates returns every date that has at least one log file, newest first.
func (s *Store) Dates() ([]string, error) {
	refs, err := s.Files()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, r := range refs {
		seen[r.Date] = struct{}{}
	}

	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// FilesFor lists the log files of target, oldest first. An empty network
// matches every network.
func (s *Store) FilesFor(target, network string) ([]FileRef, error) {
	refs, err := s.Files()
	if err != nil {
		return nil, err
	}

	name := layout.TargetFileName(target)
	var out []FileRef
	for _, r := range refs {
		if r.Target != name {
			continue
		}
		if network != "" && r.Network != network {
			continue
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

// Cleanup deletes files dated before today minus olderThanDays.
func (s *Store) Cleanup(olderThanDays int) (retention.CleanupResult, error) {
	return s.retention.Run(olderThanDays)
}

// CleanupDryRun reports what Cleanup would delete.
func (s *Store) CleanupDryRun(olderThanDays int) (retention.CleanupResult, error) {
	return s.retention.DryRun(olderThanDays)
}

// Stats returns current statistics.
func (s *Store) Stats() Stats {
	locks := 0
	s.locks.Range(func(_, _ any) bool {
		locks++
		return true
	})
	return Stats{
		Root:           s.layout.Root,
		SamplesWritten: s.samplesWritten.Load(),
		WindowsWritten: s.windowsWritten.Load(),
		WriteErrors:    s.writeErrors.Load(),
		MalformedRows:  s.malformedRows.Load(),
		OpenLocks:      locks,
	}
}

// String implements fmt.Stringer.
func (s *Store) String() string {
	return fmt.Sprintf("Store(%s)", s.layout.Root)
}

func networkDir(network string) string {
	if network == "" {
		return constants.UnknownNetwork
	}
	return network
}
