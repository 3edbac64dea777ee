// Package retention deletes daily log files that fell out of the retention
// period.
package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/xtxerr/netmon/internal/errors"
	"github.com/xtxerr/netmon/internal/logging"
	"github.com/xtxerr/netmon/internal/storage/layout"
)

var log = logging.Component("retention")

// Archiver preserves a metrics file before it is deleted.
type Archiver interface {
	Archive(src, network, target string, date time.Time) error
}

// Manager handles cleanup of expired log files.
type Manager struct {
	mu       sync.Mutex
	layout   layout.Layout
	archiver Archiver
	now      func() time.Time
	stats    Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime  time.Time `json:"last_run_time"`
	FilesDeleted int64     `json:"files_deleted"`
	BytesFreed   int64     `json:"bytes_freed"`
	FilesSkipped int64     `json:"files_skipped"`
	Archived     int64     `json:"archived"`
	Errors       int64     `json:"errors"`
}

// CleanupResult holds the result of a cleanup operation.
type CleanupResult struct {
	Cutoff       time.Time `json:"-"`
	CutoffDate   string    `json:"cutoff_date"`
	DryRun       bool      `json:"dry_run"`
	DeletedFiles []string  `json:"deleted_files"`
	FilesDeleted int       `json:"files_removed"`
	BytesFreed   int64     `json:"bytes_freed"`
	FilesSkipped int       `json:"files_skipped"`
	Archived     int       `json:"archived"`
	Errors       []error   `json:"-"`
}

// ErrorStrings returns the collected errors as text.
func (r CleanupResult) ErrorStrings() []string {
	out := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		out = append(out, err.Error())
	}
	return out
}

// Option configures a Manager.
type Option func(*Manager)

// WithArchiver archives metrics files before they are deleted.
func WithArchiver(a Archiver) Option {
	return func(m *Manager) { m.archiver = a }
}

// WithClock replaces the clock used to compute the cutoff.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a retention manager for the files below root.
func New(root string, opts ...Option) *Manager {
	m := &Manager{
		layout: layout.New(root),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Cutoff returns the first date that is kept when keeping days days.
func (m *Manager) Cutoff(days int) time.Time {
	return layout.Date(m.now()).AddDate(0, 0, -days)
}

// Run deletes raw and metrics files dated strictly before today minus days.
// Per-file failures are collected and do not stop the run.
func (m *Manager) Run(days int) (CleanupResult, error) {
	return m.run(days, false)
}

// DryRun reports what Run would delete without touching any file.
func (m *Manager) DryRun(days int) (CleanupResult, error) {
	return m.run(days, true)
}

func (m *Manager) run(days int, dryRun bool) (CleanupResult, error) {
	if days < 0 {
		return CleanupResult{}, errors.Wrapf(errors.ErrInvalidDays, "days=%d", days)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.Cutoff(days)
	result := CleanupResult{
		Cutoff:     cutoff,
		CutoffDate: layout.FormatDate(cutoff),
		DryRun:     dryRun,
	}

	files, err := m.listFiles()
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, errors.Wrap(errors.ErrStorageRead, err.Error())
	}

	for _, file := range files {
		if !file.date.Before(cutoff) {
			result.FilesSkipped++
			continue
		}

		if dryRun {
			result.DeletedFiles = append(result.DeletedFiles, file.path)
			result.FilesDeleted++
			result.BytesFreed += file.size
			continue
		}

		if m.archiver != nil && file.kind == layout.KindMetrics {
			if err := m.archiver.Archive(file.path, file.network, file.target, file.date); err != nil {
				// Keep the CSV when it could not be archived.
				log.Warn("archive failed", "path", file.path, "error", err)
				result.Errors = append(result.Errors, fmt.Errorf("archive %s: %w", file.path, err))
				continue
			}
			result.Archived++
		}

		if err := os.Remove(file.path); err != nil {
			log.Warn("delete failed", "path", file.path, "error", err)
			result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", file.path, err))
			continue
		}

		result.DeletedFiles = append(result.DeletedFiles, file.path)
		result.FilesDeleted++
		result.BytesFreed += file.size
	}

	if !dryRun {
		m.pruneEmptyDirs()

		m.stats.LastRunTime = m.now()
		m.stats.FilesDeleted += int64(result.FilesDeleted)
		m.stats.BytesFreed += result.BytesFreed
		m.stats.FilesSkipped += int64(result.FilesSkipped)
		m.stats.Archived += int64(result.Archived)
		m.stats.Errors += int64(len(result.Errors))

		log.Info("cleanup finished",
			"cutoff", result.CutoffDate,
			"deleted", result.FilesDeleted,
			"freed", formatBytes(result.BytesFreed),
			"errors", len(result.Errors))
	}

	return result, nil
}

// fileInfo holds information about a log file.
type fileInfo struct {
	path    string
	network string
	target  string
	date    time.Time
	kind    layout.Kind
	size    int64
}

// listFiles lists every log file below root/<network>/<YYYY>/<MM>/.
// Files whose name carries no date are ignored.
func (m *Manager) listFiles() ([]fileInfo, error) {
	networks, err := os.ReadDir(m.layout.Root)
	if err != nil {
		return nil, err
	}

	var files []fileInfo

	for _, n := range networks {
		if !n.IsDir() {
			continue
		}
		months, err := filepath.Glob(filepath.Join(m.layout.Root, n.Name(), "[0-9][0-9][0-9][0-9]", "[0-9][0-9]"))
		if err != nil {
			continue
		}

		for _, dir := range months {
			entries, err := os.ReadDir(dir)
			if err != nil {
				log.Warn("list failed", "dir", dir, "error", err)
				continue
			}

			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}

				target, date, kind, ok := layout.ParseFileName(entry.Name())
				if !ok {
					continue
				}

				info, err := entry.Info()
				if err != nil {
					continue
				}

				files = append(files, fileInfo{
					path:    filepath.Join(dir, entry.Name()),
					network: n.Name(),
					target:  target,
					date:    date,
					kind:    kind,
					size:    info.Size(),
				})
			}
		}
	}

	// Oldest first
	sort.Slice(files, func(i, j int) bool {
		if !files[i].date.Equal(files[j].date) {
			return files[i].date.Before(files[j].date)
		}
		return files[i].path < files[j].path
	})

	return files, nil
}

// pruneEmptyDirs removes month and year directories left empty. The
// current month is kept since the store may have just created it for the
// first row of the month.
func (m *Manager) pruneEmptyDirs() {
	now := m.now()
	months, _ := filepath.Glob(filepath.Join(m.layout.Root, "*", "[0-9][0-9][0-9][0-9]", "[0-9][0-9]"))
	for _, dir := range months {
		network := filepath.Base(filepath.Dir(filepath.Dir(dir)))
		if dir == m.layout.Dir(network, now) {
			continue
		}
		removeIfEmpty(dir)
	}
	years, _ := filepath.Glob(filepath.Join(m.layout.Root, "*", "[0-9][0-9][0-9][0-9]"))
	for _, dir := range years {
		removeIfEmpty(dir)
	}
}

func removeIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	_ = os.Remove(dir)
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// DiskUsage holds disk usage information.
type DiskUsage struct {
	FileCount int   `json:"file_count"`
	TotalSize int64 `json:"total_size"`
}

// GetDiskUsage returns disk usage per network.
func (m *Manager) GetDiskUsage() map[string]DiskUsage {
	m.mu.Lock()
	defer m.mu.Unlock()

	usage := make(map[string]DiskUsage)

	files, err := m.listFiles()
	if err != nil {
		return usage
	}

	for _, f := range files {
		u := usage[f.network]
		u.FileCount++
		u.TotalSize += f.size
		usage[f.network] = u
	}

	return usage
}

// formatBytes formats bytes as human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
