// Package buffer provides the bounded in-memory buffers that back the live
// API views.
package buffer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Timed is anything ordered by a timestamp.
type Timed interface {
	Time() time.Time
}

// Ring is a thread-safe circular buffer of time-ordered entries.
//
// It is bounded both by count (capacity) and by age (maxAge, measured back
// from the newest entry). When either bound is exceeded the oldest entries
// are evicted first. Push is atomic with respect to readers: a reader sees
// the buffer either before or after the append and its evictions.
type Ring[T Timed] struct {
	mu       sync.RWMutex
	data     []T
	head     int64 // Next write position
	tail     int64 // Oldest data position
	count    int64 // Current number of elements
	capacity int64
	maxAge   time.Duration

	// Statistics
	pushCount  atomic.Int64
	dropCount  atomic.Int64
	evictCount atomic.Int64
}

// New creates a Ring holding at most capacity entries no older than maxAge
// relative to the newest entry. maxAge <= 0 disables the age bound.
func New[T Timed](capacity int, maxAge time.Duration) *Ring[T] {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Ring[T]{
		data:     make([]T, capacity),
		capacity: int64(capacity),
		maxAge:   maxAge,
	}
}

// Push appends an entry, evicting the oldest entries when the buffer is full
// or when they fall outside the age bound.
//
// Entries normally arrive in time order. An entry older than the newest one
// is inserted at its ordered position; one that would immediately be
// evicted is dropped and Push returns false.
func (r *Ring[T]) Push(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := item.Time()

	if r.count > 0 && ts.Before(r.at(r.count-1).Time()) {
		if !r.insertOrdered(item) {
			r.dropCount.Add(1)
			return false
		}
	} else {
		if r.count >= r.capacity {
			r.evictOldest()
		}
		r.data[r.head%r.capacity] = item
		r.head++
		r.count++
	}

	r.pushCount.Add(1)
	r.evictExpired()
	return true
}

// insertOrdered places an out-of-order item. Must be called with the lock held.
func (r *Ring[T]) insertOrdered(item T) bool {
	ts := item.Time()

	newest := r.at(r.count - 1).Time()
	if r.maxAge > 0 && ts.Before(newest.Add(-r.maxAge)) {
		return false
	}

	// Position of the first entry newer than item.
	pos := r.count - 1
	for pos > 0 && ts.Before(r.at(pos-1).Time()) {
		pos--
	}

	if r.count >= r.capacity {
		if pos == 0 {
			// Older than everything in a full buffer.
			return false
		}
		r.evictOldest()
		pos--
	}

	// Shift [pos, count) one slot towards head.
	for i := r.count; i > pos; i-- {
		r.set(i, r.at(i-1))
	}
	r.set(pos, item)
	r.head++
	r.count++
	return true
}

// evictOldest drops the oldest entry. Must be called with the lock held.
func (r *Ring[T]) evictOldest() {
	var zero T
	r.data[r.tail%r.capacity] = zero // Clear for GC
	r.tail++
	r.count--
	r.evictCount.Add(1)
}

// evictExpired drops entries older than maxAge before the newest entry.
// Must be called with the lock held.
func (r *Ring[T]) evictExpired() {
	if r.maxAge <= 0 || r.count == 0 {
		return
	}
	cutoff := r.at(r.count - 1).Time().Add(-r.maxAge)
	for r.count > 0 && r.at(0).Time().Before(cutoff) {
		r.evictOldest()
	}
}

// at returns the i-th entry counted from the oldest.
func (r *Ring[T]) at(i int64) T {
	return r.data[(r.tail+i)%r.capacity]
}

func (r *Ring[T]) set(i int64, v T) {
	r.data[(r.tail+i)%r.capacity] = v
}

// PeekNewest returns the newest entry without removing it.
// Returns false if the buffer is empty.
func (r *Ring[T]) PeekNewest() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		var zero T
		return zero, false
	}
	return r.at(r.count - 1), true
}

// Len returns the current number of entries in the buffer.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int(r.count)
}

// Snapshot returns a copy of all entries, oldest first.
func (r *Ring[T]) Snapshot() []T {
	return r.Query(nil, 0)
}

// Query returns entries accepted by match, oldest first. A nil match
// accepts everything; limit <= 0 means no limit.
func (r *Ring[T]) Query(match func(T) bool, limit int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return nil
	}

	maxResults := limit
	if maxResults <= 0 {
		maxResults = int(r.count)
	}

	results := make([]T, 0, min(maxResults, int(r.count)))
	for i := int64(0); i < r.count && len(results) < maxResults; i++ {
		item := r.at(i)
		if match == nil || match(item) {
			results = append(results, item)
		}
	}

	return results
}

// QueryRange returns entries with since <= t < until, oldest first.
// A zero since or until leaves that side open.
func (r *Ring[T]) QueryRange(since, until time.Time) []T {
	return r.Query(func(item T) bool {
		ts := item.Time()
		if !since.IsZero() && ts.Before(since) {
			return false
		}
		if !until.IsZero() && !ts.Before(until) {
			return false
		}
		return true
	}, 0)
}

// EvictOlderThan removes entries older than cutoff.
// Returns the number of entries evicted.
func (r *Ring[T]) EvictOlderThan(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for r.count > 0 && r.at(0).Time().Before(cutoff) {
		r.evictOldest()
		evicted++
	}

	return evicted
}

// TimeRange returns the timestamps of the oldest and newest entries.
// Returns zero times if the buffer is empty.
func (r *Ring[T]) TimeRange() (oldest, newest time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return time.Time{}, time.Time{}
	}
	return r.at(0).Time(), r.at(r.count - 1).Time()
}

// Stats returns buffer statistics.
func (r *Ring[T]) Stats() BufferStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return BufferStats{
		Capacity:   int(r.capacity),
		Count:      int(r.count),
		UsageRatio: float64(r.count) / float64(r.capacity),
		PushCount:  r.pushCount.Load(),
		DropCount:  r.dropCount.Load(),
		EvictCount: r.evictCount.Load(),
	}
}

// BufferStats holds buffer statistics.
type BufferStats struct {
	Capacity   int     `json:"capacity"`
	Count      int     `json:"count"`
	UsageRatio float64 `json:"usage_ratio"`
	PushCount  int64   `json:"push_count"`
	DropCount  int64   `json:"drop_count"`
	EvictCount int64   `json:"evict_count"`
}
