// Package history implements the bounded time-ordered event store: a
// per-program insertion path in O(log N), a periodic eviction pulse,
// and snapshot-consistent range queries.
package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hasip-timurtas/solana-watchtower/internal/events"
	"github.com/hasip-timurtas/solana-watchtower/internal/metrics"
)

// Config bounds the store's size, retention, and eviction cadence.
type Config struct {
	MaxEvents    int
	MaxAgeSecond int
	// EvictionPulse overrides the background sweep cadence; defaults to
	// 10s.
	EvictionPulse time.Duration
	// SkewTolerance is the out-of-order window events are still accepted
	// within.
	SkewTolerance time.Duration
}

const (
	defaultMaxEvents     = 100_000
	defaultMaxAgeSeconds = 3600
	defaultPulse         = 10 * time.Second
	defaultSkew          = 2 * time.Second
)

func (c Config) maxAge() time.Duration {
	if c.MaxAgeSecond <= 0 {
		return defaultMaxAgeSeconds * time.Second
	}
	return time.Duration(c.MaxAgeSecond) * time.Second
}

func (c Config) maxEvents() int {
	if c.MaxEvents <= 0 {
		return defaultMaxEvents
	}
	return c.MaxEvents
}

func (c Config) pulse() time.Duration {
	if c.EvictionPulse <= 0 {
		return defaultPulse
	}
	return c.EvictionPulse
}

func (c Config) skew() time.Duration {
	if c.SkewTolerance <= 0 {
		return defaultSkew
	}
	return c.SkewTolerance
}

// bucket holds one program's events, kept sorted by (Timestamp, ID).
type bucket struct {
	mu     sync.RWMutex
	events []*events.ProgramEvent
}

// History is the concurrency-safe sliding window of recent ProgramEvents.
// Many readers and writers are expected; per-program locking avoids a
// single global mutex becoming a bottleneck.
type History struct {
	cfg Config
	met *metrics.Registry

	bucketsMu sync.RWMutex
	buckets   map[events.ProgramID]*bucket

	sizeMu sync.Mutex
	size   int64
}

// New constructs an empty History.
func New(cfg Config, met *metrics.Registry) *History {
	return &History{
		cfg:     cfg,
		met:     met,
		buckets: make(map[events.ProgramID]*bucket),
	}
}

// Append inserts an event into its program bucket, enforcing the age cap
// synchronously on the inserted bucket.
func (h *History) Append(ev *events.ProgramEvent) {
	if h == nil || ev == nil {
		return
	}
	b := h.bucketFor(ev.ProgramID)

	b.mu.Lock()
	inserted := h.insertLocked(b, ev)
	evicted := h.enforceAgeLocked(b)
	n := len(b.events)
	b.mu.Unlock()

	added := int64(1)
	if !inserted {
		h.observeOutOfOrder()
		added = 0
	}
	h.sizeMu.Lock()
	h.size += added - int64(evicted)
	total := h.size
	h.sizeMu.Unlock()
	_ = n

	if h.met != nil {
		h.met.SetHistorySize(float64(total))
	}
}

// insertLocked places ev in sorted position, rejecting events older than
// SkewTolerance relative to the bucket's newest timestamp; by default
// events older than 2s are dropped and counted in events_out_of_order.
func (h *History) insertLocked(b *bucket, ev *events.ProgramEvent) bool {
	if n := len(b.events); n > 0 {
		newest := b.events[n-1].Timestamp
		if ev.Timestamp.Before(newest.Add(-h.cfg.skew())) {
			return false
		}
	}
	idx := sort.Search(len(b.events), func(i int) bool {
		return !b.events[i].Before(ev)
	})
	b.events = append(b.events, nil)
	copy(b.events[idx+1:], b.events[idx:])
	b.events[idx] = ev
	return true
}

// enforceAgeLocked trims events older than MaxAgeSecond from the bucket
// head and returns the number removed.
func (h *History) enforceAgeLocked(b *bucket) int {
	if len(b.events) == 0 {
		return 0
	}
	cutoff := time.Now().Add(-h.cfg.maxAge())
	i := 0
	for i < len(b.events) && b.events[i].Timestamp.Before(cutoff) {
		i++
	}
	if i == 0 {
		return 0
	}
	b.events = append([]*events.ProgramEvent(nil), b.events[i:]...)
	return i
}

func (h *History) observeOutOfOrder() {
	if h.met != nil {
		h.met.IncEventsOutOfOrder()
	}
}

func (h *History) bucketFor(id events.ProgramID) *bucket {
	h.bucketsMu.RLock()
	b, ok := h.buckets[id]
	h.bucketsMu.RUnlock()
	if ok {
		return b
	}
	h.bucketsMu.Lock()
	defer h.bucketsMu.Unlock()
	if b, ok = h.buckets[id]; ok {
		return b
	}
	b = &bucket{}
	h.buckets[id] = b
	return b
}

// Query returns a snapshot slice of events for programID within
// [from, to), inclusive-exclusive.
func (h *History) Query(programID events.ProgramID, from, to time.Time) []*events.ProgramEvent {
	h.bucketsMu.RLock()
	b, ok := h.buckets[programID]
	h.bucketsMu.RUnlock()
	if !ok {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	start := sort.Search(len(b.events), func(i int) bool { return !b.events[i].Timestamp.Before(from) })
	end := sort.Search(len(b.events), func(i int) bool { return !b.events[i].Timestamp.Before(to) })
	if start >= end {
		return nil
	}
	out := make([]*events.ProgramEvent, end-start)
	copy(out, b.events[start:end])
	return out
}

// Size returns the current total event count across all programs.
func (h *History) Size() int64 {
	h.sizeMu.Lock()
	defer h.sizeMu.Unlock()
	return h.size
}

// OldestTimestamp returns the oldest timestamp retained across all
// programs, or the zero time if the store is empty.
func (h *History) OldestTimestamp() time.Time {
	return h.extreme(func(a, b time.Time) bool { return a.Before(b) })
}

// NewestTimestamp returns the newest timestamp retained across all
// programs, or the zero time if the store is empty.
func (h *History) NewestTimestamp() time.Time {
	return h.extreme(func(a, b time.Time) bool { return a.After(b) })
}

func (h *History) extreme(better func(a, b time.Time) bool) time.Time {
	h.bucketsMu.RLock()
	bkts := make([]*bucket, 0, len(h.buckets))
	for _, b := range h.buckets {
		bkts = append(bkts, b)
	}
	h.bucketsMu.RUnlock()

	var result time.Time
	for _, b := range bkts {
		b.mu.RLock()
		if len(b.events) > 0 {
			head := b.events[0].Timestamp
			tail := b.events[len(b.events)-1].Timestamp
			for _, t := range []time.Time{head, tail} {
				if result.IsZero() || better(t, result) {
					result = t
				}
			}
		}
		b.mu.RUnlock()
	}
	return result
}

// RunEvictionLoop runs the background pulse: at least every 10s, trim
// aged entries then, if still over the global cap, drop the globally
// oldest entries tie-broken by lower ID.
func (h *History) RunEvictionLoop(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.pulse())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.evictPulse()
		}
	}
}

func (h *History) evictPulse() {
	h.bucketsMu.RLock()
	bkts := make([]*bucket, 0, len(h.buckets))
	for _, b := range h.buckets {
		bkts = append(bkts, b)
	}
	h.bucketsMu.RUnlock()

	removedByAge := 0
	for _, b := range bkts {
		b.mu.Lock()
		removedByAge += h.enforceAgeLocked(b)
		b.mu.Unlock()
	}

	h.sizeMu.Lock()
	h.size -= int64(removedByAge)
	over := h.size - int64(h.cfg.maxEvents())
	h.sizeMu.Unlock()

	if over > 0 {
		h.evictGlobalOldest(int(over))
	} else if h.met != nil {
		h.met.SetHistorySize(float64(h.Size()))
	}
}

type globalEntry struct {
	b   *bucket
	idx int
	ev  *events.ProgramEvent
}

// evictGlobalOldest removes n globally-oldest events across all buckets,
// tie-broken by lower ID.
func (h *History) evictGlobalOldest(n int) {
	h.bucketsMu.RLock()
	bkts := make([]*bucket, 0, len(h.buckets))
	for _, b := range h.buckets {
		bkts = append(bkts, b)
	}
	h.bucketsMu.RUnlock()

	var heads []globalEntry
	for _, b := range bkts {
		b.mu.RLock()
		if len(b.events) > 0 {
			heads = append(heads, globalEntry{b: b, idx: 0, ev: b.events[0]})
		}
		b.mu.RUnlock()
	}

	removed := 0
	for removed < n && len(heads) > 0 {
		sort.Slice(heads, func(i, j int) bool {
			return heads[i].ev.Before(heads[j].ev)
		})
		oldest := heads[0]
		oldest.b.mu.Lock()
		if len(oldest.b.events) > 0 && oldest.b.events[0].ID == oldest.ev.ID {
			oldest.b.events = oldest.b.events[1:]
		}
		remaining := len(oldest.b.events)
		oldest.b.mu.Unlock()

		removed++
		if remaining > 0 {
			oldest.b.mu.RLock()
			heads[0].ev = oldest.b.events[0]
			oldest.b.mu.RUnlock()
		} else {
			heads = heads[1:]
		}
	}

	h.sizeMu.Lock()
	h.size -= int64(removed)
	total := h.size
	h.sizeMu.Unlock()
	if h.met != nil {
		h.met.SetHistorySize(float64(total))
	}
}
