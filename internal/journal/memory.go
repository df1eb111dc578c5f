package journal

import (
	"context"
	"sync"
	"time"
)

const defaultMemoryCapacity = 1024

// MemoryRecorder keeps the journal in memory. It is safe for concurrent use
// and primarily intended for development or single-instance deployments; the
// oldest entries are discarded once the capacity is reached.
type MemoryRecorder struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
}

// NewMemoryRecorder constructs an in-memory recorder. A capacity of zero or
// less selects the default.
func NewMemoryRecorder(capacity int) *MemoryRecorder {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryRecorder{capacity: capacity}
}

// Append stores the entry, evicting the oldest record when full.
func (r *MemoryRecorder) Append(_ context.Context, entry Entry) error {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	r.mu.Lock()
	if len(r.entries) >= r.capacity {
		r.entries = r.entries[1:]
	}
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return nil
}

// Recent returns up to limit entries, newest first.
func (r *MemoryRecorder) Recent(_ context.Context, limit int) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.entries) {
		limit = len(r.entries)
	}
	out := make([]Entry, 0, limit)
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.entries[i])
	}
	return out, nil
}

// PruneOlderThan drops entries recorded before cutoff.
func (r *MemoryRecorder) PruneOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	removed := 0
	for _, entry := range r.entries {
		if entry.OccurredAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	r.entries = kept
	return removed, nil
}

// Ping always reports success for the in-memory recorder.
func (r *MemoryRecorder) Ping(context.Context) error {
	return nil
}

// Close is a no-op for the in-memory recorder.
func (r *MemoryRecorder) Close(context.Context) error {
	return nil
}
