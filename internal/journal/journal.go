// Package journal records the outcome of every orchestrator operation so
// operators can reconstruct what the control plane did and when. Entries are
// observability data: appending is best-effort and never blocks or fails an
// orchestrator workflow.
package journal

import (
	"context"
	"time"
)

// Operation names used by the orchestrator when appending entries.
const (
	OpCreateApplication = "create_application"
	OpDeleteApplication = "delete_application"
	OpPullStream        = "pull_stream"
)

// Entry is a single journal record.
type Entry struct {
	Op            string    `json:"op"`
	Application   string    `json:"application"`
	ApplicationID uint32    `json:"applicationId"`
	Stream        string    `json:"stream,omitempty"`
	Result        string    `json:"result"`
	Detail        string    `json:"detail,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Recorder persists journal entries. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// Append stores one entry. OccurredAt is stamped by the recorder when
	// zero.
	Append(ctx context.Context, entry Entry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	// PruneOlderThan removes entries older than cutoff and reports how
	// many were removed.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
	// Close releases backing resources.
	Close(ctx context.Context) error
}
