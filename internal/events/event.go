// Package events fans out control-plane lifecycle events to interested
// consumers, either in-process or across replicas through Redis Streams.
package events

import "time"

// Type enumerates the lifecycle events emitted by the orchestrator.
type Type string

const (
	// TypeApplicationCreated fires after an application create workflow
	// completes, including the modules' acceptance.
	TypeApplicationCreated Type = "application.created"
	// TypeApplicationDeleted fires after an application record is removed.
	TypeApplicationDeleted Type = "application.deleted"
	// TypeStreamPulled fires when a pull request succeeds end to end.
	TypeStreamPulled Type = "stream.pulled"
	// TypeStreamPullFailed fires when a pull request fails, after any
	// rollback has run.
	TypeStreamPullFailed Type = "stream.pull_failed"
)

// Event is the wire representation forwarded to subscribers.
type Event struct {
	Type          Type      `json:"type"`
	Application   string    `json:"application"`
	ApplicationID uint32    `json:"applicationId"`
	Stream        string    `json:"stream,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}
