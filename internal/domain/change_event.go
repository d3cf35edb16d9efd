package domain

import "time"

// ChangeOperation describes a persisted activity operation for a funnel.
type ChangeOperation string

// ChangeOperation values used by the local activity ledger.
const (
	ChangeOperationCreate  ChangeOperation = "create"
	ChangeOperationUpdate  ChangeOperation = "update"
	ChangeOperationArchive ChangeOperation = "archive"
	ChangeOperationRestore ChangeOperation = "restore"
	ChangeOperationDelete  ChangeOperation = "delete"
)

// ChangeEvent represents a single activity-log entry for a funnel.
type ChangeEvent struct {
	ID         int64             `json:"id"`
	FunnelID   string            `json:"funnel_id"`
	Operation  ChangeOperation   `json:"operation"`
	ActorID    string            `json:"actor_id"`
	ActorType  ActorType         `json:"actor_type"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
