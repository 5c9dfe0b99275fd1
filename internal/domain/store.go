package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// CallStore persists the append-only call log together with the events each
// call produced. Append must be atomic: either the call and all of its events
// are stored, or nothing is.
type CallStore interface {
	Append(ctx context.Context, call Call, events []Event) error
	List(ctx context.Context, fromBlock uint64) ([]Call, error)
	LastBlock(ctx context.Context) (uint64, error)
}

// EventStore serves the persisted event log.
type EventStore interface {
	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)
}

// AuditEntry is one row of the audit trail.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore records rejected calls and operator actions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
