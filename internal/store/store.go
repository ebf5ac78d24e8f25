package store

import (
	"context"
	"time"
)

// Event is one persisted lifecycle transition: a worker start/stop/restart,
// an unexpected exit, or a scale decision. Detail carries the error text or
// decision magnitude when relevant.
type Event struct {
	Kind       string
	WorkerID   string
	PID        int
	Detail     string
	OccurredAt time.Time
}

// Event kinds written by the orchestrator.
const (
	EventStart     = "start"
	EventStop      = "stop"
	EventRestart   = "restart"
	EventFailed    = "failed"
	EventScaleUp   = "scale_up"
	EventScaleDown = "scale_down"
)

// Store persists lifecycle events. Implementations must be safe for
// concurrent use; a nil Store in callers means persistence is disabled.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordEvent(ctx context.Context, e Event) error
	RecentEvents(ctx context.Context, limit int) ([]Event, error)
	Close() error
}
