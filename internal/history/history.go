package history

import (
	"context"
	"database/sql"
	"time"
)

// EventType defines the kind of recording lifecycle event.
type EventType string

const (
	EventStarted  EventType = "started"
	EventFinished EventType = "finished"
)

// Event represents a recording lifecycle event to be exported to external
// systems (analytics/statistics). It is append-only and independent from the
// session rows the store keeps.
type Event struct {
	Type       EventType     `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	SessionID  int64         `json:"session_id"`
	TargetID   int64         `json:"target_id"`
	TargetName string        `json:"target_name"`
	PID        int           `json:"pid"`
	Quality    string        `json:"quality"`
	OutputPath string        `json:"output_path"`
	ExitCode   sql.NullInt64 `json:"exit_code"`
}

// Sink is a destination for recording history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
