package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a target or session id does not exist.
var ErrNotFound = errors.New("not found")

// Target is a monitored stream source. Rows are owned by the CLI and the
// settings surface; the daemon only reads them and treats each row as
// immutable during one poll pass.
type Target struct {
	ID        int64     `json:"id"`
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	Quality   string    `json:"quality"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one recording attempt. ended_at and exit_code stay NULL while the
// recorder subprocess is alive; output_path is rewritten once a remux
// succeeds. The daemon never deletes session rows.
type Session struct {
	ID         int64         `json:"id"`
	TargetID   int64         `json:"target_id"`
	PID        int           `json:"pid"`
	Quality    string        `json:"quality"`
	OutputPath string        `json:"output_path"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    sql.NullTime  `json:"ended_at"`
	ExitCode   sql.NullInt64 `json:"exit_code"`
}

// Store is the persistence collaborator for the daemon: targets to watch,
// recording-session history, daemon metadata and runtime settings.
type Store interface {
	EnsureSchema(ctx context.Context) error

	AddTarget(ctx context.Context, t Target) (int64, error)
	GetTarget(ctx context.Context, id int64) (Target, error)
	ListTargets(ctx context.Context) ([]Target, error)
	ListEnabledTargets(ctx context.Context) ([]Target, error)
	SetTargetEnabled(ctx context.Context, id int64, enabled bool) error

	InsertSession(ctx context.Context, s Session) (int64, error)
	FinishSession(ctx context.Context, id int64, endedAt time.Time, exitCode int) error
	UpdateSessionOutputPath(ctx context.Context, id int64, path string) error
	ListSessions(ctx context.Context, targetID int64, limit int) ([]Session, error)

	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error

	// ListSettings returns the runtime-tunable settings table as key/value
	// pairs; the daemon re-reads it on /reload.
	ListSettings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error

	Close() error
}
