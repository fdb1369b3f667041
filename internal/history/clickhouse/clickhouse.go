package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/streamwatch/internal/history"
)

// Sink sends recording events to ClickHouse using the official Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to ClickHouse at addr (host:port). The table must exist; see
// EnsureTable for a development helper.
func New(addr, database, username, password, table string) (*Sink, error) {
	if table == "" {
		table = "recording_history"
	}
	if database == "" {
		database = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return &Sink{conn: conn, table: table}, nil
}

// EnsureTable creates the history table when missing.
func (s *Sink) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		occurred_at DateTime64(3),
		event String,
		session_id Int64,
		target_id Int64,
		target_name String,
		pid Int32,
		quality String,
		output_path String,
		exit_code Nullable(Int64)
	) ENGINE = MergeTree() ORDER BY (target_id, occurred_at)`, s.table)
	return s.conn.Exec(ctx, query)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (occurred_at, event, session_id, target_id, target_name, pid, quality, output_path, exit_code) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	exitCode := interface{}(nil)
	if e.ExitCode.Valid {
		exitCode = e.ExitCode.Int64
	}
	err := s.conn.Exec(ctx, query,
		e.OccurredAt,
		string(e.Type),
		e.SessionID,
		e.TargetID,
		e.TargetName,
		int32(e.PID),
		e.Quality,
		e.OutputPath,
		exitCode,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
