package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/streamwatch/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS targets(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			address TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			quality TEXT NOT NULL DEFAULT 'best',
			enabled BOOLEAN NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS recording_sessions(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			target_id INTEGER NOT NULL REFERENCES targets(id),
			pid INTEGER NOT NULL,
			quality TEXT NOT NULL,
			output_path TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NULL,
			exit_code INTEGER NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_recording_sessions_target ON recording_sessions(target_id);`,
		`CREATE TABLE IF NOT EXISTS daemon_meta(
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS settings(
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) AddTarget(ctx context.Context, t store.Target) (int64, error) {
	if t.Quality == "" {
		t.Quality = "best"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO targets(address, name, quality, enabled, created_at)
		VALUES(?, ?, ?, ?, ?);`,
		t.Address, t.Name, t.Quality, t.Enabled, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *DB) GetTarget(ctx context.Context, id int64) (store.Target, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, name, quality, enabled, created_at
		FROM targets WHERE id = ?;`, id)
	t, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Target{}, store.ErrNotFound
	}
	return t, err
}

func (s *DB) ListTargets(ctx context.Context) ([]store.Target, error) {
	return s.queryTargets(ctx, `
		SELECT id, address, name, quality, enabled, created_at
		FROM targets ORDER BY id;`)
}

func (s *DB) ListEnabledTargets(ctx context.Context) ([]store.Target, error) {
	return s.queryTargets(ctx, `
		SELECT id, address, name, quality, enabled, created_at
		FROM targets WHERE enabled = 1 ORDER BY id;`)
}

func (s *DB) SetTargetEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE targets SET enabled = ? WHERE id = ?;`, enabled, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *DB) InsertSession(ctx context.Context, sess store.Session) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO recording_sessions(target_id, pid, quality, output_path, started_at, ended_at, exit_code)
		VALUES(?, ?, ?, ?, ?, NULL, NULL);`,
		sess.TargetID, sess.PID, sess.Quality, sess.OutputPath, sess.StartedAt.UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *DB) FinishSession(ctx context.Context, id int64, endedAt time.Time, exitCode int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE recording_sessions SET ended_at = ?, exit_code = ? WHERE id = ?;`,
		endedAt.UTC(), exitCode, id)
	return err
}

func (s *DB) UpdateSessionOutputPath(ctx context.Context, id int64, path string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE recording_sessions SET output_path = ? WHERE id = ?;`, path, id)
	return err
}

func (s *DB) ListSessions(ctx context.Context, targetID int64, limit int) ([]store.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if targetID > 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, target_id, pid, quality, output_path, started_at, ended_at, exit_code
			FROM recording_sessions WHERE target_id = ? ORDER BY id DESC LIMIT ?;`, targetID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, target_id, pid, quality, output_path, started_at, ended_at, exit_code
			FROM recording_sessions ORDER BY id DESC LIMIT ?;`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.Session
	for rows.Next() {
		var sess store.Session
		if err := rows.Scan(&sess.ID, &sess.TargetID, &sess.PID, &sess.Quality,
			&sess.OutputPath, &sess.StartedAt, &sess.EndedAt, &sess.ExitCode); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM daemon_meta WHERE key = ?;`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *DB) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daemon_meta(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, key, value)
	return err
}

func (s *DB) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, key, value)
	return err
}

func (s *DB) queryTargets(ctx context.Context, query string) ([]store.Target, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.Target
	for rows.Next() {
		var t store.Target
		if err := rows.Scan(&t.ID, &t.Address, &t.Name, &t.Quality, &t.Enabled, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTarget(row *sql.Row) (store.Target, error) {
	var t store.Target
	err := row.Scan(&t.ID, &t.Address, &t.Name, &t.Quality, &t.Enabled, &t.CreatedAt)
	return t, err
}
