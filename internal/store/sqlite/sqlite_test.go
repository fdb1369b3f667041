package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loykin/streamwatch/internal/store"
)

func open(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return db
}

func TestTargetCRUD(t *testing.T) {
	db := open(t)
	ctx := context.Background()

	id, err := db.AddTarget(ctx, store.Target{Address: "https://twitch.tv/alpha", Name: "alpha", Enabled: true})
	if err != nil {
		t.Fatalf("add target: %v", err)
	}
	id2, err := db.AddTarget(ctx, store.Target{Address: "https://twitch.tv/beta", Name: "beta", Quality: "720p", Enabled: false})
	if err != nil {
		t.Fatalf("add target2: %v", err)
	}

	got, err := db.GetTarget(ctx, id)
	if err != nil {
		t.Fatalf("get target: %v", err)
	}
	if got.Name != "alpha" || got.Quality != "best" || !got.Enabled {
		t.Fatalf("unexpected target: %+v", got)
	}

	all, err := db.ListTargets(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("list targets: %v (%d)", err, len(all))
	}
	enabled, err := db.ListEnabledTargets(ctx)
	if err != nil || len(enabled) != 1 || enabled[0].ID != id {
		t.Fatalf("list enabled: %v %+v", err, enabled)
	}

	if err := db.SetTargetEnabled(ctx, id2, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	enabled, _ = db.ListEnabledTargets(ctx)
	if len(enabled) != 2 || enabled[0].ID != id || enabled[1].ID != id2 {
		t.Fatalf("expected stable id order, got %+v", enabled)
	}

	if _, err := db.GetTarget(ctx, 9999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.SetTargetEnabled(ctx, 9999, true); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	db := open(t)
	ctx := context.Background()

	tid, err := db.AddTarget(ctx, store.Target{Address: "https://twitch.tv/alpha", Name: "alpha", Enabled: true})
	if err != nil {
		t.Fatalf("add target: %v", err)
	}

	started := time.Now().UTC().Truncate(time.Second)
	sid, err := db.InsertSession(ctx, store.Session{
		TargetID: tid, PID: 4242, Quality: "720p60",
		OutputPath: "/tmp/alpha.ts", StartedAt: started,
	})
	if err != nil {
		t.Fatalf("insert session: %v", err)
	}

	sessions, err := db.ListSessions(ctx, tid, 10)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("list sessions: %v (%d)", err, len(sessions))
	}
	if sessions[0].EndedAt.Valid || sessions[0].ExitCode.Valid {
		t.Fatalf("active session must have NULL ended_at/exit_code: %+v", sessions[0])
	}

	ended := started.Add(90 * time.Minute)
	if err := db.FinishSession(ctx, sid, ended, 0); err != nil {
		t.Fatalf("finish session: %v", err)
	}
	if err := db.UpdateSessionOutputPath(ctx, sid, "/tmp/alpha.mp4"); err != nil {
		t.Fatalf("update output path: %v", err)
	}

	sessions, _ = db.ListSessions(ctx, 0, 10)
	if len(sessions) != 1 {
		t.Fatalf("list all sessions: %d", len(sessions))
	}
	got := sessions[0]
	if !got.EndedAt.Valid || got.ExitCode.Int64 != 0 || got.OutputPath != "/tmp/alpha.mp4" {
		t.Fatalf("unexpected finished session: %+v", got)
	}
}

func TestMetaAndSettings(t *testing.T) {
	db := open(t)
	ctx := context.Background()

	v, err := db.GetMeta(ctx, "missing")
	if err != nil || v != "" {
		t.Fatalf("missing meta should be empty: %q %v", v, err)
	}
	if err := db.SetMeta(ctx, "schema_version", "1"); err != nil {
		t.Fatalf("set meta: %v", err)
	}
	if err := db.SetMeta(ctx, "schema_version", "2"); err != nil {
		t.Fatalf("set meta upsert: %v", err)
	}
	v, _ = db.GetMeta(ctx, "schema_version")
	if v != "2" {
		t.Fatalf("expected 2, got %q", v)
	}

	if err := db.SetSetting(ctx, "poll_interval", "45s"); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	m, err := db.ListSettings(ctx)
	if err != nil || m["poll_interval"] != "45s" {
		t.Fatalf("list settings: %v %+v", err, m)
	}
}
