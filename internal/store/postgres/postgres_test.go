package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/streamwatch/internal/store"
)

func TestPostgresStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := pgcontainer.Run(ctx,
		"postgres:15-alpine",
		pgcontainer.WithDatabase("testdb"),
		pgcontainer.WithUsername("testuser"),
		pgcontainer.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	db, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	tid, err := db.AddTarget(ctx, store.Target{Address: "https://twitch.tv/alpha", Name: "alpha", Enabled: true})
	if err != nil {
		t.Fatalf("add target: %v", err)
	}
	enabled, err := db.ListEnabledTargets(ctx)
	if err != nil || len(enabled) != 1 {
		t.Fatalf("list enabled: %v (%d)", err, len(enabled))
	}

	sid, err := db.InsertSession(ctx, store.Session{
		TargetID: tid, PID: 77, Quality: "best",
		OutputPath: "/tmp/alpha.ts", StartedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("insert session: %v", err)
	}
	if err := db.FinishSession(ctx, sid, time.Now().UTC(), 130); err != nil {
		t.Fatalf("finish session: %v", err)
	}
	if err := db.UpdateSessionOutputPath(ctx, sid, "/tmp/alpha.mp4"); err != nil {
		t.Fatalf("update output path: %v", err)
	}
	sessions, err := db.ListSessions(ctx, tid, 10)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("list sessions: %v (%d)", err, len(sessions))
	}
	if !sessions[0].ExitCode.Valid || sessions[0].ExitCode.Int64 != 130 {
		t.Fatalf("unexpected exit code: %+v", sessions[0].ExitCode)
	}

	if err := db.SetSetting(ctx, "max_concurrent", "3"); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	settings, err := db.ListSettings(ctx)
	if err != nil || settings["max_concurrent"] != "3" {
		t.Fatalf("list settings: %v %+v", err, settings)
	}
}
