//go:build integration

package mission

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

// getPostgresDB creates a PostgreSQL connection for integration tests.
// Set POSTGRES_URI environment variable to override the default connection string.
func getPostgresDB(t *testing.T) *sql.DB {
	t.Helper()

	uri := os.Getenv("POSTGRES_URI")
	if uri == "" {
		uri = "postgres://localhost:5432/test?sslmode=disable"
	}

	db, err := sql.Open("postgres", uri)
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("PostgreSQL not available: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func createMissionTables(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx := context.Background()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS missions (
			id       VARCHAR(36) PRIMARY KEY,
			title    VARCHAR(255) NOT NULL,
			guild_id VARCHAR(36),
			base_xp  BIGINT NOT NULL,
			guild_xp BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id           VARCHAR(36) PRIMARY KEY,
			mission_id   VARCHAR(36) NOT NULL REFERENCES missions(id),
			actor_id     VARCHAR(36) NOT NULL,
			status       VARCHAR(32) NOT NULL,
			started_at   TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			awarded_xp   BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS pinned_instances (
			id            VARCHAR(36) PRIMARY KEY,
			mission_id    VARCHAR(36) NOT NULL REFERENCES missions(id),
			actor_id      VARCHAR(36) NOT NULL,
			seq           INT NOT NULL,
			status        VARCHAR(32) NOT NULL,
			due_at        TIMESTAMP NOT NULL,
			started_at    TIMESTAMP,
			completed_at  TIMESTAMP,
			awarded_xp    BIGINT NOT NULL DEFAULT 0,
			feed_entry_id VARCHAR(36),
			UNIQUE (mission_id, actor_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS participants (
			mission_id  VARCHAR(36) NOT NULL REFERENCES missions(id),
			actor_id    VARCHAR(36) NOT NULL,
			guild_id    VARCHAR(36),
			completions BIGINT NOT NULL DEFAULT 0,
			updated_at  TIMESTAMP NOT NULL,
			PRIMARY KEY (mission_id, actor_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("Create table failed: %v", err)
		}
	}

	t.Cleanup(func() {
		db.Exec("DROP TABLE IF EXISTS participants")
		db.Exec("DROP TABLE IF EXISTS pinned_instances")
		db.Exec("DROP TABLE IF EXISTS executions")
		db.Exec("DROP TABLE IF EXISTS missions")
	})
}

func TestPostgresStoreIntegration(t *testing.T) {
	db := getPostgresDB(t)
	createMissionTables(t, db)

	ctx := context.Background()
	store := NewPostgresStore(db)

	_, err := db.ExecContext(ctx, `INSERT INTO missions (id, title, base_xp, guild_xp) VALUES ('m-1', 'Clear the cellar', 100, 0)`)
	if err != nil {
		t.Fatalf("Seed mission failed: %v", err)
	}

	t.Run("Mission", func(t *testing.T) {
		m, err := store.Mission(ctx, "m-1")
		if err != nil {
			t.Fatalf("Mission failed: %v", err)
		}
		if m.BaseXP != 100 {
			t.Errorf("expected base 100, got %d", m.BaseXP)
		}

		if _, err := store.Mission(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("CompleteExecution conditional", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Microsecond)
		_, err := db.ExecContext(ctx, `INSERT INTO executions (id, mission_id, actor_id, status, started_at) VALUES ('exec-1', 'm-1', 'actor-1', 'in_progress', $1)`, now)
		if err != nil {
			t.Fatalf("Seed execution failed: %v", err)
		}

		if err := store.CompleteExecution(ctx, "exec-1", ExecutionInProgress, ExecutionCompleted, now, 100); err != nil {
			t.Fatalf("CompleteExecution failed: %v", err)
		}

		// Second transition must lose the race.
		err = store.CompleteExecution(ctx, "exec-1", ExecutionInProgress, ExecutionCompleted, now, 100)
		if !errors.Is(err, ErrStatusConflict) {
			t.Errorf("expected ErrStatusConflict, got %v", err)
		}

		err = store.CompleteExecution(ctx, "missing", ExecutionInProgress, ExecutionCompleted, now, 100)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		if err := store.SetExecutionStatus(ctx, "exec-1", ExecutionInProgress); err != nil {
			t.Fatalf("SetExecutionStatus failed: %v", err)
		}
		exec, err := store.Execution(ctx, "exec-1")
		if err != nil {
			t.Fatalf("Execution failed: %v", err)
		}
		if exec.Status != ExecutionInProgress || exec.CompletedAt != nil || exec.AwardedXP != 0 {
			t.Errorf("compensation did not clear completion fields: %+v", exec)
		}
	})

	t.Run("Instances", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Microsecond)
		inst := &PinnedInstance{
			ID:        "inst-1",
			MissionID: "m-1",
			ActorID:   "actor-1",
			Seq:       1,
			Status:    InstancePending,
			DueAt:     now,
		}
		if err := store.SaveInstance(ctx, inst); err != nil {
			t.Fatalf("SaveInstance failed: %v", err)
		}

		if err := store.CompleteInstance(ctx, "inst-1", InstancePending, InstanceDone, now, 150); err != nil {
			t.Fatalf("CompleteInstance failed: %v", err)
		}
		if err := store.SetInstanceFeedEntry(ctx, "inst-1", "feed-1"); err != nil {
			t.Fatalf("SetInstanceFeedEntry failed: %v", err)
		}

		got, err := store.Instance(ctx, "inst-1")
		if err != nil {
			t.Fatalf("Instance failed: %v", err)
		}
		if got.Status != InstanceDone || got.AwardedXP != 150 || got.FeedEntryID != "feed-1" {
			t.Errorf("unexpected instance: %+v", got)
		}

		max, err := store.MaxSeq(ctx, "m-1", "actor-1")
		if err != nil {
			t.Fatalf("MaxSeq failed: %v", err)
		}
		if max != 1 {
			t.Errorf("expected max seq 1, got %d", max)
		}

		count, err := store.CountCompletedOn(ctx, "actor-1", now)
		if err != nil {
			t.Fatalf("CountCompletedOn failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 completion today, got %d", count)
		}

		if err := store.DeleteInstance(ctx, "inst-1"); err != nil {
			t.Fatalf("DeleteInstance failed: %v", err)
		}
		if err := store.DeleteInstance(ctx, "inst-1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Participants", func(t *testing.T) {
		if err := store.SetCompletions(ctx, "m-1", "actor-1", 1); err != nil {
			t.Fatalf("SetCompletions failed: %v", err)
		}
		if err := store.SetCompletions(ctx, "m-1", "actor-1", 2); err != nil {
			t.Fatalf("SetCompletions upsert failed: %v", err)
		}

		p, err := store.Participant(ctx, "m-1", "actor-1")
		if err != nil {
			t.Fatalf("Participant failed: %v", err)
		}
		if p.Completions != 2 {
			t.Errorf("expected 2 completions, got %d", p.Completions)
		}
	})
}
