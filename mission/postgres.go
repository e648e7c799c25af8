package mission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3/health"
)

/*
PostgreSQL Schema:

CREATE TABLE missions (
    id       VARCHAR(36) PRIMARY KEY,
    title    VARCHAR(255) NOT NULL,
    guild_id VARCHAR(36),
    base_xp  BIGINT NOT NULL,
    guild_xp BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE executions (
    id           VARCHAR(36) PRIMARY KEY,
    mission_id   VARCHAR(36) NOT NULL REFERENCES missions(id),
    actor_id     VARCHAR(36) NOT NULL,
    status       VARCHAR(32) NOT NULL,
    started_at   TIMESTAMP NOT NULL,
    completed_at TIMESTAMP,
    awarded_xp   BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE pinned_instances (
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
);

CREATE TABLE participants (
    mission_id  VARCHAR(36) NOT NULL REFERENCES missions(id),
    actor_id    VARCHAR(36) NOT NULL,
    guild_id    VARCHAR(36),
    completions BIGINT NOT NULL DEFAULT 0,
    updated_at  TIMESTAMP NOT NULL,
    PRIMARY KEY (mission_id, actor_id)
);

CREATE INDEX idx_executions_actor ON executions(actor_id);
CREATE INDEX idx_pinned_instances_actor ON pinned_instances(actor_id, status, completed_at);
*/

// PostgresStore is a PostgreSQL-backed implementation of the mission
// stores. The conditional completion updates carry the expected status in
// their WHERE clause, so of two racing completions exactly one wins.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL mission store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Mission returns a mission by ID.
func (s *PostgresStore) Mission(ctx context.Context, id string) (*Mission, error) {
	query := `
		SELECT id, title, COALESCE(guild_id, ''), base_xp, guild_xp
		FROM missions
		WHERE id = $1
	`

	m := &Mission{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID,
		&m.Title,
		&m.GuildID,
		&m.BaseXP,
		&m.GuildXP,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query mission: %w", err)
	}
	return m, nil
}

// Execution returns an execution by ID.
func (s *PostgresStore) Execution(ctx context.Context, id string) (*Execution, error) {
	query := `
		SELECT id, mission_id, actor_id, status, started_at, completed_at, awarded_xp
		FROM executions
		WHERE id = $1
	`

	e := &Execution{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&e.ID,
		&e.MissionID,
		&e.ActorID,
		&e.Status,
		&e.StartedAt,
		&e.CompletedAt,
		&e.AwardedXP,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return e, nil
}

// CompleteExecution transitions an execution conditionally on its current
// status.
func (s *PostgresStore) CompleteExecution(ctx context.Context, id string, from, to ExecutionStatus, completedAt time.Time, awardedXP int64) error {
	update := `
		UPDATE executions
		SET status = $3, completed_at = $4, awarded_xp = $5
		WHERE id = $1 AND status = $2
	`

	res, err := s.db.ExecContext(ctx, update, id, from, to, completedAt, awardedXP)
	if err != nil {
		return fmt.Errorf("complete execution: %w", err)
	}
	return s.checkConditional(ctx, res, "executions", id)
}

// SetExecutionStatus rewrites the status and clears the completion fields.
func (s *PostgresStore) SetExecutionStatus(ctx context.Context, id string, status ExecutionStatus) error {
	update := `
		UPDATE executions
		SET status = $2, completed_at = NULL, awarded_xp = 0
		WHERE id = $1
	`

	res, err := s.db.ExecContext(ctx, update, id, status)
	if err != nil {
		return fmt.Errorf("set execution status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Instance returns an instance by ID.
func (s *PostgresStore) Instance(ctx context.Context, id string) (*PinnedInstance, error) {
	query := `
		SELECT id, mission_id, actor_id, seq, status, due_at, started_at,
		       completed_at, awarded_xp, COALESCE(feed_entry_id, '')
		FROM pinned_instances
		WHERE id = $1
	`

	inst := &PinnedInstance{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&inst.ID,
		&inst.MissionID,
		&inst.ActorID,
		&inst.Seq,
		&inst.Status,
		&inst.DueAt,
		&inst.StartedAt,
		&inst.CompletedAt,
		&inst.AwardedXP,
		&inst.FeedEntryID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query instance: %w", err)
	}
	return inst, nil
}

// CompleteInstance transitions an instance conditionally on its current
// status.
func (s *PostgresStore) CompleteInstance(ctx context.Context, id string, from, to InstanceStatus, completedAt time.Time, awardedXP int64) error {
	update := `
		UPDATE pinned_instances
		SET status = $3, completed_at = $4, awarded_xp = $5
		WHERE id = $1 AND status = $2
	`

	res, err := s.db.ExecContext(ctx, update, id, from, to, completedAt, awardedXP)
	if err != nil {
		return fmt.Errorf("complete instance: %w", err)
	}
	return s.checkConditional(ctx, res, "pinned_instances", id)
}

// SetInstanceStatus rewrites the status and clears the completion fields.
func (s *PostgresStore) SetInstanceStatus(ctx context.Context, id string, status InstanceStatus) error {
	update := `
		UPDATE pinned_instances
		SET status = $2, completed_at = NULL, awarded_xp = 0
		WHERE id = $1
	`

	res, err := s.db.ExecContext(ctx, update, id, status)
	if err != nil {
		return fmt.Errorf("set instance status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetInstanceFeedEntry records or clears the linked feed entry.
func (s *PostgresStore) SetInstanceFeedEntry(ctx context.Context, id, feedEntryID string) error {
	update := `
		UPDATE pinned_instances
		SET feed_entry_id = NULLIF($2, '')
		WHERE id = $1
	`

	res, err := s.db.ExecContext(ctx, update, id, feedEntryID)
	if err != nil {
		return fmt.Errorf("set instance feed entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// MaxSeq returns the highest sequence number among an actor's instances of
// one mission.
func (s *PostgresStore) MaxSeq(ctx context.Context, missionID, actorID string) (int, error) {
	query := `
		SELECT COALESCE(MAX(seq), 0)
		FROM pinned_instances
		WHERE mission_id = $1 AND actor_id = $2
	`

	var max int
	if err := s.db.QueryRowContext(ctx, query, missionID, actorID).Scan(&max); err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	return max, nil
}

// CountCompletedOn counts the actor's instances completed on the given UTC
// calendar day.
func (s *PostgresStore) CountCompletedOn(ctx context.Context, actorID string, day time.Time) (int, error) {
	dayStart := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)

	query := `
		SELECT COUNT(*)
		FROM pinned_instances
		WHERE actor_id = $1 AND status = $2
		  AND completed_at >= $3 AND completed_at < $4
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, actorID, InstanceDone, dayStart, dayStart.Add(24*time.Hour)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count completed: %w", err)
	}
	return count, nil
}

// SaveInstance inserts or replaces an instance.
func (s *PostgresStore) SaveInstance(ctx context.Context, inst *PinnedInstance) error {
	upsert := `
		INSERT INTO pinned_instances
			(id, mission_id, actor_id, seq, status, due_at, started_at, completed_at, awarded_xp, feed_entry_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''))
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			due_at = EXCLUDED.due_at,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			awarded_xp = EXCLUDED.awarded_xp,
			feed_entry_id = EXCLUDED.feed_entry_id
	`

	_, err := s.db.ExecContext(ctx, upsert,
		inst.ID,
		inst.MissionID,
		inst.ActorID,
		inst.Seq,
		inst.Status,
		inst.DueAt,
		inst.StartedAt,
		inst.CompletedAt,
		inst.AwardedXP,
		inst.FeedEntryID,
	)
	if err != nil {
		return fmt.Errorf("save instance: %w", err)
	}
	return nil
}

// DeleteInstance removes an instance by ID.
func (s *PostgresStore) DeleteInstance(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pinned_instances WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Participant returns the membership record for one actor on one mission.
func (s *PostgresStore) Participant(ctx context.Context, missionID, actorID string) (*Participant, error) {
	query := `
		SELECT mission_id, actor_id, COALESCE(guild_id, ''), completions, updated_at
		FROM participants
		WHERE mission_id = $1 AND actor_id = $2
	`

	p := &Participant{}
	err := s.db.QueryRowContext(ctx, query, missionID, actorID).Scan(
		&p.MissionID,
		&p.ActorID,
		&p.GuildID,
		&p.Completions,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query participant: %w", err)
	}
	return p, nil
}

// SetCompletions rewrites the actor's completion counter for the mission.
func (s *PostgresStore) SetCompletions(ctx context.Context, missionID, actorID string, completions int64) error {
	upsert := `
		INSERT INTO participants (mission_id, actor_id, completions, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (mission_id, actor_id) DO UPDATE SET
			completions = EXCLUDED.completions,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, upsert, missionID, actorID, completions, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set completions: %w", err)
	}
	return nil
}

// checkConditional classifies a conditional update that touched no rows:
// a missing row is ErrNotFound, an existing row whose status did not match
// is ErrStatusConflict.
func (s *PostgresStore) checkConditional(ctx context.Context, res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table)
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return fmt.Errorf("check row: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusConflict
}

// Health performs a connectivity check against PostgreSQL.
func (s *PostgresStore) Health(ctx context.Context) *health.Result {
	start := time.Now()

	if err := s.db.PingContext(ctx); err != nil {
		return &health.Result{
			Status:    health.StatusUnhealthy,
			Message:   fmt.Sprintf("postgres connectivity failed: %v", err),
			Latency:   time.Since(start),
			CheckedAt: start,
		}
	}

	return &health.Result{
		Status:    health.StatusHealthy,
		Latency:   time.Since(start),
		CheckedAt: start,
	}
}

// Compile-time checks
var (
	_ MissionStore     = (*PostgresStore)(nil)
	_ ExecutionStore   = (*PostgresStore)(nil)
	_ InstanceStore    = (*PostgresStore)(nil)
	_ ParticipantStore = (*PostgresStore)(nil)
	_ health.Checker   = (*PostgresStore)(nil)
)
