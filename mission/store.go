package mission

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a mission, execution, instance or
	// participant does not exist.
	ErrNotFound = errors.New("mission: not found")

	// ErrStatusConflict is returned by the conditional status transitions
	// when the stored status no longer matches the expected one, e.g. when
	// two completions race for the same execution.
	ErrStatusConflict = errors.New("mission: status conflict")
)

// MissionStore provides read access to mission definitions.
type MissionStore interface {
	// Mission returns a mission by ID.
	Mission(ctx context.Context, id string) (*Mission, error)
}

// ExecutionStore persists ad-hoc executions.
type ExecutionStore interface {
	// Execution returns an execution by ID.
	Execution(ctx context.Context, id string) (*Execution, error)

	// CompleteExecution transitions an execution from one status to another
	// and records the completion time and awarded amount. The update is
	// conditional on the current status: if the row exists but its status
	// is not from, ErrStatusConflict is returned and nothing changes.
	CompleteExecution(ctx context.Context, id string, from, to ExecutionStatus, completedAt time.Time, awardedXP int64) error

	// SetExecutionStatus unconditionally rewrites the status and clears the
	// completion fields. Used by compensation.
	SetExecutionStatus(ctx context.Context, id string, status ExecutionStatus) error
}

// InstanceStore persists pinned instances.
type InstanceStore interface {
	// Instance returns an instance by ID.
	Instance(ctx context.Context, id string) (*PinnedInstance, error)

	// CompleteInstance transitions an instance from one status to another
	// and records the completion time and awarded amount, conditional on
	// the current status like CompleteExecution.
	CompleteInstance(ctx context.Context, id string, from, to InstanceStatus, completedAt time.Time, awardedXP int64) error

	// SetInstanceStatus unconditionally rewrites the status and clears the
	// completion fields. Used by compensation.
	SetInstanceStatus(ctx context.Context, id string, status InstanceStatus) error

	// SetInstanceFeedEntry records or clears the feed entry linked to a
	// completed instance.
	SetInstanceFeedEntry(ctx context.Context, id, feedEntryID string) error

	// MaxSeq returns the highest sequence number among an actor's instances
	// of one mission, or 0 when there are none.
	MaxSeq(ctx context.Context, missionID, actorID string) (int, error)

	// CountCompletedOn returns how many instances the actor completed on
	// the given calendar day (UTC).
	CountCompletedOn(ctx context.Context, actorID string, day time.Time) (int, error)

	// SaveInstance inserts or replaces an instance.
	SaveInstance(ctx context.Context, inst *PinnedInstance) error

	// DeleteInstance removes an instance by ID. Used by compensation of a
	// spawned successor.
	DeleteInstance(ctx context.Context, id string) error
}

// ParticipantStore persists per-mission membership records.
type ParticipantStore interface {
	// Participant returns the membership record for one actor on one
	// mission.
	Participant(ctx context.Context, missionID, actorID string) (*Participant, error)

	// SetCompletions rewrites the actor's completion counter for the
	// mission, creating the record if needed.
	SetCompletions(ctx context.Context, missionID, actorID string, completions int64) error
}
