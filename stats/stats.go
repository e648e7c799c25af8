// Package stats provides the completion-stat aggregator and quest progress
// tracker consumed by the mission-completion saga.
//
// The aggregator's counters have no true inverse: the saga treats them as
// best-effort reversible via Snapshot/Restore, and the steps that call them
// are optional. The quest tracker exposes no inverse at all.
package stats

import "context"

// Snapshot is a point-in-time copy of an actor's counters, taken before a
// completion is recorded so a rolled-back saga can restore them.
type Snapshot struct {
	Completions      int64
	GuildCompletions int64
}

// Achievement is a threshold condition over the completion counters.
type Achievement struct {
	ID        string
	Title     string
	Threshold int64  // completions required
	Guild     bool   // counts guild completions instead of all completions
	Source    string // restrict to one data source tag; empty matches any
}

// DefaultAchievements returns the built-in achievement set.
func DefaultAchievements() []Achievement {
	return []Achievement{
		{ID: "first-steps", Title: "First Steps", Threshold: 1},
		{ID: "regular", Title: "Regular", Threshold: 10},
		{ID: "veteran", Title: "Veteran", Threshold: 100},
		{ID: "team-player", Title: "Team Player", Threshold: 1, Guild: true},
		{ID: "guild-pillar", Title: "Guild Pillar", Threshold: 25, Guild: true},
	}
}

// Recorder is the aggregator contract consumed by the completion saga.
type Recorder interface {
	// Snapshot copies the actor's current counters.
	Snapshot(ctx context.Context, actorID string) (*Snapshot, error)

	// Restore writes a previously taken snapshot back. Best effort: a
	// concurrent completion recorded between Snapshot and Restore is lost.
	Restore(ctx context.Context, actorID string, snap *Snapshot) error

	// RecordCompletion increments the actor's counters.
	RecordCompletion(ctx context.Context, actorID string, guildMission bool) error

	// CheckAchievements evaluates the achievement set against the actor's
	// counters and returns the newly unlocked achievements. Already
	// unlocked achievements are not returned again.
	CheckAchievements(ctx context.Context, actorID, source string) ([]Achievement, error)
}

// Tracker is the quest progress contract. It exposes no inverse; callers
// treat increments as uncompensated.
type Tracker interface {
	IncrementProgress(ctx context.Context, actorID, action string, amount int64) error
}
