// Package mission implements mission completion as a compensating saga.
//
// Completing a mission touches several independently-committed stores: the
// actor's experience ledger, optionally the guild's ledger, the social
// feed, progress counters, the achievement aggregator and a notification
// channel. No single transaction spans them, so completion runs as a saga:
// each store is updated by its own step, and a failed mandatory step rolls
// the earlier ones back.
//
// Two workflows share the step contract:
//
//   - ExecutionCompleter finishes an ad-hoc mission execution.
//   - PinnedCompleter finishes one occurrence of a recurring ("pinned")
//     mission and spawns the next occurrence, subject to a daily limit.
package mission

import "time"

// ExecutionStatus is the lifecycle state of an ad-hoc execution.
type ExecutionStatus string

const (
	ExecutionInProgress ExecutionStatus = "in_progress"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionMissed     ExecutionStatus = "missed"
)

// InstanceStatus is the lifecycle state of a pinned instance.
type InstanceStatus string

const (
	InstancePending InstanceStatus = "pending"
	InstanceDone    InstanceStatus = "done"
	InstanceSkipped InstanceStatus = "skipped"
)

// Experience source tags recorded on ledger entries.
const (
	SourceMission       = "mission"
	SourcePinnedMission = "pinned_mission"
)

// Mission is a mission definition. BaseXP must be positive.
type Mission struct {
	ID      string
	Title   string
	GuildID string // empty for solo missions
	BaseXP  int64
	GuildXP int64 // granted to the guild on completion of a guild mission
}

// IsGuildMission reports whether completions contribute to a guild.
func (m *Mission) IsGuildMission() bool {
	return m.GuildID != ""
}

// Execution is one ad-hoc run of a mission by an actor.
type Execution struct {
	ID          string
	MissionID   string
	ActorID     string
	Status      ExecutionStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	AwardedXP   int64
}

// PinnedInstance is one occurrence of a recurring mission. Completing an
// instance spawns its successor with the next sequence number.
type PinnedInstance struct {
	ID          string
	MissionID   string
	ActorID     string
	Seq         int
	Status      InstanceStatus
	DueAt       time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	AwardedXP   int64
	FeedEntryID string // set when the completion was shared to the feed
}

// Participant is an actor's membership record for one mission.
type Participant struct {
	MissionID   string
	ActorID     string
	GuildID     string
	Completions int64
	UpdatedAt   time.Time
}

// ExecutionXP returns the experience awarded for completing an ad-hoc
// execution.
func ExecutionXP(m *Mission) int64 {
	return m.BaseXP
}

// InstanceXP returns the duration-based experience awarded for completing
// a pinned instance: the base amount plus a quarter of the base per full
// 15 minutes spent, with the bonus capped at the base amount.
func InstanceXP(m *Mission, duration time.Duration) int64 {
	if duration < 0 {
		duration = 0
	}
	quarters := int64(duration / (15 * time.Minute))
	bonus := quarters * m.BaseXP / 4
	if bonus > m.BaseXP {
		bonus = m.BaseXP
	}
	return m.BaseXP + bonus
}
